package media

// Stream groups the tracks obtained by one capture request.
type Stream struct {
	Audio *LocalTrack
	Video *LocalTrack
}

func NewStream(audio, video *LocalTrack) *Stream {
	return &Stream{Audio: audio, Video: video}
}

func (s *Stream) Tracks() []*LocalTrack {
	if s == nil {
		return nil
	}
	out := make([]*LocalTrack, 0, 2)
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	if s.Video != nil {
		out = append(out, s.Video)
	}
	return out
}

func (s *Stream) Start() {
	for _, t := range s.Tracks() {
		t.Start()
	}
}

// Stop ends every track; repeated calls are harmless.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

func (s *Stream) AudioEnabled() bool {
	return s != nil && s.Audio != nil && s.Audio.Enabled()
}

func (s *Stream) VideoEnabled() bool {
	return s != nil && s.Video != nil && s.Video.Enabled()
}
