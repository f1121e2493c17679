package recorder

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"

	"peercall/internal/core/media"
)

const (
	defaultVideoWidth  = 640
	defaultVideoHeight = 480
	// video tracks that never deliver a keyframe stop holding up the
	// container header after this long
	headerWait = 2 * time.Second
)

type trackInfo struct {
	kind      media.Kind
	mime      string
	clockRate uint32
	channels  uint16
}

type muxer interface {
	WriteFrame(track int, keyframe bool, ts time.Duration, frame []byte) error
	Close() error
}

func newMuxer(f Format, out io.WriteCloser, tracks []trackInfo) (muxer, error) {
	switch f.container {
	case containerWebM:
		return newWebMMuxer(out, tracks), nil
	case containerOgg:
		return newOggMuxer(out, tracks)
	}
	return nil, fmt.Errorf("unknown container %q", f.container)
}

// webmMuxer defers the Matroska header until each video track has shown a
// keyframe, so pixel dimensions are known. Earlier delta frames are dropped.
type webmMuxer struct {
	mu      sync.Mutex
	out     io.WriteCloser
	tracks  []trackInfo
	dims    map[int][2]int
	writers map[int]webm.BlockWriteCloser
	first   time.Duration
	started bool
	closed  bool
}

func newWebMMuxer(out io.WriteCloser, tracks []trackInfo) *webmMuxer {
	return &webmMuxer{
		out:    out,
		tracks: tracks,
		dims:   make(map[int][2]int),
		first:  -1,
	}
}

func (m *webmMuxer) WriteFrame(track int, keyframe bool, ts time.Duration, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || track < 0 || track >= len(m.tracks) {
		return nil
	}
	if _, ok := matroskaCodec(m.tracks[track].mime); !ok {
		return nil
	}
	if m.first < 0 {
		m.first = ts
	}

	info := m.tracks[track]
	if info.kind == media.KindVideo && keyframe {
		if _, ok := m.dims[track]; !ok {
			m.dims[track] = vp8Dimensions(info.mime, frame)
		}
	}
	if !m.started {
		if !m.ready(ts) {
			return nil
		}
		if err := m.writeHeader(); err != nil {
			return err
		}
	}

	w, ok := m.writers[track]
	if !ok {
		return nil
	}
	if _, err := w.Write(keyframe, ts.Milliseconds(), frame); err != nil {
		return fmt.Errorf("failed to write webm block: %w", err)
	}
	return nil
}

func (m *webmMuxer) ready(ts time.Duration) bool {
	if ts-m.first >= headerWait {
		return true
	}
	for i, t := range m.tracks {
		if _, ok := matroskaCodec(t.mime); !ok || t.kind != media.KindVideo {
			continue
		}
		if _, ok := m.dims[i]; !ok {
			return false
		}
	}
	return true
}

func (m *webmMuxer) writeHeader() error {
	var entries []webm.TrackEntry
	var index []int
	for i, t := range m.tracks {
		codecID, ok := matroskaCodec(t.mime)
		if !ok {
			continue
		}
		entry := webm.TrackEntry{
			Name:        fmt.Sprintf("%s-%d", t.kind, i),
			TrackNumber: uint64(len(entries) + 1),
			TrackUID:    uint64(1000 + i),
			CodecID:     codecID,
		}
		if t.kind == media.KindVideo {
			dims, ok := m.dims[i]
			if !ok {
				dims = [2]int{defaultVideoWidth, defaultVideoHeight}
			}
			entry.TrackType = 1
			entry.Video = &webm.Video{PixelWidth: uint64(dims[0]), PixelHeight: uint64(dims[1])}
		} else {
			channels := uint64(t.channels)
			if channels == 0 {
				channels = 2
			}
			entry.TrackType = 2
			entry.Audio = &webm.Audio{SamplingFrequency: float64(t.clockRate), Channels: channels}
		}
		entries = append(entries, entry)
		index = append(index, i)
	}

	ws, err := webm.NewSimpleBlockWriter(m.out, entries)
	if err != nil {
		return fmt.Errorf("failed to start webm writer: %w", err)
	}
	m.writers = make(map[int]webm.BlockWriteCloser, len(ws))
	for n, w := range ws {
		m.writers[index[n]] = w
	}
	m.started = true
	return nil
}

func (m *webmMuxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if !m.started {
		return m.out.Close()
	}
	var firstErr error
	for _, w := range m.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// vp8Dimensions reads width and height from a VP8 keyframe header.
func vp8Dimensions(mime string, frame []byte) [2]int {
	if !strings.EqualFold(mime, webrtc.MimeTypeVP8) || len(frame) < 10 || frame[3] != 0x9d || frame[4] != 0x01 || frame[5] != 0x2a {
		return [2]int{defaultVideoWidth, defaultVideoHeight}
	}
	w := int(binary.LittleEndian.Uint16(frame[6:]) & 0x3fff)
	h := int(binary.LittleEndian.Uint16(frame[8:]) & 0x3fff)
	return [2]int{w, h}
}

// oggMuxer writes the first Opus track only.
type oggMuxer struct {
	mu     sync.Mutex
	out    io.WriteCloser
	writer *oggwriter.OggWriter
	track  int
	rate   uint32
	seq    uint16
	closed bool
}

func newOggMuxer(out io.WriteCloser, tracks []trackInfo) (*oggMuxer, error) {
	track := -1
	for i, t := range tracks {
		if t.kind == media.KindAudio && strings.EqualFold(t.mime, webrtc.MimeTypeOpus) {
			track = i
			break
		}
	}
	if track < 0 {
		return nil, fmt.Errorf("no opus track to record")
	}
	info := tracks[track]
	channels := info.channels
	if channels == 0 {
		channels = 2
	}
	w, err := oggwriter.NewWith(out, info.clockRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to start ogg writer: %w", err)
	}
	return &oggMuxer{out: out, writer: w, track: track, rate: info.clockRate}, nil
}

func (m *oggMuxer) WriteFrame(track int, _ bool, ts time.Duration, frame []byte) error {
	if track != m.track {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.seq++
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: m.seq,
			Timestamp:      uint32(ts.Seconds() * float64(m.rate)),
		},
		Payload: frame,
	}
	return m.writer.WriteRTP(pkt)
}

func (m *oggMuxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	// the writer only closes files it opened itself
	err := m.writer.Close()
	if cerr := m.out.Close(); err == nil {
		err = cerr
	}
	return err
}
