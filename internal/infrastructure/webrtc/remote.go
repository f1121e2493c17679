package webrtc

import (
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"

	"peercall/internal/core/media"
)

const keyframeRequestInterval = 2 * time.Second

func (p *Peer) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := media.KindFromCodecType(track.Kind())
	rt := media.NewRemoteTrack(string(p.participant), track.ID(), kind, track.Codec())

	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		rt.End()
		return
	}
	p.remotes = append(p.remotes, rt)
	fn := p.onRemoteTrack
	p.mu.Unlock()

	p.logger.Infow("remote track started",
		"track_id", track.ID(),
		"kind", kind,
		"codec", track.Codec().MimeType,
	)

	levelExt := 0
	if kind == media.KindAudio {
		for _, ext := range receiver.GetParameters().HeaderExtensions {
			if ext.URI == sdp.AudioLevelURI {
				levelExt = ext.ID
			}
		}
	}

	if fn != nil {
		fn(rt)
	}
	go p.readTrack(track, rt, levelExt)
}

// readTrack pumps RTP from pion into the remote track until the connection
// closes. Video tracks request keyframes until the first one arrives.
func (p *Peer) readTrack(track *webrtc.TrackRemote, rt *media.RemoteTrack, levelExt int) {
	defer rt.End()

	buf := p.pool.Get()
	defer p.pool.Put(buf)

	video := rt.Kind() == media.KindVideo
	mime := track.Codec().MimeType
	awaitingKeyframe := video
	var lastPLI time.Time

	pkt := &rtp.Packet{}
	for {
		if awaitingKeyframe && time.Since(lastPLI) >= keyframeRequestInterval {
			p.requestKeyframe(track)
			lastPLI = time.Now()
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if p.ctx.Err() == nil {
				p.logger.Debugw("remote track ended", "track_id", track.ID(), "error", err)
			}
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			p.logger.Warnw("error unmarshaling RTP packet", "track_id", track.ID(), "error", err)
			continue
		}
		p.loss.observe(uint32(track.SSRC()), pkt.SequenceNumber)

		if levelExt != 0 {
			if raw := pkt.GetExtension(uint8(levelExt)); raw != nil {
				var level rtp.AudioLevelExtension
				if err := level.Unmarshal(raw); err == nil {
					rt.Meter().ObserveLevel(level.Level)
				}
			}
		}
		if awaitingKeyframe && media.IsKeyframePacket(mime, pkt.Payload) {
			awaitingKeyframe = false
		}
		rt.Deliver(pkt)
	}
}

func (p *Peer) requestKeyframe(track *webrtc.TrackRemote) {
	err := p.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
	})
	if err != nil && p.ctx.Err() == nil {
		p.logger.Debugw("failed to send PLI", "track_id", track.ID(), "error", err)
	}
}
