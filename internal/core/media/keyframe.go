package media

import (
	"strings"

	"github.com/pion/webrtc/v3"
)

// IsKeyframePacket reports whether an RTP payload starts a keyframe for the
// given codec (VP8 or H.264). Other codecs always report false.
func IsKeyframePacket(mimeType string, payload []byte) bool {
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		return vp8PacketKeyframe(payload)
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		return h264PacketKeyframe(payload)
	}
	return false
}

// IsKeyframeFrame reports whether a complete encoded VP8 frame is a keyframe.
func IsKeyframeFrame(mimeType string, frame []byte) bool {
	if !strings.EqualFold(mimeType, webrtc.MimeTypeVP8) || len(frame) == 0 {
		return false
	}
	// P bit of the frame tag is zero for keyframes
	return frame[0]&0x01 == 0
}

func vp8PacketKeyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	desc := payload[0]
	start := desc&0x10 != 0
	pid := desc & 0x07
	if !start || pid != 0 {
		return false
	}

	offset := 1
	if desc&0x80 != 0 {
		if len(payload) <= offset {
			return false
		}
		ext := payload[offset]
		offset++
		if ext&0x80 != 0 { // PictureID
			if len(payload) <= offset {
				return false
			}
			if payload[offset]&0x80 != 0 {
				offset += 2
			} else {
				offset++
			}
		}
		if ext&0x40 != 0 { // TL0PICIDX
			offset++
		}
		if ext&0x20 != 0 || ext&0x10 != 0 { // TID / KEYIDX
			offset++
		}
	}
	if len(payload) <= offset {
		return false
	}
	return payload[offset]&0x01 == 0
}

func h264PacketKeyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	switch nal := payload[0] & 0x1f; nal {
	case 5, 7:
		return true
	case 24: // STAP-A
		for i := 1; i+2 < len(payload); {
			size := int(payload[i])<<8 | int(payload[i+1])
			i += 2
			if i >= len(payload) {
				break
			}
			if t := payload[i] & 0x1f; t == 5 || t == 7 {
				return true
			}
			i += size
		}
	case 28: // FU-A
		if len(payload) < 2 {
			return false
		}
		return payload[1]&0x80 != 0 && payload[1]&0x1f == 5
	}
	return false
}
