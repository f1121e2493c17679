package recorder

import (
	"net/http"
	"strings"

	"github.com/pion/webrtc/v3"

	"peercall/internal/core/media"
	"peercall/internal/core/ports"
	apperrors "peercall/pkg/errors"
)

type container string

const (
	containerWebM container = "webm"
	containerOgg  container = "ogg"
)

// Format is one recordable container/codec combination.
type Format struct {
	MIMEType  string
	Extension string
	container container
	// video codec required of every video source; empty accepts any
	// codec the container can carry
	videoCodec string
}

// DefaultFormats is the preference order used when none is configured.
var DefaultFormats = []string{
	"video/webm;codecs=vp9,opus",
	"video/webm;codecs=vp8,opus",
	"video/webm",
	"audio/ogg;codecs=opus",
}

var knownFormats = map[string]Format{
	"video/webm;codecs=vp9,opus": {MIMEType: "video/webm;codecs=vp9,opus", Extension: "webm", container: containerWebM, videoCodec: webrtc.MimeTypeVP9},
	"video/webm;codecs=vp8,opus": {MIMEType: "video/webm;codecs=vp8,opus", Extension: "webm", container: containerWebM, videoCodec: webrtc.MimeTypeVP8},
	"video/webm":                 {MIMEType: "video/webm", Extension: "webm", container: containerWebM},
	"audio/ogg;codecs=opus":      {MIMEType: "audio/ogg;codecs=opus", Extension: "ogg", container: containerOgg},
}

func normalizeMIME(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", ""))
}

// LookupFormat resolves a MIME type string, ignoring case and spaces.
func LookupFormat(mime string) (Format, bool) {
	f, ok := knownFormats[normalizeMIME(mime)]
	return f, ok
}

// webmCodecs lists the codecs the WebM muxer can write.
var webmCodecs = map[string]string{
	strings.ToLower(webrtc.MimeTypeVP8):  "V_VP8",
	strings.ToLower(webrtc.MimeTypeVP9):  "V_VP9",
	strings.ToLower(webrtc.MimeTypeOpus): "A_OPUS",
}

func matroskaCodec(mime string) (string, bool) {
	id, ok := webmCodecs[strings.ToLower(mime)]
	return id, ok
}

type sourceCodec struct {
	kind media.Kind
	mime string
}

func sourceCodecs(sources ports.RecordingSources) []sourceCodec {
	out := make([]sourceCodec, 0, len(sources.Local)+len(sources.Remote))
	for _, t := range sources.Local {
		out = append(out, sourceCodec{kind: t.Kind(), mime: t.Codec().MimeType})
	}
	for _, t := range sources.Remote {
		out = append(out, sourceCodec{kind: t.Kind(), mime: t.Codec().MimeType})
	}
	return out
}

// Supports reports whether the format can carry the sources.
func (f Format) Supports(sources ports.RecordingSources) bool {
	codecs := sourceCodecs(sources)
	switch f.container {
	case containerOgg:
		for _, c := range codecs {
			if c.kind == media.KindAudio && strings.EqualFold(c.mime, webrtc.MimeTypeOpus) {
				return true
			}
		}
		return false

	case containerWebM:
		usable := 0
		for _, c := range codecs {
			if _, ok := matroskaCodec(c.mime); !ok {
				continue
			}
			if c.kind == media.KindVideo && f.videoCodec != "" && !strings.EqualFold(c.mime, f.videoCodec) {
				return false
			}
			usable++
		}
		return usable > 0
	}
	return false
}

// SelectFormat returns the first preference that supports the sources.
func SelectFormat(preferences []string, sources ports.RecordingSources) (Format, error) {
	if len(preferences) == 0 {
		preferences = DefaultFormats
	}
	for _, pref := range preferences {
		f, ok := LookupFormat(pref)
		if !ok {
			continue
		}
		if f.Supports(sources) {
			return f, nil
		}
	}
	return Format{}, apperrors.NewAppError(apperrors.ErrCodeUnsupportedFormat, "no supported recording format", http.StatusUnprocessableEntity).
		WithContext("preferences", preferences)
}
