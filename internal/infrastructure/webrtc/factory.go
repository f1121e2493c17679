package webrtc

import (
	"context"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/config"
	"peercall/pkg/optimize"
)

const (
	dataChannelLabel = "peercall"
	dataChannelID    = uint16(0)
	rtpBufferSize    = 1500
)

type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

type Options struct {
	ICEServers []ICEServer
	PortMin    uint16
	PortMax    uint16
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		PortMin: cfg.WebRTC.PortRange.Min,
		PortMax: cfg.WebRTC.PortRange.Max,
	}
	for _, s := range cfg.WebRTC.ICEServers {
		opts.ICEServers = append(opts.ICEServers, ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(opts.ICEServers) == 0 {
		opts.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return opts
}

// PeerFactory builds pion peer connections sharing one API instance.
type PeerFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	pool   *optimize.BytePool
	logger *zap.SugaredLogger
}

var _ ports.PeerFactory = (*PeerFactory)(nil)

func NewPeerFactory(opts Options, logger *zap.SugaredLogger) (*PeerFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}
	if err := m.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI},
		webrtc.RTPCodecTypeAudio,
	); err != nil {
		return nil, fmt.Errorf("failed to register audio level extension: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if opts.PortMin > 0 && opts.PortMax > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(opts.PortMin, opts.PortMax); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	iceServers := make([]webrtc.ICEServer, 0, len(opts.ICEServers))
	for _, s := range opts.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		iceServers = append(iceServers, server)
	}

	return &PeerFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithSettingEngine(settingEngine),
			webrtc.WithInterceptorRegistry(registry),
		),
		config: webrtc.Configuration{
			ICEServers:   iceServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		},
		pool:   optimize.NewBytePool(rtpBufferSize),
		logger: logger,
	}, nil
}

// NewPeer creates a connection to participant with the negotiated data
// channel already attached. ctx bounds the lifetime of the connection's
// background readers.
func (f *PeerFactory) NewPeer(ctx context.Context, participant domain.ParticipantID) (ports.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	negotiated := true
	id := dataChannelID
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	peer := newPeer(ctx, participant, pc, dc, f.pool, f.logger.With("participant_id", participant))
	f.logger.Debugw("peer connection created", "participant_id", participant)
	return peer, nil
}
