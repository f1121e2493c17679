package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"peercall/internal/core/domain"
	"peercall/internal/core/media"
	"peercall/internal/core/ports"
	"peercall/pkg/config"
	apperrors "peercall/pkg/errors"
	"peercall/pkg/tracing"
	"peercall/pkg/validation"
)

const seenInvitationCacheSize = 256

type CallManagerConfig struct {
	AnswerTimeout     time.Duration
	OfferTimeout      time.Duration
	PollInterval      time.Duration
	RetryMaxDelay     time.Duration
	RestartTimeout    time.Duration
	DisconnectGrace   time.Duration
	InviteWait        time.Duration
	QualityInterval   time.Duration
	Thresholds        domain.QualityThresholds
	SpeakingInterval  time.Duration
	SpeakingThreshold float64
}

func CallManagerConfigFrom(cfg *config.Config) CallManagerConfig {
	return CallManagerConfig{
		AnswerTimeout:   cfg.Call.AnswerTimeout,
		OfferTimeout:    cfg.Call.OfferTimeout,
		PollInterval:    cfg.Call.PollInterval,
		RetryMaxDelay:   cfg.Call.RetryMaxDelay,
		RestartTimeout:  cfg.Call.RestartTimeout,
		DisconnectGrace: cfg.Call.DisconnectGrace,
		InviteWait:      cfg.Call.InviteWait,
		QualityInterval: cfg.Quality.SampleInterval,
		Thresholds: domain.QualityThresholds{
			PoorLoss: cfg.Quality.PoorLoss,
			PoorRTT:  cfg.Quality.PoorRTT,
			GoodLoss: cfg.Quality.GoodLoss,
			GoodRTT:  cfg.Quality.GoodRTT,
		},
		SpeakingInterval:  cfg.Speaking.Interval,
		SpeakingThreshold: cfg.Speaking.Threshold,
	}
}

type CallManagerDeps struct {
	Self      domain.Participant
	Signaling ports.SignalingTransport
	Peers     ports.PeerFactory
	Capture   ports.CaptureDevice
	Recorder  ports.Recorder
	Metrics   ports.CallMetrics
	Logger    *zap.SugaredLogger
}

// callState is everything owned by one call session. It is detached as a
// whole on teardown.
type callState struct {
	session *domain.CallSession
	invite  *domain.Invitation
	ctx     context.Context
	cancel  context.CancelFunc
	roster  *Roster

	// guarded by CallManager.mu
	local     *media.Stream
	camera    *media.LocalTrack
	screen    *media.LocalTrack
	accepted  bool
	published []domain.SignalKey
	chat      []domain.ChatMessage

	shareMu  sync.Mutex
	monitors sync.Once
}

// CallManager owns the single active call of the local participant.
type CallManager struct {
	cfg       CallManagerConfig
	self      domain.Participant
	signaling ports.SignalingTransport
	peers     ports.PeerFactory
	capture   ports.CaptureDevice
	recorder  ports.Recorder
	metrics   ports.CallMetrics
	logger    *zap.SugaredLogger
	quality   *QualityService
	seen      *lru.Cache[domain.SessionID, struct{}]
	now       func() time.Time

	machine *StateMachine

	mu        sync.Mutex
	current   *callState
	ending    chan struct{}
	lastError string

	subsMu  sync.Mutex
	subs    map[int]chan domain.Snapshot
	nextSub int
}

var _ ports.CallService = (*CallManager)(nil)

func NewCallManager(cfg CallManagerConfig, deps CallManagerDeps) (*CallManager, error) {
	if err := deps.Self.Validate(); err != nil {
		return nil, fmt.Errorf("invalid local participant: %w", err)
	}
	if deps.Signaling == nil || deps.Peers == nil || deps.Capture == nil {
		return nil, fmt.Errorf("signaling, peer factory and capture device are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	seen, err := lru.New[domain.SessionID, struct{}](seenInvitationCacheSize)
	if err != nil {
		return nil, err
	}

	m := &CallManager{
		cfg:       cfg,
		self:      deps.Self,
		signaling: deps.Signaling,
		peers:     deps.Peers,
		capture:   deps.Capture,
		recorder:  deps.Recorder,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With("participant_id", deps.Self.ID),
		quality:   NewQualityService(cfg.Thresholds),
		seen:      seen,
		now:       time.Now,
		subs:      make(map[int]chan domain.Snapshot),
	}
	m.machine = NewStateMachine(func(from, to domain.Phase) {
		m.metrics.PhaseChanged(from, to)
		m.logger.Debugw("call phase changed", "from", from, "to", to)
	})
	return m, nil
}

func (m *CallManager) Self() domain.Participant {
	return m.self
}

func (m *CallManager) Phase() domain.Phase {
	return m.machine.Phase()
}

func (m *CallManager) newCallState(session *domain.CallSession, invite *domain.Invitation) *callState {
	ctx, cancel := context.WithCancel(context.Background())
	return &callState{
		session: session,
		invite:  invite,
		ctx:     ctx,
		cancel:  cancel,
		roster:  NewRoster(session.Group),
	}
}

func (m *CallManager) isCurrent(cs *callState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == cs
}

func (m *CallManager) active() *callState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Initiate starts a 1:1 call and returns once the answer has been applied.
func (m *CallManager) Initiate(ctx context.Context, participant domain.Participant, mode domain.CallMode) error {
	return m.initiate(ctx, []domain.Participant{participant}, mode, false)
}

// InitiateGroup invites every participant into a mesh call. It returns when
// the first peer connects; the others keep negotiating in the background.
func (m *CallManager) InitiateGroup(ctx context.Context, participants []domain.Participant, mode domain.CallMode) error {
	return m.initiate(ctx, participants, mode, true)
}

func (m *CallManager) initiate(ctx context.Context, targets []domain.Participant, mode domain.CallMode, group bool) (err error) {
	if !mode.Valid() {
		return apperrors.NewInvalidInputError(fmt.Sprintf("unknown call mode %q", mode))
	}
	ids := make([]string, 0, len(targets))
	for _, p := range targets {
		if err := p.Validate(); err != nil {
			return err
		}
		ids = append(ids, string(p.ID))
	}
	if err := validation.ValidateParticipantList(string(m.self.ID), ids); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}

	session := &domain.CallSession{
		ID:        domain.SessionID(uuid.NewString()),
		Initiator: m.self,
		Targets:   append([]domain.Participant(nil), targets...),
		Mode:      mode,
		Group:     group,
		Direction: domain.DirectionOutgoing,
		StartedAt: m.now(),
	}

	m.mu.Lock()
	if m.current != nil || m.machine.Phase() != domain.PhaseIdle {
		m.mu.Unlock()
		return domain.InvalidState(domain.ErrCallInProgress)
	}
	cs := m.newCallState(session, nil)
	if err := m.machine.Transition(domain.PhaseCalling); err != nil {
		m.mu.Unlock()
		cs.cancel()
		return domain.InvalidState(err)
	}
	m.current = cs
	m.lastError = ""
	m.mu.Unlock()

	ctx, span := tracing.TraceCall(ctx, "initiate", string(session.ID), string(mode))
	defer func() { tracing.EndSpan(span, err) }()

	m.metrics.CallStarted(mode, domain.DirectionOutgoing, group)
	m.logger.Infow("starting call", "session_id", session.ID, "mode", mode, "group", group, "targets", len(targets))
	m.publish()

	if err := m.acquireLocal(ctx, cs); err != nil {
		m.teardown(cs, "capture failed", err, true)
		return err
	}

	invite := &domain.Invitation{
		SessionID:    session.ID,
		Mode:         mode,
		Group:        group,
		Participants: append([]domain.Participant{m.self}, targets...),
		SentAt:       m.now(),
	}
	links := make([]link, 0, len(targets))
	for _, p := range targets {
		links = append(links, link{participant: p, offer: true, invite: invite, timeout: m.cfg.AnswerTimeout})
	}

	if err := m.runLinks(ctx, cs, links); err != nil {
		m.teardown(cs, "call failed", err, true)
		return err
	}
	tracing.AddSpanAttributes(ctx, tracing.PhaseKey.String(string(m.machine.Phase())))
	return nil
}

// Accept answers the ringing incoming call.
func (m *CallManager) Accept(ctx context.Context) (err error) {
	m.mu.Lock()
	cs := m.current
	if cs == nil || cs.session.Direction != domain.DirectionIncoming || m.machine.Phase() != domain.PhaseRinging || cs.accepted {
		m.mu.Unlock()
		return domain.InvalidState(domain.ErrNotRinging)
	}
	cs.accepted = true
	m.mu.Unlock()

	ctx, span := tracing.TraceCall(ctx, "accept", string(cs.session.ID), string(cs.session.Mode))
	defer func() { tracing.EndSpan(span, err) }()

	if err := m.acquireLocal(ctx, cs); err != nil {
		m.teardown(cs, "capture failed", err, true)
		return err
	}

	inviter := cs.session.Initiator
	links := []link{{participant: inviter, offer: false, timeout: m.cfg.OfferTimeout}}
	for _, p := range cs.invite.Others(m.self.ID) {
		if p.ID == inviter.ID {
			continue
		}
		links = append(links, link{
			participant: p,
			offer:       domain.ShouldOffer(m.self.ID, p.ID, inviter.ID),
			timeout:     m.cfg.AnswerTimeout,
		})
	}

	if err := m.runLinks(ctx, cs, links); err != nil {
		m.teardown(cs, "accept failed", err, true)
		return err
	}
	return nil
}

// Reject declines a ringing incoming call; on any other active call it behaves like End.
func (m *CallManager) Reject(ctx context.Context) error {
	m.mu.Lock()
	cs := m.current
	incoming := cs != nil && cs.session.Direction == domain.DirectionIncoming && m.machine.Phase() == domain.PhaseRinging && !cs.accepted
	m.mu.Unlock()
	if cs == nil {
		return domain.InvalidState(domain.ErrNoActiveCall)
	}
	if !incoming {
		return m.End(ctx)
	}

	m.decline(ctx, cs.session.ID, cs.session.Initiator.ID, "rejected")
	m.teardown(cs, "rejected", nil, true)
	return nil
}

// End hangs up. Calling it without an active call is a no-op.
func (m *CallManager) End(ctx context.Context) error {
	cs := m.active()
	if cs == nil {
		return nil
	}
	ctx, span := tracing.TraceCall(ctx, "end", string(cs.session.ID), string(cs.session.Mode))
	defer span.End()

	if m.machine.Phase() == domain.PhaseConnected {
		m.broadcast(ctx, cs, domain.NewCallEndEnvelope(m.self.ID, m.now()))
	}
	m.teardown(cs, "local hangup", nil, true)
	return nil
}

func (m *CallManager) decline(ctx context.Context, session domain.SessionID, to domain.ParticipantID, reason string) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.PollInterval*4)
	defer cancel()
	payload := domain.SignalPayload{From: m.self, Declined: true, Reason: reason}
	if err := m.signaling.Publish(ctx, domain.AnswerKey(session, to, m.self.ID, 0), payload); err != nil {
		m.logger.Warnw("failed to publish decline", "session_id", session, "to", to, "error", err)
	}
}

func (m *CallManager) acquireLocal(ctx context.Context, cs *callState) error {
	stream, err := m.capture.Acquire(ctx, cs.session.Mode.HasVideo(), true)
	if err != nil {
		m.logger.Warnw("media capture failed", "session_id", cs.session.ID, "error", err)
		return err
	}

	m.mu.Lock()
	if m.current != cs || cs.ctx.Err() != nil {
		m.mu.Unlock()
		stream.Stop()
		return domain.InvalidState(domain.ErrNoActiveCall)
	}
	cs.local = stream
	cs.camera = stream.Video
	m.mu.Unlock()

	for _, t := range stream.Tracks() {
		t.OnChange(func(*media.LocalTrack) { m.publish() })
	}
	stream.Start()
	m.publish()
	return nil
}

func (m *CallManager) markConnected(cs *callState) {
	m.mu.Lock()
	if m.current != cs {
		m.mu.Unlock()
		return
	}
	moved := m.machine.TransitionFrom(domain.PhaseConnected, domain.PhaseCalling, domain.PhaseRinging)
	if moved {
		cs.session.ConnectedAt = m.now()
	}
	m.mu.Unlock()

	cs.monitors.Do(func() {
		monitor := NewQualityMonitor(cs.roster, m.quality, m.cfg.QualityInterval, m.metrics, m.logger, m.publish)
		go monitor.Run(cs.ctx)
		if cs.roster.Group() {
			detector := NewSpeakingDetector(cs.roster, m.cfg.SpeakingInterval, m.cfg.SpeakingThreshold, m.publish)
			go detector.Run(cs.ctx)
		}
	})
	if moved {
		m.logger.Infow("call connected", "session_id", cs.session.ID)
	}
	m.publish()
}

// teardown releases everything the call owns and returns the phase to idle.
// Concurrent callers either wait for the first teardown or return at once.
func (m *CallManager) teardown(cs *callState, reason string, cause error, wait bool) {
	m.mu.Lock()
	if cs == nil || m.current != cs {
		m.mu.Unlock()
		return
	}
	if m.ending != nil {
		ch := m.ending
		m.mu.Unlock()
		if wait {
			<-ch
		}
		return
	}
	done := make(chan struct{})
	m.ending = done
	if err := m.machine.Transition(domain.PhaseEnding); err != nil {
		m.logger.Warnw("unexpected phase during teardown", "error", err)
	}
	if cause != nil {
		m.lastError = cause.Error()
	}
	local, screen := cs.local, cs.screen
	published := append([]domain.SignalKey(nil), cs.published...)
	m.mu.Unlock()
	m.publish()

	cs.cancel()

	if m.recorder != nil && m.recorder.Running() {
		if artifact, err := m.recorder.Stop(context.Background()); err != nil {
			m.logger.Warnw("failed to finalize recording", "session_id", cs.session.ID, "error", err)
		} else {
			m.metrics.RecordingFinished(artifact.MIMEType, artifact.Size, artifact.Duration)
			m.logger.Infow("recording saved", "name", artifact.Name, "location", artifact.Location, "bytes", artifact.Size)
		}
	}

	for _, ps := range cs.roster.RemoveAll() {
		m.closePeer(ps)
	}
	if screen != nil {
		screen.Stop()
	}
	local.Stop()
	m.cleanupSignals(published)

	duration := time.Duration(0)
	if !cs.session.ConnectedAt.IsZero() {
		duration = m.now().Sub(cs.session.ConnectedAt)
	}
	m.metrics.CallEnded(reason, duration)
	if cause != nil {
		m.logger.Warnw("call ended", "session_id", cs.session.ID, "reason", reason, "duration", duration, "error", cause)
	} else {
		m.logger.Infow("call ended", "session_id", cs.session.ID, "reason", reason, "duration", duration)
	}

	m.mu.Lock()
	m.current = nil
	if err := m.machine.Transition(domain.PhaseIdle); err != nil {
		m.logger.Warnw("unexpected phase after teardown", "error", err)
	}
	m.ending = nil
	close(done)
	m.mu.Unlock()
	m.publish()
}

func (m *CallManager) closePeer(ps *PeerSession) {
	ps.cancel()
	if err := ps.Conn.Close(); err != nil {
		m.logger.Debugw("error closing peer connection", "participant_id", ps.Participant.ID, "error", err)
	}
	for _, rt := range ps.Remote {
		rt.End()
	}
	m.metrics.PeerLeft(ps.Participant.ID)
}

func (m *CallManager) cleanupSignals(keys []domain.SignalKey) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := m.signaling.Delete(ctx, key); err != nil {
			m.logger.Debugw("failed to delete signal", "key", key.String(), "error", err)
		}
	}
}

// Listen consumes invitations addressed to the local participant until ctx ends.
func (m *CallManager) Listen(ctx context.Context) error {
	key := domain.InviteKey(m.self.ID)
	m.logger.Infow("listening for invitations")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := m.signaling.Subscribe(ctx, key, m.cfg.InviteWait)
		if err != nil {
			if errors.Is(err, domain.ErrSignalNotFound) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warnw("invitation poll failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.cfg.PollInterval):
			}
			continue
		}
		if err := m.signaling.Delete(ctx, key); err != nil {
			m.logger.Debugw("failed to consume invitation", "error", err)
		}
		m.handleInvite(ctx, payload)
	}
}

func (m *CallManager) handleInvite(ctx context.Context, payload domain.SignalPayload) {
	inv := payload.Invitation
	if inv == nil || inv.SessionID == "" || !inv.Mode.Valid() || payload.From.ID == "" {
		m.logger.Warnw("ignoring malformed invitation", "from", payload.From.ID)
		return
	}
	if m.seen.Contains(inv.SessionID) {
		m.logger.Debugw("ignoring duplicate invitation", "session_id", inv.SessionID)
		return
	}
	m.seen.Add(inv.SessionID, struct{}{})
	if !inv.SentAt.IsZero() && m.now().Sub(inv.SentAt) > m.cfg.AnswerTimeout {
		m.logger.Infow("ignoring stale invitation", "session_id", inv.SessionID, "from", payload.From.ID)
		return
	}

	session := &domain.CallSession{
		ID:        inv.SessionID,
		Initiator: payload.From,
		Targets:   inv.Others(payload.From.ID),
		Mode:      inv.Mode,
		Group:     inv.Group,
		Direction: domain.DirectionIncoming,
		StartedAt: m.now(),
	}

	m.mu.Lock()
	if m.current != nil || m.machine.Phase() != domain.PhaseIdle {
		m.mu.Unlock()
		m.logger.Infow("declining invitation while busy", "session_id", inv.SessionID, "from", payload.From.ID)
		m.decline(ctx, inv.SessionID, payload.From.ID, "busy")
		return
	}
	cs := m.newCallState(session, inv)
	if err := m.machine.Transition(domain.PhaseRinging); err != nil {
		m.mu.Unlock()
		cs.cancel()
		return
	}
	m.current = cs
	m.lastError = ""
	m.mu.Unlock()

	m.metrics.CallStarted(inv.Mode, domain.DirectionIncoming, inv.Group)
	m.logger.Infow("incoming call", "session_id", inv.SessionID, "from", payload.From.ID, "mode", inv.Mode, "group", inv.Group)
	m.publish()

	go m.expireRinging(cs)
}

func (m *CallManager) expireRinging(cs *callState) {
	timer := time.NewTimer(m.cfg.AnswerTimeout)
	defer timer.Stop()
	select {
	case <-cs.ctx.Done():
		return
	case <-timer.C:
	}
	m.mu.Lock()
	missed := m.current == cs && !cs.accepted && m.machine.Phase() == domain.PhaseRinging
	m.mu.Unlock()
	if missed {
		m.teardown(cs, "missed", nil, false)
	}
}

// ToggleVideo flips the camera track and tells the peers.
func (m *CallManager) ToggleVideo() (bool, error) {
	m.mu.Lock()
	cs := m.current
	if cs == nil || cs.local == nil {
		m.mu.Unlock()
		return false, domain.InvalidState(domain.ErrNoActiveCall)
	}
	camera := cs.camera
	m.mu.Unlock()
	if camera == nil {
		return false, domain.InvalidState(domain.ErrNoVideoSender)
	}
	return m.toggleTrack(cs, camera, domain.ActionVideoToggle)
}

// ToggleAudio flips the microphone track and tells the peers.
func (m *CallManager) ToggleAudio() (bool, error) {
	m.mu.Lock()
	cs := m.current
	if cs == nil || cs.local == nil || cs.local.Audio == nil {
		m.mu.Unlock()
		return false, domain.InvalidState(domain.ErrNoActiveCall)
	}
	mic := cs.local.Audio
	m.mu.Unlock()
	return m.toggleTrack(cs, mic, domain.ActionAudioToggle)
}

func (m *CallManager) toggleTrack(cs *callState, track *media.LocalTrack, action domain.MediaAction) (bool, error) {
	track.SetEnabled(!track.Enabled())
	enabled := track.Enabled()
	if m.machine.Phase() == domain.PhaseConnected {
		m.broadcast(cs.ctx, cs, domain.NewMediaControlEnvelope(m.self.ID, action, enabled, m.now()))
	}
	m.publish()
	return enabled, nil
}

// Snapshot returns a copy of the current call state.
func (m *CallManager) Snapshot() domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := domain.Snapshot{
		Phase:     m.machine.Phase(),
		Quality:   domain.QualityDisconnected,
		LastError: m.lastError,
		UpdatedAt: m.now(),
	}
	cs := m.current
	if cs == nil {
		return snap
	}
	snap.Session = cs.session.Clone()
	snap.Peers = cs.roster.States()
	snap.Quality = cs.roster.Quality()
	snap.AudioEnabled = cs.local.AudioEnabled()
	snap.VideoEnabled = cs.local.VideoEnabled()
	snap.ScreenSharing = cs.screen != nil
	snap.Chat = append([]domain.ChatMessage(nil), cs.chat...)
	snap.Recording = m.recorder != nil && m.recorder.Running()
	return snap
}

// Subscribe delivers snapshots on every change. Slow readers only see the latest one.
func (m *CallManager) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 1)

	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.Snapshot()
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			close(ch)
			m.subsMu.Unlock()
		})
	}
}

func (m *CallManager) publish() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if len(m.subs) == 0 {
		return
	}
	snap := m.Snapshot()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

type noopMetrics struct{}

func (noopMetrics) CallStarted(domain.CallMode, domain.Direction, bool)                     {}
func (noopMetrics) CallEnded(string, time.Duration)                                         {}
func (noopMetrics) PhaseChanged(domain.Phase, domain.Phase)                                 {}
func (noopMetrics) PeerQuality(domain.ParticipantID, domain.Quality, domain.ConnectionStats) {}
func (noopMetrics) PeerFailed(bool)                                                         {}
func (noopMetrics) PeerLeft(domain.ParticipantID)                                          {}
func (noopMetrics) IceRestart(bool)                                                         {}
func (noopMetrics) SignalingWait(domain.SignalRole, string, time.Duration)                  {}
func (noopMetrics) MessageBroadcast(int, int)                                               {}
func (noopMetrics) ScreenShareToggled(bool)                                                 {}
func (noopMetrics) RecordingFinished(string, int, time.Duration)                            {}
