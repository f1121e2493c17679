package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/media"
	"peercall/internal/core/ports"
)

// PeerSession is the live state of one remote participant.
type PeerSession struct {
	Participant domain.Participant
	Conn        ports.PeerConnection
	AudioSender ports.Sender
	VideoSender ports.Sender
	Remote      []*media.RemoteTrack

	State          domain.ConnectionState
	Quality        domain.Quality
	Stats          domain.ConnectionStats
	VideoEnabled   bool
	AudioEnabled   bool
	ScreenSharing  bool
	Speaking       bool
	RetryAttempted bool
	Initiator      bool
	JoinedAt       time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func newPeerSession(ctx context.Context, cancel context.CancelFunc, p domain.Participant, conn ports.PeerConnection, initiator bool, now time.Time) *PeerSession {
	return &PeerSession{
		Participant:  p,
		Conn:         conn,
		State:        domain.ConnectionNew,
		Quality:      domain.QualityDisconnected,
		VideoEnabled: true,
		AudioEnabled: true,
		Initiator:    initiator,
		JoinedAt:     now,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (ps *PeerSession) view() domain.PeerState {
	st := domain.PeerState{
		Participant:    ps.Participant,
		State:          ps.State,
		Quality:        ps.Quality,
		Stats:          ps.Stats,
		VideoEnabled:   ps.VideoEnabled,
		AudioEnabled:   ps.AudioEnabled,
		ScreenSharing:  ps.ScreenSharing,
		Speaking:       ps.Speaking,
		RetryAttempted: ps.RetryAttempted,
		Initiator:      ps.Initiator,
		JoinedAt:       ps.JoinedAt,
	}
	for _, rt := range ps.Remote {
		switch rt.Kind() {
		case media.KindAudio:
			st.HasRemoteAudio = true
		case media.KindVideo:
			st.HasRemoteVideo = true
		}
	}
	return st
}

// Roster maps participants to their peer sessions. A 1:1 call holds a single
// entry and is flagged non-group.
type Roster struct {
	mu      sync.RWMutex
	group   bool
	entries map[domain.ParticipantID]*PeerSession
}

func NewRoster(group bool) *Roster {
	return &Roster{group: group, entries: make(map[domain.ParticipantID]*PeerSession)}
}

func (r *Roster) Group() bool {
	return r.group
}

// Add registers ps. It fails when the participant is already present, or when
// a non-group roster already holds its single entry.
func (r *Roster) Add(ps *PeerSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[ps.Participant.ID]; ok {
		return false
	}
	if !r.group && len(r.entries) > 0 {
		return false
	}
	r.entries[ps.Participant.ID] = ps
	return true
}

func (r *Roster) Has(id domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Remove deletes the entry for id when it still refers to conn (nil matches any).
func (r *Roster) Remove(id domain.ParticipantID, conn ports.PeerConnection) *PeerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.entries[id]
	if !ok {
		return nil
	}
	if conn != nil && ps.Conn != conn {
		return nil
	}
	delete(r.entries, id)
	return ps
}

// RemoveAll empties the roster and returns the detached sessions.
func (r *Roster) RemoveAll() []*PeerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*PeerSession, 0, len(r.entries))
	for id, ps := range r.entries {
		out = append(out, ps)
		delete(r.entries, id)
	}
	return out
}

// Update runs fn on the entry under the roster lock. It reports whether the entry exists.
func (r *Roster) Update(id domain.ParticipantID, fn func(*PeerSession)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.entries[id]
	if !ok {
		return false
	}
	fn(ps)
	return true
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Sessions returns the entries ordered by participant id.
func (r *Roster) Sessions() []*PeerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PeerSession, 0, len(r.entries))
	for _, ps := range r.entries {
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant.ID < out[j].Participant.ID })
	return out
}

func (r *Roster) Connected() []*PeerSession {
	var out []*PeerSession
	for _, ps := range r.Sessions() {
		if r.stateOf(ps) == domain.ConnectionConnected {
			out = append(out, ps)
		}
	}
	return out
}

func (r *Roster) stateOf(ps *PeerSession) domain.ConnectionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ps.State
}

func (r *Roster) States() []domain.PeerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PeerState, 0, len(r.entries))
	for _, ps := range r.entries {
		out = append(out, ps.view())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant.ID < out[j].Participant.ID })
	return out
}

// Quality is the worst entry quality, or disconnected for an empty roster.
func (r *Roster) Quality() domain.Quality {
	r.mu.RLock()
	defer r.mu.RUnlock()
	qs := make([]domain.Quality, 0, len(r.entries))
	for _, ps := range r.entries {
		qs = append(qs, ps.Quality)
	}
	return domain.WorstQuality(qs...)
}

func (r *Roster) RemoteTracks() []*media.RemoteTrack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*media.RemoteTrack
	for _, ps := range r.entries {
		out = append(out, ps.Remote...)
	}
	return out
}

func (r *Roster) Participants() []domain.Participant {
	sessions := r.Sessions()
	out := make([]domain.Participant, 0, len(sessions))
	for _, ps := range sessions {
		out = append(out, ps.Participant)
	}
	return out
}

// VideoSenders returns the outgoing video sender of every entry that has one.
func (r *Roster) VideoSenders() map[domain.ParticipantID]ports.Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.ParticipantID]ports.Sender, len(r.entries))
	for id, ps := range r.entries {
		if ps.VideoSender != nil {
			out[id] = ps.VideoSender
		}
	}
	return out
}
