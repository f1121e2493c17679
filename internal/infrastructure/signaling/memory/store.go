package memory

import (
	"context"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
)

type entry struct {
	payload domain.SignalPayload
	expires time.Time
}

// MemorySignalStore keeps signals in process. Subscribers park on a channel
// until the key is published or their wait expires.
type MemorySignalStore struct {
	mu      sync.Mutex
	entries map[string]entry
	waiters map[string][]chan domain.SignalPayload
	ttl     time.Duration
	closed  bool
	now     func() time.Time
}

var _ ports.SignalStore = (*MemorySignalStore)(nil)

func NewMemorySignalStore(ttl time.Duration) *MemorySignalStore {
	return &MemorySignalStore{
		entries: make(map[string]entry),
		waiters: make(map[string][]chan domain.SignalPayload),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemorySignalStore) Publish(ctx context.Context, key domain.SignalKey, payload domain.SignalPayload) error {
	if err := key.Validate(); err != nil {
		return domain.InvalidInput(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrConnectionClosed
	}

	k := key.String()
	e := entry{payload: payload}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}
	s.entries[k] = e

	for _, ch := range s.waiters[k] {
		ch <- payload
	}
	delete(s.waiters, k)
	return nil
}

func (s *MemorySignalStore) Subscribe(ctx context.Context, key domain.SignalKey, timeout time.Duration) (domain.SignalPayload, error) {
	if err := key.Validate(); err != nil {
		return domain.SignalPayload{}, domain.InvalidInput(err)
	}
	k := key.String()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.SignalPayload{}, domain.ErrConnectionClosed
	}
	if payload, ok := s.lookup(k); ok {
		s.mu.Unlock()
		return payload, nil
	}
	ch := make(chan domain.SignalPayload, 1)
	s.waiters[k] = append(s.waiters[k], ch)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload, ok := <-ch:
		if !ok {
			return domain.SignalPayload{}, domain.ErrConnectionClosed
		}
		return payload, nil
	case <-timer.C:
		s.dropWaiter(k, ch)
		return domain.SignalPayload{}, domain.ErrSignalNotFound
	case <-ctx.Done():
		s.dropWaiter(k, ch)
		return domain.SignalPayload{}, ctx.Err()
	}
}

// lookup must be called with s.mu held.
func (s *MemorySignalStore) lookup(k string) (domain.SignalPayload, bool) {
	e, ok := s.entries[k]
	if !ok {
		return domain.SignalPayload{}, false
	}
	if !e.expires.IsZero() && s.now().After(e.expires) {
		delete(s.entries, k)
		return domain.SignalPayload{}, false
	}
	return e.payload, true
}

func (s *MemorySignalStore) dropWaiter(k string, ch chan domain.SignalPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiters := s.waiters[k]
	for i, w := range waiters {
		if w == ch {
			s.waiters[k] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(s.waiters[k]) == 0 {
		delete(s.waiters, k)
	}
}

func (s *MemorySignalStore) Delete(ctx context.Context, key domain.SignalKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key.String())
	return nil
}

// Len reports the number of live signals.
func (s *MemorySignalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if _, ok := s.lookup(k); ok {
			n++
		}
	}
	return n
}

func (s *MemorySignalStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrConnectionClosed
	}
	return nil
}

// Close wakes every parked subscriber with ErrConnectionClosed.
func (s *MemorySignalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for k, waiters := range s.waiters {
		for _, ch := range waiters {
			close(ch)
		}
		delete(s.waiters, k)
	}
	return nil
}
