package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercall/internal/core/domain"
	apperrors "peercall/pkg/errors"
)

func offerPayload(from domain.ParticipantID) domain.SignalPayload {
	return domain.SignalPayload{
		SDP:  "v=0",
		Type: "offer",
		From: domain.Participant{ID: from, DisplayName: string(from)},
	}
}

func TestMemorySignalStore_PublishThenSubscribe(t *testing.T) {
	store := NewMemorySignalStore(time.Minute)
	ctx := context.Background()
	key := domain.OfferKey("s1", "bob", "alice", 0)

	require.NoError(t, store.Publish(ctx, key, offerPayload("alice")))

	got, err := store.Subscribe(ctx, key, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "v=0", got.SDP)
	assert.Equal(t, domain.ParticipantID("alice"), got.From.ID)
	assert.Equal(t, 1, store.Len())
}

func TestMemorySignalStore_SubscribeWaitsForPublish(t *testing.T) {
	store := NewMemorySignalStore(0)
	ctx := context.Background()
	key := domain.AnswerKey("s1", "alice", "bob", 0)

	result := make(chan domain.SignalPayload, 1)
	go func() {
		p, err := store.Subscribe(ctx, key, time.Second)
		if err == nil {
			result <- p
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.Publish(ctx, key, offerPayload("bob")))

	select {
	case p := <-result:
		assert.Equal(t, domain.ParticipantID("bob"), p.From.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber was not woken")
	}
}

func TestMemorySignalStore_SubscribeTimesOut(t *testing.T) {
	store := NewMemorySignalStore(0)

	start := time.Now()
	_, err := store.Subscribe(context.Background(), domain.InviteKey("bob"), 30*time.Millisecond)
	assert.True(t, errors.Is(err, domain.ErrSignalNotFound))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	store.mu.Lock()
	assert.Empty(t, store.waiters)
	store.mu.Unlock()
}

func TestMemorySignalStore_SubscribeHonoursContext(t *testing.T) {
	store := NewMemorySignalStore(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Subscribe(ctx, domain.InviteKey("bob"), time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemorySignalStore_EntriesExpire(t *testing.T) {
	store := NewMemorySignalStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()
	key := domain.OfferKey("s1", "bob", "alice", 1)

	require.NoError(t, store.Publish(ctx, key, offerPayload("alice")))
	assert.Equal(t, 1, store.Len())

	now = now.Add(2 * time.Minute)
	_, err := store.Subscribe(ctx, key, 5*time.Millisecond)
	assert.True(t, errors.Is(err, domain.ErrSignalNotFound))
	assert.Equal(t, 0, store.Len())
}

func TestMemorySignalStore_Delete(t *testing.T) {
	store := NewMemorySignalStore(0)
	ctx := context.Background()
	key := domain.InviteKey("bob")

	require.NoError(t, store.Publish(ctx, key, offerPayload("alice")))
	require.NoError(t, store.Delete(ctx, key))
	assert.Equal(t, 0, store.Len())
}

func TestMemorySignalStore_RejectsInvalidKeys(t *testing.T) {
	store := NewMemorySignalStore(0)
	ctx := context.Background()

	err := store.Publish(ctx, domain.SignalKey{SessionID: "s1", ParticipantID: "bob", Role: "bogus"}, domain.SignalPayload{})
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))

	_, err = store.Subscribe(ctx, domain.SignalKey{Role: domain.RoleOffer}, time.Millisecond)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
}

func TestMemorySignalStore_CloseWakesSubscribers(t *testing.T) {
	store := NewMemorySignalStore(0)

	done := make(chan error, 1)
	go func() {
		_, err := store.Subscribe(context.Background(), domain.InviteKey("bob"), 5*time.Second)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.Close())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, domain.ErrConnectionClosed))
	case <-time.After(time.Second):
		t.Fatal("subscriber still parked after close")
	}

	assert.True(t, errors.Is(store.Ping(context.Background()), domain.ErrConnectionClosed))
	assert.True(t, errors.Is(store.Publish(context.Background(), domain.InviteKey("bob"), domain.SignalPayload{}), domain.ErrConnectionClosed))
	assert.NoError(t, store.Close())
}
