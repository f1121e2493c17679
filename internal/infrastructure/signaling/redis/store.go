package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
)

// RedisSignalStore stores each signal under its own key with a TTL and
// announces it on a per-key channel so waiting subscribers wake at once.
type RedisSignalStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ ports.SignalStore = (*RedisSignalStore)(nil)

func NewRedisSignalStore(client *redis.Client, prefix string, ttl time.Duration) *RedisSignalStore {
	return &RedisSignalStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisSignalStore) dataKey(key domain.SignalKey) string {
	return fmt.Sprintf("%s:signal:%s", s.prefix, key.String())
}

func (s *RedisSignalStore) channel(key domain.SignalKey) string {
	return fmt.Sprintf("%s:notify:%s", s.prefix, key.String())
}

func (s *RedisSignalStore) Publish(ctx context.Context, key domain.SignalKey, payload domain.SignalPayload) error {
	if err := key.Validate(); err != nil {
		return domain.InvalidInput(err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(key), data, s.ttl)
	pipe.Publish(ctx, s.channel(key), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish signal to Redis: %w", err)
	}
	return nil
}

// Subscribe listens on the notification channel before reading the key so a
// publish racing with the read is never missed.
func (s *RedisSignalStore) Subscribe(ctx context.Context, key domain.SignalKey, timeout time.Duration) (domain.SignalPayload, error) {
	if err := key.Validate(); err != nil {
		return domain.SignalPayload{}, domain.InvalidInput(err)
	}

	pubsub := s.client.Subscribe(ctx, s.channel(key))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return domain.SignalPayload{}, ctx.Err()
		}
		return domain.SignalPayload{}, fmt.Errorf("failed to subscribe to signal channel: %w", err)
	}

	payload, err := s.get(ctx, key)
	if err == nil || !errors.Is(err, domain.ErrSignalNotFound) {
		return payload, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-pubsub.Channel():
		if !ok {
			return domain.SignalPayload{}, domain.ErrConnectionClosed
		}
		return decode([]byte(msg.Payload))
	case <-timer.C:
		return domain.SignalPayload{}, domain.ErrSignalNotFound
	case <-ctx.Done():
		return domain.SignalPayload{}, ctx.Err()
	}
}

func (s *RedisSignalStore) get(ctx context.Context, key domain.SignalKey) (domain.SignalPayload, error) {
	data, err := s.client.Get(ctx, s.dataKey(key)).Bytes()
	if err == redis.Nil {
		return domain.SignalPayload{}, domain.ErrSignalNotFound
	}
	if err != nil {
		return domain.SignalPayload{}, fmt.Errorf("failed to get signal from Redis: %w", err)
	}
	return decode(data)
}

func decode(data []byte) (domain.SignalPayload, error) {
	var payload domain.SignalPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.SignalPayload{}, fmt.Errorf("failed to unmarshal signal: %w", err)
	}
	return payload, nil
}

func (s *RedisSignalStore) Delete(ctx context.Context, key domain.SignalKey) error {
	if err := s.client.Del(ctx, s.dataKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete signal from Redis: %w", err)
	}
	return nil
}

func (s *RedisSignalStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the client is shared and closed by its owner.
func (s *RedisSignalStore) Close() error {
	return nil
}
