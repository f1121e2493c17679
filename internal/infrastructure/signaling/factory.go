package signaling

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/infrastructure/reliability"
	"peercall/internal/infrastructure/signaling/memory"
	redisstore "peercall/internal/infrastructure/signaling/redis"
	wstransport "peercall/internal/infrastructure/signaling/websocket"
	"peercall/pkg/circuitbreaker"
	"peercall/pkg/config"
	"peercall/pkg/retry"
	"peercall/pkg/tracing"
)

const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendWebSocket = "websocket"
)

// Factory creates signaling stores and transports with fallback to memory.
type Factory struct {
	cfg         *config.Config
	backend     string
	redisClient *redis.Client
	memory      *memory.MemorySignalStore
	logger      *zap.SugaredLogger
}

// NewFactory connects to Redis when the configuration asks for it. A failed
// connection degrades to the in-process store.
func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) *Factory {
	f := &Factory{
		cfg:     cfg,
		backend: cfg.Signaling.Backend,
		logger:  logger,
	}

	if f.backend == BackendRedis || cfg.Redis.Enabled {
		client, err := redisstore.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory signaling",
				"error", err,
			)
			if f.backend == BackendRedis {
				f.backend = BackendMemory
			}
		} else {
			f.redisClient = client
		}
	}

	if f.backend == BackendMemory {
		logger.Info("using memory signaling store")
	}
	return f
}

// Backend reports the backend actually in use after fallback.
func (f *Factory) Backend() string {
	return f.backend
}

// Store returns the store the relay serves from. The relay never uses the
// websocket backend itself.
func (f *Factory) Store() ports.SignalStore {
	if f.redisClient != nil {
		return redisstore.NewRedisSignalStore(f.redisClient, f.cfg.Signaling.Prefix, f.cfg.Signaling.KeyTTL)
	}
	return f.memoryStore()
}

func (f *Factory) memoryStore() *memory.MemorySignalStore {
	if f.memory == nil {
		f.memory = memory.NewMemorySignalStore(f.cfg.Signaling.KeyTTL)
	}
	return f.memory
}

// Transport returns the client-side transport for participant, wrapped with
// retry and circuit breaking.
func (f *Factory) Transport(ctx context.Context, participant domain.ParticipantID) (ports.SignalingTransport, error) {
	var transport ports.SignalingTransport

	switch f.backend {
	case BackendWebSocket:
		dialCtx, span := tracing.TraceSignaling(ctx, "dial", f.backend)
		t, err := wstransport.Dial(dialCtx, f.cfg.Signaling.RelayURL, participant, f.logger)
		tracing.EndSpan(span, err)
		if err != nil {
			f.logger.Warnw("failed to reach signaling relay, falling back to memory signaling",
				"url", f.cfg.Signaling.RelayURL,
				"error", err,
			)
			f.backend = BackendMemory
			transport = f.memoryStore()
		} else {
			transport = t
		}
	case BackendRedis:
		if f.redisClient != nil {
			transport = redisstore.NewRedisSignalStore(f.redisClient, f.cfg.Signaling.Prefix, f.cfg.Signaling.KeyTTL)
		} else {
			transport = f.memoryStore()
		}
	default:
		transport = f.memoryStore()
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxDelay = f.cfg.Call.RetryMaxDelay
	return reliability.NewSignalingWrapper(transport, retryCfg, circuitbreaker.DefaultConfig(), f.logger), nil
}

// HealthCheck pings Redis when it backs signaling.
func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

// RedisClient exposes the shared client, nil when Redis is not in use.
func (f *Factory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *Factory) Close() error {
	if f.memory != nil {
		_ = f.memory.Close()
	}
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
