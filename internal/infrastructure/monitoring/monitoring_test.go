package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercall/internal/core/domain"
	"peercall/internal/infrastructure/signaling/memory"
)

func TestPrometheusCollector_CallLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusCollector(reg)

	assert.Equal(t, float64(1), testutil.ToFloat64(p.phase.WithLabelValues(string(domain.PhaseIdle))))

	p.CallStarted(domain.CallModeVideo, domain.DirectionOutgoing, false)
	p.PhaseChanged(domain.PhaseIdle, domain.PhaseCalling)
	p.PhaseChanged(domain.PhaseCalling, domain.PhaseConnected)
	p.CallEnded("local hangup", 42*time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(p.callsStarted.WithLabelValues("video", string(domain.DirectionOutgoing), "false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.callsEnded.WithLabelValues("local hangup")))
	assert.Equal(t, float64(0), testutil.ToFloat64(p.phase.WithLabelValues(string(domain.PhaseIdle))))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.phase.WithLabelValues(string(domain.PhaseConnected))))
	assert.Equal(t, 1, testutil.CollectAndCount(p.callDuration))
}

func TestPrometheusCollector_PeerSeries(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	p.PeerQuality("bob", domain.QualityGood, domain.ConnectionStats{PacketsReceived: 100, PacketsLost: 3, RTT: 80 * time.Millisecond})
	p.PeerQuality("carol", domain.QualityDisconnected, domain.ConnectionStats{})
	assert.Equal(t, float64(domain.QualityGood), testutil.ToFloat64(p.peerQuality.WithLabelValues("bob")))
	assert.Equal(t, 2, testutil.CollectAndCount(p.peerQuality))

	p.PeerLeft("bob")
	assert.Equal(t, 1, testutil.CollectAndCount(p.peerQuality))

	p.PeerFailed(true)
	p.PeerFailed(false)
	p.IceRestart(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(p.peerFailures.WithLabelValues("fatal")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.iceRestarts.WithLabelValues("succeeded")))
}

func TestPrometheusCollector_MessagingAndRelay(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	p.MessageBroadcast(2, 1)
	p.ScreenShareToggled(true)
	p.RecordingFinished("video/webm", 2048, 3*time.Second)
	p.ConnectionOpened()
	p.ConnectionOpened()
	p.ConnectionClosed()
	p.RequestHandled("publish", "OK", time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(p.messagesDelivered))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.messagesFailed))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.screenShares.WithLabelValues("started")))
	assert.Equal(t, float64(2048), testutil.ToFloat64(p.recordingBytes))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.relayConnections))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.relayRequests.WithLabelValues("publish", "OK")))
}

func TestPrometheusCollector_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusCollector(reg)
	assert.Panics(t, func() { NewPrometheusCollector(reg) })
}

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(ctx context.Context) (bool, error) { return true, nil }, time.Second, time.Second)
	h.AddCheck("degraded", func(ctx context.Context) (bool, error) { return false, nil }, time.Second, time.Second)
	h.AddCheck("broken", func(ctx context.Context) (bool, error) { return false, errors.New("boom") }, time.Second, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["ok"])
	assert.Equal(t, errCheckFailed.Error(), status.Checks["degraded"])
	assert.Equal(t, "boom", status.Checks["broken"])
	assert.False(t, h.IsReady(context.Background()))

	last := h.LastStatus()
	assert.Equal(t, status.Checks, last.Checks)
}

func TestHealthChecker_SignalStoreCheck(t *testing.T) {
	store := memory.NewMemorySignalStore(0)
	h := NewHealthChecker()
	h.AddSignalStoreCheck(store, time.Second, time.Second)

	assert.True(t, h.IsReady(context.Background()))

	require.NoError(t, store.Close())
	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Contains(t, status.Checks["signal_store"], "connection closed")
}

func TestHealthChecker_TimeoutApplies(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, time.Second, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}

func TestHealthChecker_BackgroundChecks(t *testing.T) {
	h := NewHealthChecker()
	calls := make(chan struct{}, 8)
	h.AddCheck("tick", func(ctx context.Context) (bool, error) {
		select {
		case calls <- struct{}{}:
		default:
		}
		return true, nil
	}, 10*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartBackgroundChecks(ctx)

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("background check never ran")
	}
	require.Eventually(t, func() bool { return h.LastStatus().Checks["tick"] == "healthy" }, time.Second, 5*time.Millisecond)
}
