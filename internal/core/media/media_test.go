package media

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var opus = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}

func newTestTrack(t *testing.T) (*LocalTrack, *FrameSource) {
	t.Helper()
	src := NewFrameSource([]byte{0xf8, 0xff, 0xfe}, 5*time.Millisecond)
	track, err := NewLocalTrack(KindAudio, SourceMicrophone, opus, src)
	require.NoError(t, err)
	return track, src
}

func TestLocalTrack_SinksReceiveSamplesWhileEnabled(t *testing.T) {
	track, _ := newTestTrack(t)
	defer track.Stop()

	got := make(chan pionmedia.Sample, 16)
	remove := track.AddSink(func(_ *LocalTrack, s pionmedia.Sample) {
		select {
		case got <- s:
		default:
		}
	})
	defer remove()

	track.Start()
	select {
	case s := <-got:
		assert.Equal(t, []byte{0xf8, 0xff, 0xfe}, s.Data)
	case <-time.After(time.Second):
		t.Fatal("no sample delivered")
	}
}

func TestLocalTrack_SetEnabledNotifies(t *testing.T) {
	track, _ := newTestTrack(t)
	defer track.Stop()

	var changes int
	track.OnChange(func(*LocalTrack) { changes++ })

	assert.True(t, track.SetEnabled(false))
	assert.False(t, track.SetEnabled(false))
	assert.False(t, track.Enabled())
	assert.True(t, track.SetEnabled(true))
	assert.Equal(t, 2, changes)
}

func TestLocalTrack_StopIsIdempotentAndFiresEndedOnce(t *testing.T) {
	track, _ := newTestTrack(t)
	track.Start()

	var mu sync.Mutex
	ended := 0
	track.OnEnded(func() {
		mu.Lock()
		ended++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			track.Stop()
		}()
	}
	wg.Wait()

	select {
	case <-track.Done():
	case <-time.After(time.Second):
		t.Fatal("pump did not exit")
	}
	assert.Equal(t, 1, ended)
	assert.True(t, track.Ended())
	assert.False(t, track.Enabled())
	assert.False(t, track.SetEnabled(true), "ended track cannot be re-enabled")
}

func TestLocalTrack_DeviceEndFlipsEnabled(t *testing.T) {
	track, src := newTestTrack(t)
	track.Start()

	endedCh := make(chan struct{})
	track.OnEnded(func() { close(endedCh) })

	src.End()
	select {
	case <-endedCh:
	case <-time.After(time.Second):
		t.Fatal("native end not observed")
	}
	assert.False(t, track.Enabled())
}

func TestLocalTrack_OnEndedAfterEndRunsImmediately(t *testing.T) {
	track, _ := newTestTrack(t)
	track.Stop()

	called := false
	track.OnEnded(func() { called = true })
	assert.True(t, called)
}

func TestStream_Tracks(t *testing.T) {
	audio, _ := newTestTrack(t)
	s := NewStream(audio, nil)
	assert.Len(t, s.Tracks(), 1)
	assert.True(t, s.AudioEnabled())
	assert.False(t, s.VideoEnabled())

	s.Stop()
	s.Stop()
	assert.False(t, s.AudioEnabled())

	var nilStream *Stream
	assert.Empty(t, nilStream.Tracks())
}

func TestRemoteTrack_Deliver(t *testing.T) {
	rt := NewRemoteTrack("bob", "t1", KindVideo, webrtc.RTPCodecParameters{})

	var seen []uint16
	remove := rt.AddSink(func(p *rtp.Packet) { seen = append(seen, p.SequenceNumber) })

	rt.Deliver(&rtp.Packet{Header: rtp.Header{SequenceNumber: 1}})
	remove()
	rt.Deliver(&rtp.Packet{Header: rtp.Header{SequenceNumber: 2}})
	rt.End()
	rt.End()
	rt.Deliver(&rtp.Packet{Header: rtp.Header{SequenceNumber: 3}})

	assert.Equal(t, []uint16{1}, seen)
	assert.Equal(t, uint64(2), rt.Packets())
	assert.True(t, rt.Ended())
}

func TestLevelToEnergy(t *testing.T) {
	assert.Equal(t, 0.0, LevelToEnergy(SilentAudioLevel))
	assert.Equal(t, 255.0, LevelToEnergy(10))
	assert.InDelta(t, 127.5, LevelToEnergy(65), 0.01)
}

func TestLevelMeter_Drain(t *testing.T) {
	m := NewLevelMeter()
	_, ok := m.Drain()
	assert.False(t, ok)

	m.Observe(10)
	m.Observe(50)
	avg, ok := m.Drain()
	assert.True(t, ok)
	assert.Equal(t, 30.0, avg)

	_, ok = m.Drain()
	assert.False(t, ok)
}
