package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercall/internal/core/domain"
	"peercall/internal/core/media"
)

func newTestSession(t *testing.T, id domain.ParticipantID) *PeerSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	conn := &fakePeer{owner: "me", remote: id, net: newFakeNet(), state: domain.ConnectionNew}
	return newPeerSession(ctx, cancel, domain.Participant{ID: id, DisplayName: string(id)}, conn, false, time.Now())
}

func TestRoster_OneToOneHoldsSingleEntry(t *testing.T) {
	r := NewRoster(false)
	assert.False(t, r.Group())

	require.True(t, r.Add(newTestSession(t, "bob")))
	assert.False(t, r.Add(newTestSession(t, "carol")))
	assert.Equal(t, 1, r.Len())
}

func TestRoster_GroupRejectsDuplicates(t *testing.T) {
	r := NewRoster(true)
	require.True(t, r.Add(newTestSession(t, "carol")))
	require.True(t, r.Add(newTestSession(t, "bob")))
	assert.False(t, r.Add(newTestSession(t, "bob")))

	ids := r.Participants()
	require.Len(t, ids, 2)
	assert.Equal(t, domain.ParticipantID("bob"), ids[0].ID)
	assert.Equal(t, domain.ParticipantID("carol"), ids[1].ID)
}

func TestRoster_RemoveMatchesConnection(t *testing.T) {
	r := NewRoster(true)
	bob := newTestSession(t, "bob")
	require.True(t, r.Add(bob))

	stale := &fakePeer{remote: "bob"}
	assert.Nil(t, r.Remove("bob", stale))
	assert.True(t, r.Has("bob"))

	assert.Same(t, bob, r.Remove("bob", bob.Conn))
	assert.False(t, r.Has("bob"))
	assert.Nil(t, r.Remove("bob", nil))
}

func TestRoster_QualityIsWorstEntry(t *testing.T) {
	r := NewRoster(true)
	assert.Equal(t, domain.QualityDisconnected, r.Quality())

	for id, q := range map[domain.ParticipantID]domain.Quality{
		"bob":   domain.QualityExcellent,
		"carol": domain.QualityPoor,
		"dave":  domain.QualityGood,
	} {
		ps := newTestSession(t, id)
		ps.Quality = q
		require.True(t, r.Add(ps))
	}
	assert.Equal(t, domain.QualityPoor, r.Quality())

	r.Remove("carol", nil)
	assert.Equal(t, domain.QualityGood, r.Quality())
}

func TestRoster_StatesAndConnected(t *testing.T) {
	r := NewRoster(true)
	bob := newTestSession(t, "bob")
	carol := newTestSession(t, "carol")
	require.True(t, r.Add(bob))
	require.True(t, r.Add(carol))

	r.Update("bob", func(ps *PeerSession) {
		ps.State = domain.ConnectionConnected
		ps.Remote = append(ps.Remote, media.NewRemoteTrack("bob", "a", media.KindAudio, webrtcOpusParams()))
	})
	assert.False(t, r.Update("zed", func(*PeerSession) {}))

	connected := r.Connected()
	require.Len(t, connected, 1)
	assert.Equal(t, domain.ParticipantID("bob"), connected[0].Participant.ID)

	states := r.States()
	require.Len(t, states, 2)
	assert.True(t, states[0].HasRemoteAudio)
	assert.False(t, states[0].HasRemoteVideo)
	assert.Len(t, r.RemoteTracks(), 1)

	all := r.RemoveAll()
	assert.Len(t, all, 2)
	assert.Equal(t, 0, r.Len())
}

func TestRoster_VideoSenders(t *testing.T) {
	r := NewRoster(true)
	bob := newTestSession(t, "bob")
	carol := newTestSession(t, "carol")
	require.True(t, r.Add(bob))
	require.True(t, r.Add(carol))

	track, _ := newTestTrack(media.KindVideo, media.SourceCamera)
	sender, err := bob.Conn.AddTrack(track)
	require.NoError(t, err)
	r.Update("bob", func(ps *PeerSession) { ps.VideoSender = sender })

	senders := r.VideoSenders()
	assert.Len(t, senders, 1)
	assert.Contains(t, senders, domain.ParticipantID("bob"))
}
