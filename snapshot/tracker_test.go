package snapshot_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
)

var (
	peerA = snapshot.PeerID("peer-a")
	peerB = snapshot.PeerID("peer-b")
	peerC = snapshot.PeerID("peer-c")
)

func TestTrackerInitiatorAwaitsEveryPeer(t *testing.T) {
	tr := snapshot.NewTracker(peerA)
	marker := snapshot.NewMarker(peerA)

	res := tr.Begin(marker, 1000, []snapshot.PeerID{peerA, peerB, peerC}, "")
	require.True(t, res.Started)
	require.Nil(t, res.Completed)

	awaiting, ok := tr.Awaiting(marker.ID)
	require.True(t, ok)
	assert.Equal(t, []snapshot.PeerID{peerB, peerC}, awaiting)

	local, ok := tr.Get(marker.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1000), local.LocalState)
	assert.Equal(t, map[snapshot.PeerID]bool{peerB: true, peerC: true}, local.Recording)
	assert.False(t, local.Complete())
}

func TestTrackerFirstMarkerClosesSenderChannel(t *testing.T) {
	tr := snapshot.NewTracker(peerB)
	marker := snapshot.NewMarker(peerA)

	res := tr.Begin(marker, 500, []snapshot.PeerID{peerA, peerC}, peerA)
	require.True(t, res.Started)

	local, ok := tr.Get(marker.ID)
	require.True(t, ok)
	assert.False(t, local.Recording[peerA])
	assert.True(t, local.Recording[peerC])
	assert.Empty(t, local.Channels[peerA])

	// transfers from the marker's sender are after the cut
	assert.Equal(t, 0, tr.RecordTransfer(peerA, 40))
	assert.Equal(t, 1, tr.RecordTransfer(peerC, 15))

	local, _ = tr.Get(marker.ID)
	assert.Empty(t, local.Channels[peerA])
	assert.Equal(t, []int64{15}, local.Channels[peerC])

	awaiting, _ := tr.Awaiting(marker.ID)
	assert.Equal(t, []snapshot.PeerID{peerC}, awaiting)
}

func TestTrackerBeginTwiceDoesNotReinitialise(t *testing.T) {
	tr := snapshot.NewTracker(peerB)
	marker := snapshot.NewMarker(peerA)

	require.True(t, tr.Begin(marker, 500, []snapshot.PeerID{peerA, peerC}, peerA).Started)
	tr.RecordTransfer(peerC, 3)

	res := tr.Begin(marker, 9999, []snapshot.PeerID{peerA, peerC}, peerC)
	assert.False(t, res.Started)

	local, _ := tr.Get(marker.ID)
	assert.Equal(t, int64(500), local.LocalState)
	assert.Equal(t, []int64{3}, local.Channels[peerC])
}

func TestTrackerCompletesOnLastMarker(t *testing.T) {
	tr := snapshot.NewTracker(peerA)
	marker := snapshot.NewMarker(peerA)
	tr.Begin(marker, 1000, []snapshot.PeerID{peerB, peerC}, "")

	done, err := tr.MarkerReceived(marker.ID, peerB)
	require.NoError(t, err)
	require.Nil(t, done)
	assert.True(t, tr.HasActive())

	done, err = tr.MarkerReceived(marker.ID, peerC)
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.True(t, done.Complete())

	assert.False(t, tr.HasActive())
	_, awaited := tr.Awaiting(marker.ID)
	assert.False(t, awaited)
	require.Len(t, tr.History(), 1)
	assert.Equal(t, marker.ID, tr.History()[0].ID)
}

func TestTrackerRepeatedMarkerIsIdempotent(t *testing.T) {
	tr := snapshot.NewTracker(peerA)
	marker := snapshot.NewMarker(peerA)
	tr.Begin(marker, 1000, []snapshot.PeerID{peerB, peerC}, "")
	tr.RecordTransfer(peerC, 11)

	_, err := tr.MarkerReceived(marker.ID, peerB)
	require.NoError(t, err)
	done, err := tr.MarkerReceived(marker.ID, peerB)
	require.NoError(t, err)
	assert.Nil(t, done)

	awaiting, _ := tr.Awaiting(marker.ID)
	assert.Equal(t, []snapshot.PeerID{peerC}, awaiting)

	done, err = tr.MarkerReceived(marker.ID, peerC)
	require.NoError(t, err)
	require.NotNil(t, done)
	before := tr.History()[0]

	for i := 0; i < 3; i++ {
		again, err := tr.MarkerReceived(marker.ID, peerC)
		assert.ErrorIs(t, err, snapshot.ErrSnapshotComplete)
		assert.Nil(t, again)
		tr.RecordTransfer(peerC, 99)
	}
	assert.False(t, tr.Begin(marker, 1, []snapshot.PeerID{peerB, peerC}, peerB).Started)

	require.Len(t, tr.History(), 1)
	assert.Equal(t, before, tr.History()[0])
	assert.Equal(t, []int64{11}, tr.History()[0].Channels[peerC])
}

func TestTrackerUnknownMarkerEcho(t *testing.T) {
	tr := snapshot.NewTracker(peerA)
	done, err := tr.MarkerReceived(snapshot.NewMarker(peerB).ID, peerB)
	assert.ErrorIs(t, err, snapshot.ErrUnknownSnapshot)
	assert.Nil(t, done)
	assert.False(t, tr.HasActive())
}

func TestTrackerOnlyOtherPeerCompletesImmediately(t *testing.T) {
	tr := snapshot.NewTracker(peerB)
	marker := snapshot.NewMarker(peerA)

	res := tr.Begin(marker, 70, []snapshot.PeerID{peerA}, peerA)
	require.True(t, res.Started)
	require.NotNil(t, res.Completed)
	assert.Equal(t, int64(70), res.Completed.LocalState)
	assert.False(t, tr.HasActive())
}

func TestTrackerRecordingStopsAtMarker(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 200; round++ {
		tr := snapshot.NewTracker(peerA)
		marker := snapshot.NewMarker(peerA)
		tr.Begin(marker, 0, []snapshot.PeerID{peerB, peerC}, "")

		var expected []int64
		markerSeen := false
		for step := 0; step < 20; step++ {
			if !markerSeen && rng.Intn(5) == 0 {
				_, err := tr.MarkerReceived(marker.ID, peerB)
				require.NoError(t, err)
				markerSeen = true
				continue
			}
			amount := int64(rng.Intn(100))
			tr.RecordTransfer(peerB, amount)
			if !markerSeen {
				expected = append(expected, amount)
			}
		}

		local, ok := tr.Get(marker.ID)
		require.True(t, ok)
		assert.Equal(t, len(expected), len(local.Channels[peerB]), "round %d", round)
		if len(expected) > 0 {
			assert.Equal(t, expected, local.Channels[peerB], "round %d", round)
		}
		assert.Equal(t, !markerSeen, local.Recording[peerB])
	}
}

func TestTrackerConcurrentSnapshotsRecordIndependently(t *testing.T) {
	tr := snapshot.NewTracker(peerA)
	first := snapshot.NewMarker(peerA)
	second := snapshot.NewMarker(peerA)
	peers := []snapshot.PeerID{peerB, peerC}

	tr.Begin(first, 100, peers, "")
	tr.Begin(second, 90, peers, "")

	for _, amount := range []int64{1, 2, 3} {
		assert.Equal(t, 2, tr.RecordTransfer(peerB, amount))
	}

	a, _ := tr.Get(first.ID)
	b, _ := tr.Get(second.ID)
	assert.Equal(t, []int64{1, 2, 3}, a.Channels[peerB])
	assert.Equal(t, []int64{1, 2, 3}, b.Channels[peerB])

	// closing a channel on one snapshot leaves the other recording
	_, err := tr.MarkerReceived(first.ID, peerB)
	require.NoError(t, err)
	tr.RecordTransfer(peerB, 4)

	a, _ = tr.Get(first.ID)
	b, _ = tr.Get(second.ID)
	assert.Equal(t, []int64{1, 2, 3}, a.Channels[peerB])
	assert.Equal(t, []int64{1, 2, 3, 4}, b.Channels[peerB])
	assert.Equal(t, int64(100), a.LocalState)
	assert.Equal(t, int64(90), b.LocalState)
	assert.Len(t, tr.Active(), 2)
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tr := snapshot.NewTracker(peerA)
	peers := []snapshot.PeerID{peerB, peerC}

	var wg sync.WaitGroup
	markers := make(chan snapshot.Marker, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := snapshot.NewMarker(peerA)
			tr.Begin(m, 0, peers, "")
			markers <- m
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordTransfer(peerB, 1)
			tr.RecordTransfer(peerC, 1)
		}()
	}
	wg.Wait()
	close(markers)

	for m := range markers {
		for _, peer := range peers {
			wg.Add(1)
			go func(id snapshot.MarkerID, peer snapshot.PeerID) {
				defer wg.Done()
				_, err := tr.MarkerReceived(id, peer)
				assert.NoError(t, err)
			}(m.ID, peer)
		}
	}
	wg.Wait()

	assert.False(t, tr.HasActive())
	assert.Len(t, tr.History(), 50)
}
