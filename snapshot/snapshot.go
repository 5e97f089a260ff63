package snapshot

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Snapshot is one peer's local snapshot for one marker. It is only ever
// reached through a Tracker, whose mutex guards every field below.
type Snapshot struct {
	ID        MarkerID
	Initiator PeerID
	Owner     PeerID

	// LocalState is the balance observed when this peer joined the snapshot,
	// before any later transfer was applied.
	LocalState int64
	StartedAt  time.Time

	channelBuffers   map[PeerID][]int64
	channelRecording map[PeerID]bool
}

// newSnapshot starts recording on the channel from every peer except
// receivedFrom. The channel a first marker arrived on is closed at once with an
// empty buffer: nothing sent before that marker can still be in flight.
func newSnapshot(owner PeerID, marker Marker, localState int64, peers []PeerID, receivedFrom PeerID) *Snapshot {
	s := &Snapshot{
		ID:               marker.ID,
		Initiator:        marker.Initiator,
		Owner:            owner,
		LocalState:       localState,
		StartedAt:        time.Now(),
		channelBuffers:   make(map[PeerID][]int64, len(peers)),
		channelRecording: make(map[PeerID]bool, len(peers)),
	}
	for _, peer := range peers {
		s.channelRecording[peer] = peer != receivedFrom
	}
	return s
}

// recordReceive appends amount to the sender's buffer while that channel is
// still recording. Returns whether the amount was recorded.
func (s *Snapshot) recordReceive(sender PeerID, amount int64) bool {
	if !s.channelRecording[sender] {
		return false
	}
	s.channelBuffers[sender] = append(s.channelBuffers[sender], amount)
	return true
}

// stopRecording closes the sender's channel. Flags never go back to true.
func (s *Snapshot) stopRecording(sender PeerID) {
	if _, ok := s.channelRecording[sender]; ok {
		s.channelRecording[sender] = false
	}
}

func (s *Snapshot) recording() int {
	n := 0
	for _, on := range s.channelRecording {
		if on {
			n++
		}
	}
	return n
}

// view returns a deep copy that is safe to hand out after the lock is released.
func (s *Snapshot) view(completedAt time.Time) LocalSnapshot {
	channels := make(map[PeerID][]int64, len(s.channelRecording))
	recording := make(map[PeerID]bool, len(s.channelRecording))
	for peer, on := range s.channelRecording {
		recording[peer] = on
		buf := s.channelBuffers[peer]
		channels[peer] = append(make([]int64, 0, len(buf)), buf...)
	}
	return LocalSnapshot{
		ID:          s.ID,
		Initiator:   s.Initiator,
		Owner:       s.Owner,
		LocalState:  s.LocalState,
		Channels:    channels,
		Recording:   recording,
		StartedAt:   s.StartedAt,
		CompletedAt: completedAt,
	}
}

// LocalSnapshot is an immutable copy of a Snapshot, safe to copy and send.
type LocalSnapshot struct {
	ID         MarkerID
	Initiator  PeerID
	Owner      PeerID
	LocalState int64

	// Channels holds, per sender, the transfers recorded as in flight. Every
	// known peer has an entry, empty when nothing was recorded.
	Channels  map[PeerID][]int64
	Recording map[PeerID]bool

	StartedAt   time.Time
	CompletedAt time.Time // zero while the snapshot is still active
}

// Complete reports whether every incoming channel has been closed by a marker.
func (l LocalSnapshot) Complete() bool {
	return !l.CompletedAt.IsZero()
}

// InFlight sums every recorded channel amount.
func (l LocalSnapshot) InFlight() int64 {
	var total int64
	for _, amounts := range l.Channels {
		for _, amount := range amounts {
			total += amount
		}
	}
	return total
}

func (l LocalSnapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Snapshot %s\n", l.ID)
	fmt.Fprintf(&b, " Balance : %d", l.LocalState)
	for _, peer := range sortedPeers(l.Channels) {
		fmt.Fprintf(&b, "\n %s <--- %s : %v", l.Owner, peer, l.Channels[peer])
	}
	return b.String()
}

func sortedPeers[V any](m map[PeerID]V) []PeerID {
	peers := make([]PeerID, 0, len(m))
	for peer := range m {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

func sortByStart(snaps []LocalSnapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		if snaps[i].StartedAt.Equal(snaps[j].StartedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].StartedAt.Before(snaps[j].StartedAt)
	})
}
