package snapshot

import (
	"sync"
	"time"
)

// Tracker owns every snapshot a peer takes part in. active and awaited are one
// logical unit: a marker id is a key in one iff it is a key in the other, and
// both are cleared in the same critical section when the snapshot completes.
type Tracker struct {
	self PeerID

	mu      sync.Mutex
	active  map[MarkerID]*Snapshot
	awaited map[MarkerID]map[PeerID]struct{}
	history map[MarkerID]LocalSnapshot
	order   []MarkerID // completion order of history
}

// BeginResult describes what Begin did with a marker.
type BeginResult struct {
	// Started is false when the id was already active or complete; the caller
	// must then treat the marker as an echo.
	Started bool
	// Completed is set when nothing was left to await, e.g. a first marker
	// from the only other peer.
	Completed *LocalSnapshot
}

func NewTracker(self PeerID) *Tracker {
	return &Tracker{
		self:    self,
		active:  make(map[MarkerID]*Snapshot),
		awaited: make(map[MarkerID]map[PeerID]struct{}),
		history: make(map[MarkerID]LocalSnapshot),
	}
}

// Begin creates the local snapshot for marker, awaiting a marker from every
// peer except receivedFrom. receivedFrom is empty when this peer initiates.
func (t *Tracker) Begin(marker Marker, localState int64, peers []PeerID, receivedFrom PeerID) BeginResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.knownLocked(marker.ID) {
		return BeginResult{}
	}

	others := make([]PeerID, 0, len(peers))
	for _, peer := range peers {
		if peer != t.self {
			others = append(others, peer)
		}
	}

	snap := newSnapshot(t.self, marker, localState, others, receivedFrom)
	awaiting := make(map[PeerID]struct{}, len(others))
	for _, peer := range others {
		if peer != receivedFrom {
			awaiting[peer] = struct{}{}
		}
	}

	t.active[marker.ID] = snap
	t.awaited[marker.ID] = awaiting

	if len(awaiting) == 0 {
		done := t.completeLocked(marker.ID)
		return BeginResult{Started: true, Completed: &done}
	}
	return BeginResult{Started: true}
}

// MarkerReceived handles a marker from sender for a snapshot this peer already
// takes part in. It closes the sender's channel and returns the finished
// snapshot once no marker is awaited any more.
func (t *Tracker) MarkerReceived(id MarkerID, sender PeerID) (*LocalSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.active[id]
	if !ok {
		if _, done := t.history[id]; done {
			return nil, ErrSnapshotComplete
		}
		return nil, ErrUnknownSnapshot
	}

	awaiting := t.awaited[id]
	delete(awaiting, sender)
	snap.stopRecording(sender)

	if len(awaiting) > 0 {
		return nil, nil
	}
	done := t.completeLocked(id)
	return &done, nil
}

// RecordTransfer offers a received transfer to every active snapshot. Returns
// how many snapshots recorded it.
func (t *Tracker) RecordTransfer(sender PeerID, amount int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	recorded := 0
	for _, snap := range t.active {
		if snap.recordReceive(sender, amount) {
			recorded++
		}
	}
	return recorded
}

func (t *Tracker) completeLocked(id MarkerID) LocalSnapshot {
	snap := t.active[id]
	delete(t.active, id)
	delete(t.awaited, id)

	done := snap.view(time.Now())
	t.history[id] = done
	t.order = append(t.order, id)
	return done
}

func (t *Tracker) knownLocked(id MarkerID) bool {
	if _, ok := t.active[id]; ok {
		return true
	}
	_, ok := t.history[id]
	return ok
}

// Known reports whether id is active or already complete here.
func (t *Tracker) Known(id MarkerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.knownLocked(id)
}

// HasActive reports whether any snapshot is still recording.
func (t *Tracker) HasActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active) > 0
}

func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Awaiting returns the peers a marker is still expected from for id.
func (t *Tracker) Awaiting(id MarkerID) ([]PeerID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	awaiting, ok := t.awaited[id]
	if !ok {
		return nil, false
	}
	return sortedPeers(awaiting), true
}

// Get returns a copy of the snapshot for id, active or complete.
func (t *Tracker) Get(id MarkerID) (LocalSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if snap, ok := t.active[id]; ok {
		return snap.view(time.Time{}), true
	}
	done, ok := t.history[id]
	return done, ok
}

// Active returns copies of all incomplete snapshots, oldest first.
func (t *Tracker) Active() []LocalSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]LocalSnapshot, 0, len(t.active))
	for _, snap := range t.active {
		result = append(result, snap.view(time.Time{}))
	}
	sortByStart(result)
	return result
}

// History returns completed snapshots in completion order.
func (t *Tracker) History() []LocalSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]LocalSnapshot, 0, len(t.order))
	for _, id := range t.order {
		result = append(result, t.history[id])
	}
	return result
}
