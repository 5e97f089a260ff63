package snapshot

import (
	"errors"
	"fmt"
	"sync"
)

/*
Chandy-Lamport snapshot engine

Every peer runs one Engine. A snapshot for a marker id moves through

	NotStarted -> Recording -> Complete

NotStarted -> Recording happens either on Initiate (local trigger) or on the
first marker seen for an id. In both cases the peer records its balance, starts
recording every incoming channel and sends the marker to every other peer. The
channel the first marker arrived on is closed immediately with an empty buffer.

Recording -> Complete happens when a marker for the id has arrived from every
peer the snapshot is awaiting. Each such marker closes that sender's channel;
transfers received on a channel between recording the balance and the marker
from that channel are the channel's in-flight state.

Correctness depends on FIFO delivery per ordered pair of peers and on the
recorded balance and the marker's position on every outgoing channel forming
one cut. The engine guarantees the latter by holding the cut lock exclusively
while it records the balance and enqueues markers; whoever debits the balance
for an outgoing transfer and enqueues it holds the same lock shared.

File Organization:
	types.go - PeerID, MarkerID, Marker
	snapshot.go - Snapshot (mutable, tracker-owned) and LocalSnapshot (copy)
	tracker.go - active / awaited / history tables and their lock
	engine.go - protocol transitions
	global.go - assembling local snapshots into a global one
*/

// Ledger exposes the balance being snapshotted.
type Ledger interface {
	Balance() int64
}

// MarkerSender queues a marker for delivery to a peer. It is called with the
// cut lock held and must not wait on the network.
type MarkerSender interface {
	SendMarker(peer PeerID, marker Marker)
}

type EngineConfig struct {
	Self   PeerID
	Peers  []PeerID // every other peer; self is ignored if present
	Ledger Ledger
	Sender MarkerSender

	// Cut is shared with the transfer paths. A nil Cut gets a private lock.
	Cut *sync.RWMutex

	OnStart    func(marker Marker, receivedFrom PeerID)
	OnComplete func(snap LocalSnapshot)
	LogFn      func(format string, args ...interface{})
}

type Engine struct {
	self    PeerID
	peers   []PeerID
	ledger  Ledger
	sender  MarkerSender
	cut     *sync.RWMutex
	tracker *Tracker

	onStart    func(Marker, PeerID)
	onComplete func(LocalSnapshot)
	logFn      func(format string, args ...interface{})
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Self == "" {
		return nil, ErrPeerIDRequired
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger must be set")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("marker sender must be set")
	}

	peers := make([]PeerID, 0, len(cfg.Peers))
	for _, peer := range cfg.Peers {
		if peer == "" {
			return nil, ErrPeerIDRequired
		}
		if peer != cfg.Self {
			peers = append(peers, peer)
		}
	}

	cut := cfg.Cut
	if cut == nil {
		cut = &sync.RWMutex{}
	}
	logFn := cfg.LogFn
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}

	return &Engine{
		self:       cfg.Self,
		peers:      peers,
		ledger:     cfg.Ledger,
		sender:     cfg.Sender,
		cut:        cut,
		tracker:    NewTracker(cfg.Self),
		onStart:    cfg.OnStart,
		onComplete: cfg.OnComplete,
		logFn:      logFn,
	}, nil
}

// Tracker returns the engine's snapshot tables.
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// Initiate starts a new global snapshot from this peer.
func (e *Engine) Initiate() Marker {
	marker := NewMarker(e.self)
	e.logFn("Initiating snapshot %s", marker.ID)
	e.begin(marker, "")
	return marker
}

// HandleMarker processes a marker received from sender.
func (e *Engine) HandleMarker(sender PeerID, marker Marker) {
	if !e.tracker.Known(marker.ID) {
		if e.begin(marker, sender) {
			return
		}
		// Another sender's copy of the marker started it first.
	}

	done, err := e.tracker.MarkerReceived(marker.ID, sender)
	switch {
	case errors.Is(err, ErrSnapshotComplete):
		e.logFn("Ignoring marker %s from %s: snapshot already complete", marker.ID, sender)
	case err != nil:
		e.logFn("Dropping marker %s from %s: %v", marker.ID, sender, err)
	case done != nil:
		e.complete(*done)
	default:
		if awaiting, ok := e.tracker.Awaiting(marker.ID); ok {
			e.logFn("Seen marker %s from %s, still awaiting %v", marker.ID, sender, awaiting)
		}
	}
}

// begin records the local state and forwards the marker. Returns false when
// the id was already known, in which case nothing was sent.
func (e *Engine) begin(marker Marker, receivedFrom PeerID) bool {
	e.cut.Lock()
	result := e.tracker.Begin(marker, e.ledger.Balance(), e.peers, receivedFrom)
	if result.Started {
		for _, peer := range e.peers {
			e.sender.SendMarker(peer, marker)
		}
	}
	e.cut.Unlock()

	if !result.Started {
		return false
	}

	if receivedFrom != "" {
		e.logFn("Joined snapshot %s on marker from %s", marker.ID, receivedFrom)
	}
	if e.onStart != nil {
		e.onStart(marker, receivedFrom)
	}
	if result.Completed != nil {
		e.complete(*result.Completed)
	}
	return true
}

func (e *Engine) complete(snap LocalSnapshot) {
	e.logFn("Now done snapshot:\n%s", snap)
	if e.onComplete != nil {
		e.onComplete(snap)
	}
}
