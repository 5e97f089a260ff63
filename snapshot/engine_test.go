package snapshot_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
)

type testLedger struct {
	mu      sync.Mutex
	balance int64
}

func (l *testLedger) Balance() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

func (l *testLedger) add(amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance += amount
}

// envelope is a marker or, when marker is nil, a transfer of amount.
type envelope struct {
	from, to snapshot.PeerID
	marker   *snapshot.Marker
	amount   int64
}

type testPeer struct {
	id     snapshot.PeerID
	ledger *testLedger
	cut    *sync.RWMutex
	engine *snapshot.Engine
	done   []snapshot.LocalSnapshot
}

// testNet delivers messages between engines in FIFO order per ordered pair,
// only when the test asks it to.
type testNet struct {
	t     *testing.T
	mu    sync.Mutex
	queue []envelope
	peers map[snapshot.PeerID]*testPeer
}

type netSender struct {
	net  *testNet
	from snapshot.PeerID
}

func (s netSender) SendMarker(peer snapshot.PeerID, marker snapshot.Marker) {
	m := marker
	s.net.enqueue(envelope{from: s.from, to: peer, marker: &m})
}

func newTestNet(t *testing.T, balance int64, ids ...snapshot.PeerID) *testNet {
	n := &testNet{t: t, peers: make(map[snapshot.PeerID]*testPeer)}
	for _, id := range ids {
		p := &testPeer{id: id, ledger: &testLedger{balance: balance}, cut: &sync.RWMutex{}}
		engine, err := snapshot.NewEngine(snapshot.EngineConfig{
			Self:       id,
			Peers:      ids,
			Ledger:     p.ledger,
			Sender:     netSender{net: n, from: id},
			Cut:        p.cut,
			OnComplete: func(snap snapshot.LocalSnapshot) { p.done = append(p.done, snap) },
			LogFn:      t.Logf,
		})
		require.NoError(t, err)
		p.engine = engine
		n.peers[id] = p
	}
	return n
}

func (n *testNet) enqueue(e envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue = append(n.queue, e)
}

func (n *testNet) transfer(from, to snapshot.PeerID, amount int64) {
	p := n.peers[from]
	p.cut.RLock()
	p.ledger.add(-amount)
	n.enqueue(envelope{from: from, to: to, amount: amount})
	p.cut.RUnlock()
}

// deliver hands the oldest queued message from -> to to its receiver.
func (n *testNet) deliver(from, to snapshot.PeerID) {
	n.mu.Lock()
	var next *envelope
	for i, e := range n.queue {
		if e.from == from && e.to == to {
			next = &n.queue[i]
			n.queue = append(n.queue[:i:i], n.queue[i+1:]...)
			break
		}
	}
	n.mu.Unlock()
	require.NotNil(n.t, next, "nothing queued from %s to %s", from, to)

	receiver := n.peers[to]
	if next.marker != nil {
		receiver.engine.HandleMarker(from, *next.marker)
		return
	}
	receiver.cut.RLock()
	receiver.engine.Tracker().RecordTransfer(from, next.amount)
	receiver.ledger.add(next.amount)
	receiver.cut.RUnlock()
}

func (n *testNet) drain() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		head := n.queue[0]
		n.mu.Unlock()
		n.deliver(head.from, head.to)
	}
}

func (n *testNet) pending(from, to snapshot.PeerID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.queue {
		if e.from == from && e.to == to {
			count++
		}
	}
	return count
}

func TestEngineCompletesAfterMarkersFromBothPeers(t *testing.T) {
	net := newTestNet(t, 1000, peerA, peerB, peerC)
	a := net.peers[peerA]

	marker := a.engine.Initiate()
	assert.Equal(t, peerA, marker.Initiator)
	assert.Equal(t, 1, net.pending(peerA, peerB))
	assert.Equal(t, 1, net.pending(peerA, peerC))

	net.deliver(peerA, peerB)
	net.deliver(peerA, peerC)

	net.deliver(peerB, peerA)
	assert.Empty(t, a.done)
	assert.True(t, a.engine.Tracker().HasActive())
	awaiting, ok := a.engine.Tracker().Awaiting(marker.ID)
	require.True(t, ok)
	assert.Equal(t, []snapshot.PeerID{peerC}, awaiting)

	net.deliver(peerC, peerA)
	require.Len(t, a.done, 1)
	assert.Equal(t, marker.ID, a.done[0].ID)
	assert.False(t, a.engine.Tracker().HasActive())
	_, ok = a.engine.Tracker().Awaiting(marker.ID)
	assert.False(t, ok)
	history := a.engine.Tracker().History()
	require.Len(t, history, 1)
	assert.Equal(t, int64(1000), history[0].LocalState)

	net.drain()
	for _, id := range []snapshot.PeerID{peerB, peerC} {
		require.Len(t, net.peers[id].done, 1, "peer %s", id)
		assert.Equal(t, marker.ID, net.peers[id].done[0].ID)
		assert.Equal(t, peerA, net.peers[id].done[0].Initiator)
	}
}

func TestEngineFirstMarkerForwardsToEveryPeer(t *testing.T) {
	net := newTestNet(t, 500, peerA, peerB, peerC)
	marker := net.peers[peerA].engine.Initiate()

	net.deliver(peerA, peerB)

	b := net.peers[peerB]
	local, ok := b.engine.Tracker().Get(marker.ID)
	require.True(t, ok)
	assert.False(t, local.Recording[peerA])
	assert.Empty(t, local.Channels[peerA])
	assert.True(t, local.Recording[peerC])
	assert.Equal(t, int64(500), local.LocalState)

	assert.Equal(t, 1, net.pending(peerB, peerA))
	assert.Equal(t, 1, net.pending(peerB, peerC))
}

func TestEngineIgnoresMarkerAfterCompletion(t *testing.T) {
	net := newTestNet(t, 10, peerA, peerB)
	a := net.peers[peerA]

	marker := a.engine.Initiate()
	net.deliver(peerA, peerB)
	// B had only A to hear from, so it is complete already
	require.Len(t, net.peers[peerB].done, 1)

	net.deliver(peerB, peerA)
	require.Len(t, a.done, 1)
	before := a.engine.Tracker().History()

	a.engine.HandleMarker(peerB, marker)
	a.engine.HandleMarker(peerB, marker)
	net.transfer(peerB, peerA, 5)
	net.deliver(peerB, peerA)

	assert.Len(t, a.done, 1)
	assert.Equal(t, before, a.engine.Tracker().History())
	assert.False(t, a.engine.Tracker().HasActive())
	assert.Equal(t, 0, net.pending(peerA, peerB))
}

func TestEngineRecordsInFlightTransfers(t *testing.T) {
	net := newTestNet(t, 1000, peerA, peerB, peerC)

	// sent before A's cut and still queued when the snapshot starts
	net.transfer(peerB, peerA, 30)
	net.transfer(peerC, peerA, 20)

	marker := net.peers[peerA].engine.Initiate()

	// after A's cut, queued behind A's marker
	net.transfer(peerA, peerB, 100)

	net.deliver(peerB, peerA) // 30 arrives while A records B
	net.deliver(peerA, peerB) // marker reaches B
	net.deliver(peerA, peerB) // 100 after B joined: not in flight
	net.deliver(peerB, peerA) // B's marker closes A<-B

	net.transfer(peerB, peerC, 7) // after B's cut, behind B's marker to C
	net.drain()

	var locals []snapshot.LocalSnapshot
	for _, id := range []snapshot.PeerID{peerA, peerB, peerC} {
		p := net.peers[id]
		require.Len(t, p.done, 1, "peer %s", id)
		locals = append(locals, p.done[0])
	}

	a := locals[0]
	assert.Equal(t, int64(1000), a.LocalState)
	assert.Equal(t, []int64{30}, a.Channels[peerB])
	assert.Equal(t, []int64{20}, a.Channels[peerC])

	b := locals[1]
	assert.Equal(t, int64(970), b.LocalState)
	assert.Empty(t, b.Channels[peerA])

	global, err := snapshot.Assemble(locals)
	require.NoError(t, err)
	assert.Equal(t, marker.ID, global.ID)
	assert.Equal(t, int64(3000), global.Total())

	var balances int64
	for _, p := range net.peers {
		balances += p.ledger.Balance()
	}
	assert.Equal(t, int64(3000), balances)
}

func TestEngineConcurrentSnapshots(t *testing.T) {
	net := newTestNet(t, 1000, peerA, peerB, peerC)

	first := net.peers[peerA].engine.Initiate()
	second := net.peers[peerC].engine.Initiate()
	assert.NotEqual(t, first.ID, second.ID)

	net.drain()

	for _, p := range net.peers {
		require.Len(t, p.done, 2, "peer %s", p.id)
		assert.False(t, p.engine.Tracker().HasActive())
	}

	for _, marker := range []snapshot.Marker{first, second} {
		var locals []snapshot.LocalSnapshot
		for _, p := range net.peers {
			local, ok := p.engine.Tracker().Get(marker.ID)
			require.True(t, ok)
			locals = append(locals, local)
		}
		global, err := snapshot.Assemble(locals)
		require.NoError(t, err)
		assert.Equal(t, marker.Initiator, global.Initiator)
		assert.Equal(t, int64(3000), global.Total())
	}
}

func TestNewEngineValidatesConfig(t *testing.T) {
	ledger := &testLedger{}
	sender := netSender{net: &testNet{}}

	_, err := snapshot.NewEngine(snapshot.EngineConfig{Ledger: ledger, Sender: sender})
	assert.ErrorIs(t, err, snapshot.ErrPeerIDRequired)

	_, err = snapshot.NewEngine(snapshot.EngineConfig{Self: peerA, Sender: sender})
	assert.Error(t, err)

	_, err = snapshot.NewEngine(snapshot.EngineConfig{Self: peerA, Ledger: ledger})
	assert.Error(t, err)

	_, err = snapshot.NewEngine(snapshot.EngineConfig{
		Self: peerA, Ledger: ledger, Sender: sender, Peers: []snapshot.PeerID{""},
	})
	assert.ErrorIs(t, err, snapshot.ErrPeerIDRequired)
}
