package node

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/adamgarcia4/goLearning/chandylamport/ledger"
	"github.com/adamgarcia4/goLearning/chandylamport/logger"
	"github.com/adamgarcia4/goLearning/chandylamport/metrics"
	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
	"github.com/adamgarcia4/goLearning/chandylamport/transport"
)

// Node is one peer: its balance, its snapshot engine and its links to every
// other peer. All mutable state is reached through methods.
type Node struct {
	config  *Config
	peers   []snapshot.PeerID
	account *ledger.Account
	engine  *snapshot.Engine
	metrics *metrics.Metrics

	channel       transport.Channel
	ownChannel    bool // created here, so served and closed here too
	grpcServer    *transport.GRPC
	metricsServer *metrics.Server
	outboxes      map[snapshot.PeerID]*outbox

	// cut makes "record the balance and queue markers" atomic with respect to
	// "debit and queue a transfer" and "record and credit a received transfer".
	// Taken before, never inside, the balance or snapshot locks.
	cut sync.RWMutex

	// Lifecycle management
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once

	mu      sync.RWMutex
	started bool
	stopped bool
}

// Option customises a Node at construction.
type Option func(*Node)

// WithChannel replaces the gRPC channel and server with ch. The caller is
// responsible for routing inbound messages to HandleMessage.
func WithChannel(ch transport.Channel) Option {
	return func(n *Node) {
		n.channel = ch
	}
}

// New creates a new node with the given configuration
func New(config *Config, opts ...Option) (*Node, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config:   config,
		peers:    config.PeerIDs(),
		account:  ledger.NewAccount(config.InitialBalance),
		metrics:  metrics.New(string(config.PeerID)),
		outboxes: make(map[snapshot.PeerID]*outbox, len(config.Peers)),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.metrics.SetBalance(config.InitialBalance)

	engine, err := snapshot.NewEngine(snapshot.EngineConfig{
		Self:       config.PeerID,
		Peers:      n.peers,
		Ledger:     n.account,
		Sender:     n,
		Cut:        &n.cut,
		OnStart:    n.snapshotStarted,
		OnComplete: n.snapshotCompleted,
		LogFn:      n.logf,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create snapshot engine: %w", err)
	}
	n.engine = engine

	if n.channel == nil {
		ch, err := transport.NewGRPCChannel(config.Peers)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create gRPC channel: %w", err)
		}
		n.channel = ch
		n.ownChannel = true
	}

	for _, peer := range n.peers {
		n.outboxes[peer] = newOutbox(peer, n.channel, n.delivered)
	}

	return n, nil
}

// Start starts the server, the outbound streams and the background loops
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return ErrNodeStopped
	}
	if n.started {
		return nil
	}

	if n.ownChannel {
		if err := n.startServer(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	if n.config.MetricsAddress != "" {
		srv, err := n.metrics.Start(n.config.MetricsAddress)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		n.metricsServer = srv
		n.logf("Metrics served on http://%s/metrics", srv.Addr())
	}

	for _, ob := range n.outboxes {
		n.wg.Add(1)
		go func(ob *outbox) {
			defer n.wg.Done()
			n.refundDropped(ob.peer, ob.run(n.ctx))
		}(ob)
	}

	if !n.config.ManualTransfers {
		n.wg.Add(1)
		go n.runTransfers(n.ctx)
	}
	if n.config.SnapshotInterval > 0 {
		n.wg.Add(1)
		go n.runSnapshots(n.ctx)
	}

	n.started = true
	n.logf("Peer %s started on %s with balance %d, peers %v",
		n.config.PeerID, n.config.GetAddress(), n.account.Balance(), n.peers)
	return nil
}

// Stop stops the node gracefully. Queued outbound messages are dropped and
// queued transfers refunded.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	grpcServer := n.grpcServer
	metricsServer := n.metricsServer

	// Cancel context to stop all goroutines (transfers, snapshots, outboxes)
	n.cancel()
	n.mu.Unlock()

	n.logf("Stopping peer %s...", n.config.PeerID)

	// Lock is released to avoid deadlocks if in-flight deliveries call back into Node
	if grpcServer != nil {
		if err := grpcServer.Stop(); err != nil {
			n.errorf("Error stopping gRPC server: %v", err)
		}
	}

	n.wg.Wait()

	// A transfer queued after its outbox stopped is refunded here. Taking the
	// cut lock waits out any SendTransfer that passed its stopped check.
	n.cut.Lock()
	n.cut.Unlock()
	for _, ob := range n.outboxes {
		n.refundDropped(ob.peer, ob.drop())
	}

	if n.ownChannel {
		if err := n.channel.Close(); err != nil {
			n.errorf("Error closing peer connections: %v", err)
		}
	}

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Stop(ctx); err != nil {
			n.errorf("Error stopping metrics server: %v", err)
		}
	}

	n.logf("Peer %s stopped with balance %d", n.config.PeerID, n.account.Balance())
	return nil
}

// startServer starts the gRPC server
func (n *Node) startServer() error {
	grpcTransport, err := transport.NewGRPC(n.config.GetAddress(), n.config.PeerID, n, n.errorf)
	if err != nil {
		return fmt.Errorf("failed to create gRPC transport: %w", err)
	}

	// Start() performs binding synchronously and returns an error immediately if binding fails.
	if err := grpcTransport.Start(); err != nil {
		return fmt.Errorf("failed to bind gRPC server: %w", err)
	}

	n.grpcServer = grpcTransport
	return nil
}

// HandleMessage implements transport.Handler. It runs on the sender's delivery
// goroutine, so messages from one peer are handled in the order they were sent.
func (n *Node) HandleMessage(ctx context.Context, msg transport.Message) error {
	if msg.Kind != transport.KindExit {
		if _, ok := n.config.Peers[msg.Sender]; !ok {
			return fmt.Errorf("%w: %w: %s", transport.ErrMalformedMessage, ErrUnknownPeer, msg.Sender)
		}
	}

	switch msg.Kind {
	case transport.KindTransfer:
		n.HandleTransfer(msg.Sender, msg.Amount)
	case transport.KindMarker:
		n.metrics.MarkerReceived()
		n.debugf("Received marker %s from %s", msg.Marker.ID, msg.Sender)
		n.engine.HandleMarker(msg.Sender, msg.Marker)
	case transport.KindExit:
		n.logf("Received exit from %s", msg.Sender)
		n.doneOnce.Do(func() { close(n.done) })
	default:
		return fmt.Errorf("%w: unknown kind %q", transport.ErrMalformedMessage, msg.Kind)
	}
	return nil
}

// HandleTransfer credits amount, whatever its sign. If snapshots are
// recording the sender's channel the amount is added to their buffers under
// the same cut as the credit.
func (n *Node) HandleTransfer(sender snapshot.PeerID, amount int64) {
	n.cut.RLock()
	recorded := n.engine.Tracker().RecordTransfer(sender, amount)
	balance := n.account.Deposit(amount)
	n.cut.RUnlock()

	n.metrics.TransferReceived(amount)
	n.metrics.SetBalance(balance)
	if recorded > 0 {
		n.debugf("Recorded %d from %s in %d snapshots", amount, sender, recorded)
	}
	n.logf("%-50s \t %-20s",
		fmt.Sprintf("Received %d from %s", amount, sender),
		fmt.Sprintf("Now Balance : %d", balance))
}

// InitiateSnapshot starts a global snapshot with this peer as initiator.
func (n *Node) InitiateSnapshot() snapshot.Marker {
	return n.engine.Initiate()
}

// SendTransfer debits amount and queues it for peer. The debit and the queue
// position are atomic with respect to snapshot cuts.
func (n *Node) SendTransfer(peer snapshot.PeerID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	ob, ok := n.outboxes[peer]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	n.mu.RLock()
	started := n.started
	n.mu.RUnlock()
	if !started && n.ctx.Err() == nil {
		return ErrNodeNotStarted
	}

	n.cut.RLock()
	if n.ctx.Err() != nil {
		n.cut.RUnlock()
		return ErrNodeStopped
	}
	balance, err := n.account.Withdraw(amount)
	if err == nil {
		ob.push(transport.NewTransfer(n.config.PeerID, amount))
	}
	n.cut.RUnlock()

	if err != nil {
		return fmt.Errorf("cannot send %d to %s with balance %d: %w", amount, peer, balance, err)
	}
	n.metrics.SetBalance(balance)
	return nil
}

// sendRandomTransfer sends a random amount, at most MaxTransfer and never more
// than the balance, to a random peer.
func (n *Node) sendRandomTransfer() {
	if len(n.peers) == 0 {
		return
	}
	balance := n.account.Balance()
	if balance <= 0 {
		n.logf("%s does not have any money", n.config.PeerID)
		return
	}

	amount := rand.Int63n(min(n.config.MaxTransfer, balance) + 1)
	peer := n.peers[rand.Intn(len(n.peers))]
	if err := n.SendTransfer(peer, amount); err != nil {
		n.errorf("Transfer to %s failed: %v", peer, err)
	}
}

// SendMarker queues a marker for peer. Called by the engine under the cut lock.
func (n *Node) SendMarker(peer snapshot.PeerID, marker snapshot.Marker) {
	if ob, ok := n.outboxes[peer]; ok {
		ob.push(transport.NewMarker(n.config.PeerID, marker))
	}
}

// BroadcastExit tells every peer to shut down. It bypasses the outboxes so it
// also works while the node is stopping.
func (n *Node) BroadcastExit(ctx context.Context) error {
	var errs []error
	for _, peer := range n.peers {
		if err := n.channel.Send(ctx, peer, transport.NewExit(n.config.PeerID)); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors sending exit: %v", errs)
	}
	return nil
}

// delivered is called by an outbox after every send attempt.
func (n *Node) delivered(peer snapshot.PeerID, msg transport.Message, err error) {
	switch msg.Kind {
	case transport.KindTransfer:
		if err != nil {
			n.errorf("Failed to send %d to %s: %v", msg.Amount, peer, err)
			n.metrics.TransferFailed()
			n.refund(msg.Amount)
			return
		}
		n.metrics.TransferSent(msg.Amount)
		n.logf("%-50s \t %-20s",
			fmt.Sprintf("Sent %d to %s", msg.Amount, peer),
			fmt.Sprintf("Now Balance : %d", n.account.Balance()))
	case transport.KindMarker:
		if err != nil {
			n.errorf("Failed to send marker %s to %s: %v", msg.Marker.ID, peer, err)
			return
		}
		n.metrics.MarkerSent()
		n.debugf("Sent marker %s to %s", msg.Marker.ID, peer)
	}
}

func (n *Node) refund(amount int64) {
	n.cut.RLock()
	balance := n.account.Deposit(amount)
	n.cut.RUnlock()
	n.metrics.SetBalance(balance)
}

func (n *Node) refundDropped(peer snapshot.PeerID, dropped []transport.Message) {
	if len(dropped) == 0 {
		return
	}
	var refunded int64
	for _, msg := range dropped {
		if msg.Kind == transport.KindTransfer {
			refunded += msg.Amount
		}
	}
	if refunded != 0 {
		n.refund(refunded)
	}
	n.debugf("Dropped %d undelivered messages to %s, refunded %d", len(dropped), peer, refunded)
}

func (n *Node) snapshotStarted(marker snapshot.Marker, receivedFrom snapshot.PeerID) {
	n.metrics.SnapshotStarted()
	n.metrics.SetActiveSnapshots(n.engine.Tracker().ActiveCount())
}

func (n *Node) snapshotCompleted(snap snapshot.LocalSnapshot) {
	n.metrics.SnapshotCompleted()
	n.metrics.SetActiveSnapshots(n.engine.Tracker().ActiveCount())
}

// GetConfig returns the node configuration (for external access)
func (n *Node) GetConfig() *Config {
	return n.config
}

func (n *Node) PeerID() snapshot.PeerID {
	return n.config.PeerID
}

// Peers returns every other peer in name order.
func (n *Node) Peers() []snapshot.PeerID {
	return append([]snapshot.PeerID(nil), n.peers...)
}

func (n *Node) Balance() int64 {
	return n.account.Balance()
}

// Pending counts outbound messages not yet delivered.
func (n *Node) Pending() int {
	total := 0
	for _, ob := range n.outboxes {
		total += ob.pending()
	}
	return total
}

func (n *Node) ActiveSnapshots() []snapshot.LocalSnapshot {
	return n.engine.Tracker().Active()
}

// History returns completed local snapshots in completion order.
func (n *Node) History() []snapshot.LocalSnapshot {
	return n.engine.Tracker().History()
}

// Snapshot returns the local snapshot for id, active or complete.
func (n *Node) Snapshot(id snapshot.MarkerID) (snapshot.LocalSnapshot, bool) {
	return n.engine.Tracker().Get(id)
}

// Done is closed when an exit message is received.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

func (n *Node) Metrics() *metrics.Metrics {
	return n.metrics
}

// Addr returns the address the gRPC server is bound to.
func (n *Node) Addr() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.grpcServer != nil {
		return n.grpcServer.Addr()
	}
	return n.config.GetAddress()
}

// logf logs using the global logger (which handles both stdout and log buffer)
func (n *Node) logf(format string, args ...interface{}) {
	logger.Peerf(string(n.config.PeerID), format, args...)
}

func (n *Node) debugf(format string, args ...interface{}) {
	logger.PeerDebugf(string(n.config.PeerID), format, args...)
}

func (n *Node) errorf(format string, args ...interface{}) {
	logger.PeerErrorf(string(n.config.PeerID), format, args...)
}
