package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
)

// MemoryNetwork connects handlers in the same process. Every message still
// goes through Encode and Decode so it sees the same validation as gRPC.
type MemoryNetwork struct {
	mu       sync.RWMutex
	handlers map[snapshot.PeerID]Handler
	down     map[snapshot.PeerID]bool
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		handlers: make(map[snapshot.PeerID]Handler),
		down:     make(map[snapshot.PeerID]bool),
	}
}

func (n *MemoryNetwork) Register(peer snapshot.PeerID, handler Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[peer] = handler
	delete(n.down, peer)
}

func (n *MemoryNetwork) Unregister(peer snapshot.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, peer)
}

// SetDown makes deliveries to peer fail as if it were unreachable.
func (n *MemoryNetwork) SetDown(peer snapshot.PeerID, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[peer] = down
}

func (n *MemoryNetwork) handler(peer snapshot.PeerID) (Handler, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.down[peer] {
		return nil, fmt.Errorf("peer %s is unreachable", peer)
	}
	h, ok := n.handlers[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	return h, nil
}

// Channel returns the sending side for self.
func (n *MemoryNetwork) Channel(self snapshot.PeerID) Channel {
	return &memoryChannel{
		network: n,
		self:    self,
		locks:   make(map[snapshot.PeerID]*sync.Mutex),
	}
}

type memoryChannel struct {
	network *MemoryNetwork
	self    snapshot.PeerID

	mu     sync.Mutex
	locks  map[snapshot.PeerID]*sync.Mutex
	closed bool
}

func (c *memoryChannel) lock(peer snapshot.PeerID) (*sync.Mutex, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	l, ok := c.locks[peer]
	if !ok {
		l = &sync.Mutex{}
		c.locks[peer] = l
	}
	return l, nil
}

func (c *memoryChannel) Send(ctx context.Context, peer snapshot.PeerID, msg Message) error {
	wire, err := Encode(msg)
	if err != nil {
		return err
	}
	l, err := c.lock(peer)
	if err != nil {
		return err
	}

	l.Lock()
	defer l.Unlock()

	h, err := c.network.handler(peer)
	if err != nil {
		return err
	}
	decoded, err := Decode(wire)
	if err != nil {
		return err
	}
	return h.HandleMessage(ctx, decoded)
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
