package node

import (
	"fmt"
	"sync"

	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
	"github.com/adamgarcia4/goLearning/chandylamport/transport"
)

// DefaultBasePort is the first port handed out to gRPC peers of a cluster.
const DefaultBasePort = 50051

// ManagerConfig controls how a Manager builds its cluster.
type ManagerConfig struct {
	// InMemory connects peers through a transport.MemoryNetwork instead of gRPC
	InMemory bool
	// BasePort is the port of the first peer; the others follow it
	BasePort int
	// Configure is applied to every peer config before the peer is created
	Configure func(*Config)
}

// Manager manages a fully connected cluster of nodes in one process
type Manager struct {
	nodes       []*Node                 // maintain order with slice
	nodeMap     map[snapshot.PeerID]int // map peer ID to index for quick lookup
	mu          sync.RWMutex
	portCounter int // for auto-assigning ports
	config      ManagerConfig
	network     *transport.MemoryNetwork
}

// NewManager creates a new node manager
func NewManager(config ManagerConfig) *Manager {
	if config.BasePort == 0 {
		config.BasePort = DefaultBasePort
	}
	m := &Manager{
		nodes:       make([]*Node, 0),
		nodeMap:     make(map[snapshot.PeerID]int),
		portCounter: config.BasePort,
		config:      config,
	}
	if config.InMemory {
		m.network = transport.NewMemoryNetwork()
	}
	return m
}

// StartCluster creates size peers named peer-1 .. peer-N, each with every
// other peer in its roster, and starts them.
func (m *Manager) StartCluster(size int) error {
	if size < 1 {
		return fmt.Errorf("cluster size must be at least 1, got %d", size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.nodes) > 0 {
		return fmt.Errorf("cluster already started with %d peers", len(m.nodes))
	}

	ids := make([]snapshot.PeerID, size)
	ports := make([]int, size)
	addrs := make(map[snapshot.PeerID]string, size)
	for i := range ids {
		ids[i] = snapshot.PeerID(fmt.Sprintf("peer-%d", i+1))
		ports[i] = m.findAvailablePort()
		addrs[ids[i]] = fmt.Sprintf("%s:%d", DefaultAddress, ports[i])
	}

	nodes := make([]*Node, 0, size)
	for i, id := range ids {
		config := DefaultConfig(id)
		config.Port = fmt.Sprintf("%d", ports[i])
		for peer, addr := range addrs {
			if peer != id {
				config.Peers[peer] = addr
			}
		}
		if m.config.Configure != nil {
			m.config.Configure(config)
		}

		var opts []Option
		if m.network != nil {
			opts = append(opts, WithChannel(m.network.Channel(id)))
		}

		node, err := New(config, opts...)
		if err != nil {
			return fmt.Errorf("failed to create node %s: %w", id, err)
		}
		if m.network != nil {
			m.network.Register(id, node)
		}
		nodes = append(nodes, node)
	}

	for i, node := range nodes {
		if err := node.Start(); err != nil {
			for _, started := range nodes[:i] {
				_ = started.Stop()
			}
			return fmt.Errorf("failed to start node %s: %w", node.PeerID(), err)
		}
	}

	// Add to slice and map
	for i, node := range nodes {
		m.nodes = append(m.nodes, node)
		m.nodeMap[node.PeerID()] = i
	}
	return nil
}

// GetNodes returns a list of all nodes (maintains order)
func (m *Manager) GetNodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Return a copy to avoid race conditions
	nodes := make([]*Node, len(m.nodes))
	copy(nodes, m.nodes)
	return nodes
}

// GetNode returns the node at index.
func (m *Manager) GetNode(index int) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= len(m.nodes) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNodeIndex, index)
	}
	return m.nodes[index], nil
}

// Lookup returns the node with the given id.
func (m *Manager) Lookup(id snapshot.PeerID) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	index, ok := m.nodeMap[id]
	if !ok {
		return nil, false
	}
	return m.nodes[index], true
}

// Initiate starts a snapshot on the node at index.
func (m *Manager) Initiate(index int) (snapshot.Marker, error) {
	node, err := m.GetNode(index)
	if err != nil {
		return snapshot.Marker{}, err
	}
	return node.InitiateSnapshot(), nil
}

// GlobalSnapshot assembles snapshot id from every node. It fails with
// ErrGlobalSnapshotIncomplete until every node has completed it.
func (m *Manager) GlobalSnapshot(id snapshot.MarkerID) (snapshot.Global, error) {
	nodes := m.GetNodes()
	locals := make([]snapshot.LocalSnapshot, 0, len(nodes))
	for _, node := range nodes {
		local, ok := node.Snapshot(id)
		if !ok || !local.Complete() {
			return snapshot.Global{}, fmt.Errorf("%w: %s on %s", ErrGlobalSnapshotIncomplete, id, node.PeerID())
		}
		locals = append(locals, local)
	}
	return snapshot.Assemble(locals)
}

// LatestGlobalSnapshot returns the most recent snapshot that has completed on
// every node.
func (m *Manager) LatestGlobalSnapshot() (snapshot.Global, bool) {
	nodes := m.GetNodes()
	if len(nodes) == 0 {
		return snapshot.Global{}, false
	}

	history := nodes[0].History()
	for i := len(history) - 1; i >= 0; i-- {
		if global, err := m.GlobalSnapshot(history[i].ID); err == nil {
			return global, true
		}
	}
	return snapshot.Global{}, false
}

// TotalBalance sums the current balances. Transfers in flight are not
// included, so the sum only equals the money supply when the cluster is idle.
func (m *Manager) TotalBalance() int64 {
	var total int64
	for _, node := range m.GetNodes() {
		total += node.Balance()
	}
	return total
}

// Pending counts undelivered messages across the cluster.
func (m *Manager) Pending() int {
	total := 0
	for _, node := range m.GetNodes() {
		total += node.Pending()
	}
	return total
}

// findAvailablePort finds the next available port
func (m *Manager) findAvailablePort() int {
	// Simple implementation: increment port counter
	port := m.portCounter
	m.portCounter++
	return port
}

// StopAll stops all nodes
func (m *Manager) StopAll() error {
	m.mu.Lock()
	nodes := make([]*Node, len(m.nodes))
	copy(nodes, m.nodes)
	m.mu.Unlock()

	var errs []error
	for _, node := range nodes {
		if err := node.Stop(); err != nil {
			errs = append(errs, err)
		}
		if m.network != nil {
			m.network.Unregister(node.PeerID())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors stopping nodes: %v", errs)
	}

	return nil
}
