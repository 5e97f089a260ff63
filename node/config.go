package node

import (
	"os"
	"sort"
	"time"

	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
)

// Default configuration constants
const (
	DefaultAddress          = "127.0.0.1"
	DefaultPort             = "8763"
	DefaultPeerID           = "peer-1"
	DefaultInitialBalance   = 1000
	DefaultMaxTransfer      = 100
	DefaultTransferInterval = time.Second
)

// Config holds the configuration for a peer
type Config struct {
	// Peer identification
	PeerID snapshot.PeerID

	// Server configuration
	Address string
	Port    string

	// Static roster of every other peer: id -> host:port
	Peers map[snapshot.PeerID]string

	// Money transfer configuration
	InitialBalance   int64
	MaxTransfer      int64
	TransferInterval time.Duration
	ManualTransfers  bool          // If true, no background transfers are sent
	StartupDelay     time.Duration // Wait before the first background transfer

	// Snapshot configuration
	SnapshotInterval time.Duration // 0 disables periodic snapshots

	// Metrics are served on this address when set (e.g. "127.0.0.1:9100")
	MetricsAddress string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig(peerID snapshot.PeerID) *Config {
	return &Config{
		PeerID:           peerID,
		Address:          DefaultAddress,
		Port:             DefaultPort,
		Peers:            map[snapshot.PeerID]string{},
		InitialBalance:   DefaultInitialBalance,
		MaxTransfer:      DefaultMaxTransfer,
		TransferInterval: DefaultTransferInterval,
	}
}

// ResolvePeerID returns the host name, the usual identity of a peer, or
// DefaultPeerID when it cannot be resolved.
func ResolvePeerID() snapshot.PeerID {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return DefaultPeerID
	}
	return snapshot.PeerID(host)
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.PeerID == "" {
		return ErrPeerIDRequired
	}
	if c.Address == "" {
		return ErrAddressRequired
	}
	if c.Port == "" {
		return ErrPortRequired
	}
	for peer, addr := range c.Peers {
		if peer == c.PeerID {
			return ErrSelfInRoster
		}
		if peer == "" {
			return ErrPeerIDRequired
		}
		if addr == "" {
			return ErrPeerAddressRequired
		}
	}
	if c.InitialBalance < 0 {
		return ErrNegativeBalance
	}
	if c.MaxTransfer <= 0 {
		return ErrInvalidMaxTransfer
	}
	if !c.ManualTransfers && c.TransferInterval <= 0 {
		return ErrInvalidTransferInterval
	}
	if c.SnapshotInterval < 0 {
		return ErrInvalidSnapshotInterval
	}
	if c.StartupDelay < 0 {
		return ErrInvalidStartupDelay
	}
	return nil
}

// GetAddress returns the full address (address:port)
func (c *Config) GetAddress() string {
	return c.Address + ":" + c.Port
}

// PeerIDs returns the roster ids in name order
func (c *Config) PeerIDs() []snapshot.PeerID {
	peers := make([]snapshot.PeerID, 0, len(c.Peers))
	for peer := range c.Peers {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}
