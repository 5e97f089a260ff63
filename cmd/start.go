package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/chandylamport/logger"
	"github.com/adamgarcia4/goLearning/chandylamport/node"
	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
)

var (
	address          string
	port             string
	peerID           string
	peers            map[string]string
	initialBalance   int64
	maxTransfer      int64
	transferInterval time.Duration
	snapshotInterval time.Duration
	startupDelay     time.Duration
	manualTransfers  bool
	metricsAddress   string
	broadcastExit    bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a peer",
	Long: `Start a peer that transfers money to its peers and takes part in snapshots.

Every peer needs the full roster of the other peers.

Examples:
  # Three peers on one machine, peer-1 taking a snapshot every 2 seconds
  chandylamport start --peer-id=peer-1 --port=50051 --peers=peer-2=127.0.0.1:50052,peer-3=127.0.0.1:50053 --snapshot-interval=2s
  chandylamport start --peer-id=peer-2 --port=50052 --peers=peer-1=127.0.0.1:50051,peer-3=127.0.0.1:50053
  chandylamport start --peer-id=peer-3 --port=50053 --peers=peer-1=127.0.0.1:50051,peer-2=127.0.0.1:50052`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	// Server flags
	startCmd.Flags().StringVarP(&address, "address", "a", node.DefaultAddress, "Address to bind the server to")
	startCmd.Flags().StringVarP(&port, "port", "p", node.DefaultPort, "Port to bind the server to")
	startCmd.Flags().StringVarP(&peerID, "peer-id", "n", string(node.ResolvePeerID()), "Unique peer identifier (defaults to the host name)")
	startCmd.Flags().StringToStringVar(&peers, "peers", map[string]string{}, "Other peers as id=host:port (comma-separated)")

	// Transfer flags
	startCmd.Flags().Int64Var(&initialBalance, "initial-balance", node.DefaultInitialBalance, "Starting balance")
	startCmd.Flags().Int64Var(&maxTransfer, "max-transfer", node.DefaultMaxTransfer, "Largest single transfer")
	startCmd.Flags().DurationVar(&transferInterval, "transfer-interval", node.DefaultTransferInterval, "Time between transfers")
	startCmd.Flags().DurationVar(&startupDelay, "startup-delay", 0, "Wait before the first transfer, so the other peers can start")
	startCmd.Flags().BoolVar(&manualTransfers, "manual-transfers", false, "Do not send transfers in the background")

	// Snapshot flags
	startCmd.Flags().DurationVar(&snapshotInterval, "snapshot-interval", 0, "Initiate a snapshot this often (0 disables)")

	startCmd.Flags().StringVar(&metricsAddress, "metrics-address", "", "Serve prometheus metrics on this address (e.g. 127.0.0.1:9100)")
	startCmd.Flags().BoolVar(&broadcastExit, "broadcast-exit", false, "Tell every peer to exit when this peer shuts down")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Initialize logger for non-interactive mode (write to stdout)
	if err := initLogger(true); err != nil {
		return err
	}

	// Create peer configuration with defaults
	config := node.DefaultConfig(snapshot.PeerID(peerID))

	// Override with CLI flags
	config.Address = address
	config.Port = port
	for id, addr := range peers {
		config.Peers[snapshot.PeerID(id)] = addr
	}
	config.InitialBalance = initialBalance
	config.MaxTransfer = maxTransfer
	config.TransferInterval = transferInterval
	config.StartupDelay = startupDelay
	config.ManualTransfers = manualTransfers
	config.SnapshotInterval = snapshotInterval
	config.MetricsAddress = metricsAddress

	// Create and start the peer
	n, err := node.New(config)
	if err != nil {
		return fmt.Errorf("failed to create peer: %w", err)
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("failed to start peer: %w", err)
	}

	// Wait for interrupt signal or an exit message from a peer
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-n.Done():
	}

	logger.Info("Shutting down...")
	if broadcastExit {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.BroadcastExit(ctx); err != nil {
			logger.Errorf("Error broadcasting exit: %v", err)
		}
		cancel()
	}
	if err := n.Stop(); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}
	return nil
}
