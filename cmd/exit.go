package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/chandylamport/logger"
	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
	"github.com/adamgarcia4/goLearning/chandylamport/transport"
)

var (
	exitSender  string
	exitTimeout time.Duration
)

var exitCmd = &cobra.Command{
	Use:   "exit ADDRESS...",
	Short: "Tell running peers to shut down",
	Long: `Send an exit message to each peer at the given addresses.

Examples:
  chandylamport exit 127.0.0.1:50051 127.0.0.1:50052 127.0.0.1:50053`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExit,
}

func init() {
	rootCmd.AddCommand(exitCmd)

	exitCmd.Flags().StringVar(&exitSender, "sender", "cli", "Sender id put on the exit message")
	exitCmd.Flags().DurationVar(&exitTimeout, "timeout", 5*time.Second, "Timeout for each peer")
}

func runExit(cmd *cobra.Command, args []string) error {
	if err := initLogger(true); err != nil {
		return err
	}

	// The addresses double as peer ids; the roster only routes.
	roster := make(map[snapshot.PeerID]string, len(args))
	for _, addr := range args {
		roster[snapshot.PeerID(addr)] = addr
	}
	channel, err := transport.NewGRPCChannel(roster)
	if err != nil {
		return err
	}
	defer channel.Close()

	msg := transport.NewExit(snapshot.PeerID(exitSender))
	failed := 0
	for _, addr := range args {
		ctx, cancel := context.WithTimeout(cmd.Context(), exitTimeout)
		err := channel.Send(ctx, snapshot.PeerID(addr), msg)
		cancel()
		if err != nil {
			logger.Errorf("Failed to send exit to %s: %v", addr, err)
			failed++
			continue
		}
		logger.Infof("Sent exit to %s", addr)
	}
	if failed > 0 {
		return fmt.Errorf("exit not delivered to %d of %d peers", failed, len(args))
	}
	return nil
}
