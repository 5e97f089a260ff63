package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/chandylamport/logger"
)

var rootCmd = &cobra.Command{
	Use:   "chandylamport",
	Short: "Chandy-Lamport distributed snapshot peer",
	Long: `A peer that keeps transferring money to the other peers of a static roster
and takes consistent global snapshots of balances and in-flight transfers with
the Chandy-Lamport algorithm.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")
}

var logLevel string

// initLogger sets up the global logger at the --log-level level.
func initLogger(writeToStdout bool) error {
	logger.Init("", writeToStdout)
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	return logger.SetLevel(level)
}
