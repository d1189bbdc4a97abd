// Package main provides the CLI entry point for swarmkit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackms/swarmkit/cmd/swarmkit/commands"
)

var (
	version = "0.1.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "swarmkit",
	Short: "swarmkit - decentralized swarm coordination",
	Long: `swarmkit coordinates groups of agents without a central authority.

It provides:
  - Swarm formation with leaders, goals and lifecycle states
  - Pheromone markers that decay over time
  - Collective memory with confidence scores
  - Voting with quorum, weights and vetoes
  - Task auctions with a fairness bonus
  - Load balancing, work stealing and fault tolerance
  - Emergent pattern and synergy detection`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&commands.ConfigPath, "config", "c", "", "Config file (default: user and project config)")

	rootCmd.AddCommand(commands.SimulateCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
}
