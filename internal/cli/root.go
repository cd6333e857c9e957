// Package cli is the command-line surface of the trading agent.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"agentTrader/config"
	"agentTrader/internal/adapters/logger"
	"agentTrader/internal/adapters/sqlite"
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "agent-trader",
		Short: "Autonomous trading loop driven by an external analysis service",
		Long: `agent-trader runs a supervised trading loop during market hours.

It asks an analysis service for BUY/SELL/HOLD decisions, passes every intent
through a risk gate, executes approved orders on a paper or live venue and
closes positions on stop-loss, take-profit, end of day and shutdown.

Paper trading is the default and may quote prices from Yahoo or Binance. Live
trading sends orders to Binance spot, requires PRICE_SOURCE=binance so orders
are sized against the venue's own prices, and asks for an interactive
confirmation unless --yes is given.`,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCommand(), newStatusCommand(), newTradesCommand())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// openRepository loads configuration and opens the state store for the
// read-only commands.
func openRepository(ctx context.Context, stderr io.Writer) (*config.Config, *sqlite.Repository, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewWriterLogger(stderr, cfg.LogLevel)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: log})
	if err != nil {
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}
	log.Debug(ctx, "State store opened", map[string]interface{}{"path": cfg.DBPath})
	return cfg, repo, nil
}
