package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AlecAivazis/survey/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"agentTrader/config"
	"agentTrader/internal/adapters/analysisclient"
	"agentTrader/internal/adapters/binanceclient"
	"agentTrader/internal/adapters/logger"
	"agentTrader/internal/adapters/paper"
	"agentTrader/internal/adapters/sqlite"
	"agentTrader/internal/adapters/watchlist"
	"agentTrader/internal/adapters/yahoo"
	"agentTrader/internal/app"
	"agentTrader/internal/executor"
	"agentTrader/internal/monitor"
	"agentTrader/internal/ports"
	"agentTrader/internal/risk"
)

type runOptions struct {
	balance   float64
	live      bool
	yes       bool
	watchlist string
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the trading loop",
		Long: `Start the trading loop and keep it running until interrupted.

The first interrupt requests a graceful stop: open positions are closed with
reason SHUTDOWN before the process exits. A second interrupt abandons the
remaining closes: an order already sent is left to finish and any position
still open is reported as unresolved.

Example:
  agent-trader run --balance 1000 --watchlist watchlist.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg, opts); err != nil {
				return err
			}
			if cfg.EnableLiveTrading && !opts.yes {
				if err := confirmLive(survey.AskOne, cfg.IsTestnet); err != nil {
					return err
				}
			}
			return runLoop(cmd.Context(), cfg)
		},
	}

	cmd.Flags().Float64Var(&opts.balance, "balance", 100, "initial balance for a fresh session (ignored when resuming)")
	cmd.Flags().BoolVar(&opts.live, "live", false, "route orders to Binance instead of the paper gateway")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "skip the live trading confirmation")
	cmd.Flags().StringVar(&opts.watchlist, "watchlist", "", "path to a YAML watchlist (overrides WATCHLIST_PATH)")
	return cmd
}

// applyRunFlags lets explicit flags override the environment, then revalidates.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, opts *runOptions) error {
	flags := cmd.Flags()
	if flags.Changed("balance") {
		cfg.InitialBalance = decimal.NewFromFloat(opts.balance)
	}
	if flags.Changed("live") {
		cfg.EnableLiveTrading = opts.live
	}
	if flags.Changed("watchlist") {
		cfg.WatchlistPath = opts.watchlist
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

func runLoop(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	svc, err := buildService(ctx, cfg, repo, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading service")
		return err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		appLogger.Info(ctx, "Interrupt received, stopping after the current step")
		svc.Stop()
		select {
		case <-sigCh:
			appLogger.Warn(ctx, "Second interrupt received, abandoning shutdown")
			svc.Abort()
			cancel()
		case <-ctx.Done():
		}
	}()

	reason, err := svc.Run(ctx)
	appLogger.Info(context.Background(), "Trading loop finished", map[string]interface{}{"reason": reason})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildService wires adapters and core components for one session.
func buildService(ctx context.Context, cfg *config.Config, repo ports.StateRepository, log ports.Logger) (*app.TradingService, error) {
	clock := ports.SystemClock{}
	limits := cfg.RiskLimits()

	calendar, err := cfg.Calendar()
	if err != nil {
		return nil, err
	}

	var venue *binanceclient.Client
	if cfg.EnableLiveTrading || cfg.PriceSource == config.PriceSourceBinance {
		venue, err = binanceclient.New(binanceclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			Logger:     log,
		})
		if err != nil {
			return nil, err
		}
	}

	var gateway ports.ExecutionGateway = paper.NewGateway(clock, log)
	if cfg.EnableLiveTrading {
		gateway = venue
		log.Warn(ctx, "LIVE TRADING ENABLED: orders will be sent to Binance", map[string]interface{}{"testnet": cfg.IsTestnet})
	} else {
		log.Info(ctx, "Paper trading mode: fills are simulated at the quoted price")
	}

	var prices ports.MarketData
	if cfg.PriceSource == config.PriceSourceBinance {
		prices = venue
	} else {
		prices, err = yahoo.NewQuotes(log)
		if err != nil {
			return nil, err
		}
	}

	analysis, err := analysisclient.New(analysisclient.Config{
		BaseURL:    cfg.AnalysisURL,
		APIKey:     cfg.AnalysisAPIKey,
		Timeout:    cfg.AnalysisTimeout,
		RetryCount: cfg.AnalysisRetries,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	opportunities, err := watchlist.New(watchlist.Config{
		Path:     cfg.WatchlistPath,
		PerCycle: cfg.OpportunitiesPerCycle,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	l, err := app.RestoreLedger(ctx, repo, cfg.InitialBalance, clock.Now(), log)
	if err != nil {
		return nil, err
	}

	exec, err := executor.New(gateway, l, executor.Config{
		Account:      cfg.TradingAccountID,
		OrderTimeout: cfg.OrderTimeout,
		Limits:       limits,
		Logger:       log,
		Clock:        clock,
	})
	if err != nil {
		return nil, err
	}

	settings := app.DefaultSettings()
	settings.ClosedMarketSleep = cfg.ClosedMarketSleep
	settings.ErrorBackoff = cfg.ErrorBackoff
	settings.AnalysisPacing = cfg.AnalysisPacing
	settings.AnalysisTimeout = cfg.AnalysisTimeout
	settings.PriceTimeout = cfg.PriceTimeout
	settings.ShutdownTimeout = cfg.ShutdownTimeout

	return app.NewTradingService(app.Dependencies{
		Logger:        log,
		Clock:         clock,
		Ledger:        l,
		Gate:          risk.NewGate(limits),
		Executor:      exec,
		Monitor:       monitor.New(prices, calendar, monitor.Config{PriceTimeout: cfg.PriceTimeout, Logger: log}),
		Calendar:      calendar,
		Prices:        prices,
		Analysis:      analysis,
		Opportunities: opportunities,
		Repo:          repo,
	}, settings)
}
