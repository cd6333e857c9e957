package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"agentTrader/internal/domain"
	"agentTrader/internal/executor"
	"agentTrader/internal/ledger"
	"agentTrader/internal/market"
	"agentTrader/internal/monitor"
	"agentTrader/internal/ports"
	"agentTrader/internal/risk"
)

// State is the controller's position in its state machine.
type State string

const (
	StateMarketClosed State = "MARKET_CLOSED"
	StateIdle         State = "IDLE"
	StateMonitoring   State = "MONITORING"
	StateAnalyzing    State = "ANALYZING"
	StateShuttingDown State = "SHUTTING_DOWN"
)

// TerminalReason explains why Run returned.
type TerminalReason string

const (
	StopRequested   TerminalReason = "STOP_REQUESTED"
	BalanceDepleted TerminalReason = "BALANCE_DEPLETED"
)

// Dependencies are the collaborators the trading loop drives.
type Dependencies struct {
	Logger        ports.Logger
	Clock         ports.Clock
	Ledger        *ledger.Ledger
	Gate          *risk.Gate
	Executor      *executor.Executor
	Monitor       *monitor.Monitor
	Calendar      *market.Calendar
	Prices        ports.MarketData
	Analysis      ports.AnalysisEngine
	Opportunities ports.OpportunitySource
	Repo          ports.StateRepository
}

// Settings tune pacing and timeouts of the loop.
type Settings struct {
	ClosedMarketSleep time.Duration
	ErrorBackoff      time.Duration
	AnalysisPacing    time.Duration
	AnalysisTimeout   time.Duration
	PriceTimeout      time.Duration
	ShutdownTimeout   time.Duration
	ShutdownRetries   int
}

// DefaultSettings mirrors the production pacing.
func DefaultSettings() Settings {
	return Settings{
		ClosedMarketSleep: 5 * time.Minute,
		ErrorBackoff:      60 * time.Second,
		AnalysisPacing:    10 * time.Second,
		AnalysisTimeout:   5 * time.Minute,
		PriceTimeout:      10 * time.Second,
		ShutdownTimeout:   2 * time.Minute,
		ShutdownRetries:   3,
	}
}

// TradingService is the trading loop controller. Run owns the ledger for its
// whole lifetime; nothing else may mutate it while the loop is running.
type TradingService struct {
	deps     Dependencies
	settings Settings
	limits   domain.RiskLimits

	lastAnalysis  time.Time
	pendingCloses map[string]domain.CloseReason

	mu    sync.Mutex // Protects state
	state State

	stopOnce sync.Once
	stopCh   chan struct{}

	abortOnce sync.Once
	abortCh   chan struct{}
}

// NewTradingService creates a new controller instance.
func NewTradingService(deps Dependencies, settings Settings) (*TradingService, error) {
	if deps.Logger == nil || deps.Ledger == nil || deps.Gate == nil || deps.Executor == nil ||
		deps.Monitor == nil || deps.Calendar == nil || deps.Prices == nil || deps.Analysis == nil ||
		deps.Opportunities == nil || deps.Repo == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if settings.ClosedMarketSleep <= 0 || settings.ErrorBackoff <= 0 || settings.AnalysisTimeout <= 0 ||
		settings.PriceTimeout <= 0 || settings.ShutdownTimeout <= 0 {
		return nil, fmt.Errorf("configuration sleeps and timeouts must be positive")
	}
	if settings.AnalysisPacing < 0 {
		return nil, fmt.Errorf("configuration AnalysisPacing must not be negative")
	}
	if settings.ShutdownRetries <= 0 {
		settings.ShutdownRetries = 1
	}
	return &TradingService{
		deps:          deps,
		settings:      settings,
		limits:        deps.Gate.Limits(),
		pendingCloses: make(map[string]domain.CloseReason),
		state:         StateIdle,
		stopCh:        make(chan struct{}),
		abortCh:       make(chan struct{}),
	}, nil
}

// State returns the current controller state. Safe for concurrent use.
func (s *TradingService) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *TradingService) setState(ctx context.Context, next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.deps.Logger.Debug(ctx, "State transition", map[string]interface{}{"from": prev, "to": next})
	}
}

// Stop asks the loop to shut down. It returns immediately and may be called
// more than once and from any goroutine.
func (s *TradingService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Abort stops the loop and abandons the shutdown closes. An order already
// sent to the venue is left to finish, but no further close is attempted.
func (s *TradingService) Abort() {
	s.Stop()
	s.abortOnce.Do(func() { close(s.abortCh) })
}

func (s *TradingService) aborted() bool {
	select {
	case <-s.abortCh:
		return true
	default:
		return false
	}
}

func (s *TradingService) stopRequested(ctx context.Context) bool {
	select {
	case <-s.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Run drives the loop until Stop is called, ctx is canceled or equity is
// depleted, then closes every open position. The returned error is non-nil
// when positions could not be closed.
func (s *TradingService) Run(ctx context.Context) (TerminalReason, error) {
	s.deps.Logger.Info(ctx, "Starting trading loop", map[string]interface{}{
		"cash":      s.deps.Ledger.Cash().StringFixed(2),
		"equity":    s.deps.Ledger.Equity().StringFixed(2),
		"positions": s.deps.Ledger.OpenPositionCount(),
		"simulated": s.deps.Executor.Simulated(),
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	reason := StopRequested
	for {
		if s.stopRequested(runCtx) {
			break
		}
		if !s.deps.Ledger.Equity().IsPositive() {
			reason = BalanceDepleted
			break
		}
		wait := s.safeTick(runCtx)
		if !s.deps.Ledger.Equity().IsPositive() {
			reason = BalanceDepleted
			break
		}
		if !s.sleep(runCtx, wait) {
			break
		}
	}

	s.deps.Logger.Info(ctx, "Trading loop terminating", map[string]interface{}{
		"reason": reason,
		"equity": s.deps.Ledger.Equity().StringFixed(2),
	})
	err := s.shutdown(ctx)
	return reason, err
}

// sleep waits for d on the injected clock and returns false if the wait was
// interrupted by a stop.
func (s *TradingService) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !s.stopRequested(ctx)
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.stopCh:
		return false
	case <-s.deps.Clock.After(d):
		return true
	}
}

// safeTick runs one pass and converts a panic into the error backoff.
func (s *TradingService) safeTick(ctx context.Context) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.deps.Logger.Error(ctx, fmt.Errorf("panic: %v", r), "Trading loop pass failed, backing off", map[string]interface{}{
				"backoff": s.settings.ErrorBackoff.String(),
			})
			wait = s.settings.ErrorBackoff
		}
	}()
	return s.Tick(ctx)
}

// Tick performs one controller pass and returns how long to wait before the next.
func (s *TradingService) Tick(ctx context.Context) time.Duration {
	now := s.deps.Clock.Now()
	s.rollover(ctx, now)

	if !s.deps.Calendar.IsOpen(now) {
		s.setState(ctx, StateMarketClosed)
		s.deps.Logger.Debug(ctx, "Market closed", map[string]interface{}{"next_check": s.settings.ClosedMarketSleep.String()})
		return s.settings.ClosedMarketSleep
	}

	s.setState(ctx, StateMonitoring)
	s.monitorPositions(ctx, now)

	if s.analysisDue(now) && !s.stopRequested(ctx) {
		s.setState(ctx, StateAnalyzing)
		s.runAnalysisCycle(ctx, now)
		s.lastAnalysis = now
	}

	s.setState(ctx, StateIdle)
	s.logStatus(ctx)
	return s.limits.RiskCheckInterval
}

func (s *TradingService) analysisDue(now time.Time) bool {
	return s.lastAnalysis.IsZero() || now.Sub(s.lastAnalysis) >= s.limits.AnalysisInterval
}

// rollover emits the daily summary once per trading day after the cutoff. A
// day that was active but never summarized (process down at the cutoff) is
// summarized on the next pass.
func (s *TradingService) rollover(ctx context.Context, now time.Time) {
	cal := s.deps.Calendar
	l := s.deps.Ledger
	today := cal.TradingDate(now)
	last := l.LastSummaryDate()

	if !cal.IsOpen(now) && cal.PastSummaryCutoff(now) && last != today {
		s.emitDailySummary(ctx, today, now)
		return
	}
	if l.UpdatedAt().IsZero() {
		return
	}
	if active := cal.TradingDate(l.UpdatedAt()); active < today && last < active {
		s.emitDailySummary(ctx, active, now)
	}
}

func (s *TradingService) emitDailySummary(ctx context.Context, date string, now time.Time) {
	l := s.deps.Ledger
	summary := l.Summary(date, now)
	l.ResetDaily(date, now)

	s.deps.Logger.Info(ctx, "Daily summary", map[string]interface{}{
		"date":           summary.Date,
		"balance":        summary.Balance.StringFixed(2),
		"equity":         summary.Equity.StringFixed(2),
		"daily_pnl":      summary.DailyPnL.StringFixed(2),
		"daily_pnl_pct":  fmt.Sprintf("%.2f%%", summary.DailyPnLPct*100),
		"trades":         summary.TradeCount,
		"open_positions": summary.OpenPositionCount,
		"win_rate":       fmt.Sprintf("%.1f%%", summary.WinRate*100),
		"max_drawdown":   fmt.Sprintf("%.2f%%", summary.MaxDrawdown*100),
	})

	pctx := context.WithoutCancel(ctx)
	if err := s.deps.Repo.RecordDailySummary(pctx, summary); err != nil {
		s.deps.Logger.Error(ctx, err, "Failed to persist daily summary", map[string]interface{}{"date": date})
	}
	s.persist(ctx)
}

// monitorPositions marks every open position and executes forced exits,
// including closes that failed on an earlier pass.
func (s *TradingService) monitorPositions(ctx context.Context, now time.Time) {
	l := s.deps.Ledger
	positions := l.Positions()
	if len(positions) == 0 {
		return
	}

	res := s.deps.Monitor.Scan(ctx, positions, now)
	for _, m := range res.Marks {
		l.MarkPrice(m.Symbol, m.Price, now)
	}

	exits := res.Exits
	queued := make(map[string]bool, len(exits))
	for _, e := range exits {
		queued[e.Position.Symbol] = true
	}
	for sym, reason := range s.pendingCloses {
		if queued[sym] {
			continue
		}
		pos := l.Position(sym)
		if pos == nil {
			delete(s.pendingCloses, sym)
			continue
		}
		px, ok := markFor(res.Marks, sym)
		if !ok {
			continue
		}
		exits = append(exits, monitor.Exit{Position: pos, Price: px, Reason: reason})
	}
	sort.Slice(exits, func(i, j int) bool { return exits[i].Position.Symbol < exits[j].Position.Symbol })

	for _, exit := range exits {
		intent := exit.Intent()
		verdict := s.deps.Gate.Evaluate(intent, l, now)
		fields := verdict.Fields(intent)
		fields["close_reason"] = exit.Reason
		fields["price"] = exit.Price.String()
		fields["stop_loss"] = exit.Position.StopLossPrice.StringFixed(2)
		fields["take_profit"] = exit.Position.TakeProfitPrice.StringFixed(2)
		s.deps.Logger.Info(ctx, "Forced exit triggered", fields)
		s.closePosition(ctx, exit.Position.Symbol, exit.Price, exit.Reason)
	}
	s.persist(ctx)
}

func markFor(marks []monitor.Mark, symbol string) (decimal.Decimal, bool) {
	for _, m := range marks {
		if m.Symbol == symbol {
			return m.Price, true
		}
	}
	return decimal.Zero, false
}

// closePosition runs a sell to completion. Venue failures leave the close
// queued for the next pass; ledger rejections drop it since the position is
// already gone.
func (s *TradingService) closePosition(ctx context.Context, symbol string, price decimal.Decimal, reason domain.CloseReason) bool {
	op := "closePosition"
	trade, err := s.deps.Executor.Sell(context.WithoutCancel(ctx), symbol, price, reason)
	if err != nil {
		fields := map[string]interface{}{"symbol": symbol, "close_reason": reason, "price": price.String()}
		if executor.IsLedgerViolation(err) {
			delete(s.pendingCloses, symbol)
			s.deps.Logger.Error(ctx, err, op+": Ledger rejected close, dropping", fields)
			return false
		}
		s.pendingCloses[symbol] = reason
		s.deps.Logger.Warn(ctx, op+": Close failed, will retry next pass", mergeFields(fields, map[string]interface{}{"error": err.Error()}))
		return false
	}
	delete(s.pendingCloses, symbol)
	s.recordTrade(ctx, trade)
	return true
}

// runAnalysisCycle walks the opportunity set sequentially so every gate
// decision sees the effects of the previous candidate.
func (s *TradingService) runAnalysisCycle(ctx context.Context, now time.Time) {
	symbols, err := s.deps.Opportunities.Opportunities(ctx)
	if err != nil {
		s.deps.Logger.Warn(ctx, "Failed to fetch opportunities, skipping analysis cycle", map[string]interface{}{"error": err.Error()})
		return
	}
	s.deps.Logger.Info(ctx, "Analysis cycle started", map[string]interface{}{"candidates": symbols})

	for i, symbol := range symbols {
		if i > 0 && !s.sleep(ctx, s.settings.AnalysisPacing) {
			return
		}
		if s.stopRequested(ctx) {
			return
		}
		s.processCandidate(ctx, symbol, now)
	}
}

func (s *TradingService) processCandidate(ctx context.Context, symbol string, now time.Time) {
	analysis := s.analyze(ctx, symbol, now)
	intent, actionable := analysis.Intent()
	if !actionable {
		s.deps.Logger.Info(ctx, "No action", map[string]interface{}{
			"symbol":     symbol,
			"decision":   analysis.Decision,
			"confidence": analysis.Confidence,
		})
		return
	}

	if intent.Side == domain.IntentBuy && s.deps.Calendar.InPreCloseWindow(s.deps.Clock.Now()) {
		s.deps.Logger.Info(ctx, "Buy skipped, market closing soon", map[string]interface{}{
			"symbol":     symbol,
			"confidence": analysis.Confidence,
		})
		return
	}

	l := s.deps.Ledger
	verdict := s.deps.Gate.Evaluate(intent, l, s.deps.Clock.Now())
	if !verdict.Approved {
		s.deps.Logger.Info(ctx, "Trade intent denied", verdict.Fields(intent))
		return
	}

	price, err := s.quote(ctx, symbol)
	if err != nil {
		s.deps.Logger.Warn(ctx, "Price unavailable, skipping candidate", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return
	}

	switch intent.Side {
	case domain.IntentBuy:
		qty, sizing := risk.SizeOrder(l.Cash(), price, s.limits)
		if !sizing.Approved {
			s.deps.Logger.Info(ctx, "Trade intent denied", sizing.Fields(intent))
			return
		}
		if _, err := s.deps.Executor.Buy(context.WithoutCancel(ctx), symbol, qty, price, intent); err != nil {
			s.logExecutionFailure(ctx, err, "Buy failed", symbol)
			return
		}
		s.persist(ctx)
	case domain.IntentSell:
		s.closePosition(ctx, symbol, price, domain.CloseReasonSignal)
	}
}

func (s *TradingService) logExecutionFailure(ctx context.Context, err error, msg, symbol string) {
	fields := map[string]interface{}{"symbol": symbol}
	if executor.IsLedgerViolation(err) {
		s.deps.Logger.Error(ctx, err, msg+": ledger rejected order", fields)
		return
	}
	fields["error"] = err.Error()
	s.deps.Logger.Warn(ctx, msg, fields)
}

// analyze calls the engine under a timeout. Any failure degrades to HOLD.
func (s *TradingService) analyze(ctx context.Context, symbol string, now time.Time) domain.Analysis {
	actx, cancel := context.WithTimeout(ctx, s.settings.AnalysisTimeout)
	defer cancel()
	res, err := s.deps.Analysis.Analyze(actx, symbol, now)
	if err != nil {
		s.deps.Logger.Warn(ctx, "Analysis failed, treating as HOLD", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return domain.HoldAnalysis(symbol, now)
	}
	decision, ok := domain.ParseDecision(string(res.Decision))
	if !ok || !domain.ValidConfidence(res.Confidence) {
		s.deps.Logger.Warn(ctx, "Malformed analysis, treating as HOLD", map[string]interface{}{
			"symbol":     symbol,
			"decision":   res.Decision,
			"confidence": res.Confidence,
		})
		return domain.HoldAnalysis(symbol, now)
	}
	res.Decision = decision
	res.Symbol = symbol
	return res
}

func (s *TradingService) quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	qctx, cancel := context.WithTimeout(ctx, s.settings.PriceTimeout)
	defer cancel()
	price, err := s.deps.Prices.GetPrice(qctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s quoted at %s: %w", symbol, price, ports.ErrPriceUnavailable)
	}
	return price, nil
}

// shutdown closes every open position with reason SHUTDOWN. It runs on a
// context detached from the caller's cancellation, bounded by ShutdownTimeout
// and canceled by Abort.
func (s *TradingService) shutdown(parent context.Context) error {
	op := "shutdown"
	s.setState(parent, StateShuttingDown)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.settings.ShutdownTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.abortCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	positions := s.deps.Ledger.Positions()
	s.deps.Logger.Info(ctx, op+": Closing open positions", map[string]interface{}{"count": len(positions)})
	for _, pos := range positions {
		if s.aborted() {
			s.deps.Logger.Warn(ctx, op+": Aborted, leaving remaining positions open")
			break
		}
		s.closeWithRetry(ctx, pos)
	}
	s.persist(ctx)

	remaining := s.deps.Ledger.Positions()
	for _, pos := range remaining {
		s.deps.Logger.Error(ctx, ports.ErrUnresolvedPositions, op+": Unresolved liability", map[string]interface{}{
			"symbol":      pos.Symbol,
			"quantity":    pos.Quantity,
			"entry_price": pos.EntryPrice.String(),
			"cost_basis":  pos.CostBasis.StringFixed(2),
			"order_ref":   pos.ExternalOrderRef,
		})
	}

	perf := s.deps.Ledger.Performance()
	s.deps.Logger.Info(ctx, op+": Trading loop stopped", map[string]interface{}{
		"cash":         s.deps.Ledger.Cash().StringFixed(2),
		"equity":       s.deps.Ledger.Equity().StringFixed(2),
		"total_trades": perf.TotalTrades,
		"total_pnl":    perf.TotalPnL.StringFixed(2),
		"win_rate":     fmt.Sprintf("%.1f%%", perf.WinRate*100),
		"unresolved":   len(remaining),
	})
	if len(remaining) > 0 {
		return fmt.Errorf("%d position(s) still open: %w", len(remaining), ports.ErrUnresolvedPositions)
	}
	return nil
}

func (s *TradingService) closeWithRetry(ctx context.Context, pos *domain.Position) {
	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: true}
	for attempt := 1; attempt <= s.settings.ShutdownRetries; attempt++ {
		if s.aborted() {
			return
		}
		price, err := s.quote(ctx, pos.Symbol)
		if err != nil {
			last, ok := s.deps.Ledger.LastPrice(pos.Symbol)
			if !ok {
				last = pos.EntryPrice
			}
			s.deps.Logger.Warn(ctx, "shutdown: Quote unavailable, using last known price", map[string]interface{}{
				"symbol": pos.Symbol,
				"price":  last.String(),
				"error":  err.Error(),
			})
			price = last
		}
		if s.closePosition(ctx, pos.Symbol, price, domain.CloseReasonShutdown) || !s.deps.Ledger.HasPosition(pos.Symbol) {
			return
		}
		if attempt == s.settings.ShutdownRetries {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-s.deps.Clock.After(b.Duration()):
		}
	}
}

// recordTrade appends the realized trade and saves the snapshot.
func (s *TradingService) recordTrade(ctx context.Context, trade *domain.RealizedTrade) {
	pctx := context.WithoutCancel(ctx)
	if err := s.deps.Repo.AppendTrade(pctx, trade); err != nil {
		s.deps.Logger.Error(ctx, err, "Failed to persist realized trade", map[string]interface{}{"trade_id": trade.ID, "symbol": trade.Symbol})
	}
	s.persist(ctx)
}

func (s *TradingService) persist(ctx context.Context) {
	snap := s.deps.Ledger.Snapshot()
	if err := s.deps.Repo.SaveSnapshot(context.WithoutCancel(ctx), snap); err != nil {
		s.deps.Logger.Error(ctx, err, "Failed to persist account snapshot", map[string]interface{}{"version": snap.Version})
	}
}

func (s *TradingService) logStatus(ctx context.Context) {
	l := s.deps.Ledger
	symbols := make([]string, 0, l.OpenPositionCount())
	for _, p := range l.Positions() {
		symbols = append(symbols, p.Symbol)
	}
	s.deps.Logger.Info(ctx, "Status", map[string]interface{}{
		"cash":          l.Cash().StringFixed(2),
		"equity":        l.Equity().StringFixed(2),
		"positions":     symbols,
		"daily_trades":  l.DailyTradeCount(),
		"consec_losses": l.ConsecutiveLossCount(),
		"pending":       len(s.pendingCloses),
	})
}

func mergeFields(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// RestoreLedger rebuilds the ledger from the latest snapshot, or creates a
// fresh one funded with initialBalance when nothing was saved yet.
func RestoreLedger(ctx context.Context, repo ports.StateRepository, initialBalance decimal.Decimal, now time.Time, logger ports.Logger) (*ledger.Ledger, error) {
	snap, err := repo.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load account snapshot: %w", err)
	}
	if snap == nil {
		logger.Info(ctx, "No saved account state, starting fresh", map[string]interface{}{"initial_balance": initialBalance.StringFixed(2)})
		return ledger.New(initialBalance, now)
	}
	l, err := ledger.Restore(snap)
	if err != nil {
		return nil, err
	}
	if !snap.InitialBalance.Equal(initialBalance) {
		logger.Warn(ctx, "Configured initial balance ignored, resuming saved session", map[string]interface{}{
			"configured": initialBalance.StringFixed(2),
			"saved":      snap.InitialBalance.StringFixed(2),
		})
	}
	logger.Info(ctx, "Resumed saved account state", map[string]interface{}{
		"cash":      l.Cash().StringFixed(2),
		"positions": l.OpenPositionCount(),
		"version":   l.Version(),
	})
	return l, nil
}
