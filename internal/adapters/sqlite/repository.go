package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"agentTrader/internal/domain"
	"agentTrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.StateRepository using SQLite. Decimals are
// stored as TEXT so no precision is lost between sessions.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/agent_trader.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One writer at a time; the trading loop is the only client anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite state store ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS account_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		cash TEXT NOT NULL,
		initial_balance TEXT NOT NULL,
		day_start_equity TEXT NOT NULL,
		daily_trade_count INTEGER NOT NULL,
		consecutive_loss_count INTEGER NOT NULL,
		total_trades INTEGER NOT NULL,
		winning_trades INTEGER NOT NULL,
		losing_trades INTEGER NOT NULL,
		total_pnl TEXT NOT NULL,
		win_rate REAL NOT NULL,
		max_drawdown REAL NOT NULL,
		last_summary_date TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT PRIMARY KEY,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		entry_price TEXT NOT NULL,
		stop_loss_price TEXT NOT NULL,
		take_profit_price TEXT NOT NULL,
		cost_basis TEXT NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		external_order_ref TEXT NOT NULL DEFAULT '',
		last_price TEXT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price TEXT NOT NULL,
		exit_price TEXT NOT NULL,
		proceeds TEXT NOT NULL,
		cost_basis TEXT NOT NULL,
		pnl TEXT NOT NULL,
		pnl_pct REAL NOT NULL,
		close_reason TEXT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP NOT NULL,
		external_order_ref TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS daily_summaries (
		date TEXT PRIMARY KEY,
		balance TEXT NOT NULL,
		equity TEXT NOT NULL,
		daily_pnl TEXT NOT NULL,
		daily_pnl_pct REAL NOT NULL,
		trade_count INTEGER NOT NULL,
		open_position_count INTEGER NOT NULL,
		win_rate REAL NOT NULL,
		max_drawdown REAL NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_history_closed_at ON trade_history (closed_at);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol ON trade_history (symbol);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// SaveSnapshot replaces the account row and the open positions in one transaction.
func (r *Repository) SaveSnapshot(ctx context.Context, state *domain.AccountState) (err error) {
	if state == nil {
		return fmt.Errorf("save snapshot: nil state: %w", ports.ErrInvalidRequest)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot: begin: %w: %w", ports.ErrUpdateFailed, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const upsertAccount = `
	INSERT INTO account_state (id, cash, initial_balance, day_start_equity, daily_trade_count,
		consecutive_loss_count, total_trades, winning_trades, losing_trades, total_pnl,
		win_rate, max_drawdown, last_summary_date, version, updated_at)
	VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		cash = excluded.cash,
		initial_balance = excluded.initial_balance,
		day_start_equity = excluded.day_start_equity,
		daily_trade_count = excluded.daily_trade_count,
		consecutive_loss_count = excluded.consecutive_loss_count,
		total_trades = excluded.total_trades,
		winning_trades = excluded.winning_trades,
		losing_trades = excluded.losing_trades,
		total_pnl = excluded.total_pnl,
		win_rate = excluded.win_rate,
		max_drawdown = excluded.max_drawdown,
		last_summary_date = excluded.last_summary_date,
		version = excluded.version,
		updated_at = excluded.updated_at`

	perf := state.Performance
	if _, err = tx.ExecContext(ctx, upsertAccount,
		state.Cash, state.InitialBalance, state.DayStartEquity, state.DailyTradeCount,
		state.ConsecutiveLossCount, perf.TotalTrades, perf.WinningTrades, perf.LosingTrades, perf.TotalPnL,
		perf.WinRate, perf.MaxDrawdown, state.LastSummaryDate, state.Version, state.UpdatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("save snapshot: account: %w: %w", ports.ErrUpdateFailed, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("save snapshot: clear positions: %w: %w", ports.ErrUpdateFailed, err)
	}
	const insertPosition = `
	INSERT INTO positions (symbol, quantity, entry_price, stop_loss_price, take_profit_price,
		cost_basis, entry_time, external_order_ref, last_price)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for sym, p := range state.Positions {
		var last sql.NullString
		if px, ok := state.LastPrices[sym]; ok {
			last = sql.NullString{String: px.String(), Valid: true}
		}
		if _, err = tx.ExecContext(ctx, insertPosition,
			p.Symbol, p.Quantity, p.EntryPrice, p.StopLossPrice, p.TakeProfitPrice,
			p.CostBasis, p.EntryTime.UTC(), p.ExternalOrderRef, last,
		); err != nil {
			return fmt.Errorf("save snapshot: position %s: %w: %w", sym, ports.ErrUpdateFailed, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot: commit: %w: %w", ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Account snapshot saved", map[string]interface{}{"version": state.Version, "positions": len(state.Positions)})
	return nil
}

// LoadSnapshot returns the stored account state, or nil, nil if none exists.
func (r *Repository) LoadSnapshot(ctx context.Context) (*domain.AccountState, error) {
	const queryAccount = `
	SELECT cash, initial_balance, day_start_equity, daily_trade_count, consecutive_loss_count,
	       total_trades, winning_trades, losing_trades, total_pnl, win_rate, max_drawdown,
	       last_summary_date, version, updated_at
	FROM account_state WHERE id = 1`

	st := &domain.AccountState{
		Positions:  make(map[string]*domain.Position),
		LastPrices: make(map[string]decimal.Decimal),
	}
	perf := &st.Performance
	err := r.db.QueryRowContext(ctx, queryAccount).Scan(
		&st.Cash, &st.InitialBalance, &st.DayStartEquity, &st.DailyTradeCount, &st.ConsecutiveLossCount,
		&perf.TotalTrades, &perf.WinningTrades, &perf.LosingTrades, &perf.TotalPnL, &perf.WinRate, &perf.MaxDrawdown,
		&st.LastSummaryDate, &st.Version, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "No account snapshot stored")
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: account: %w: %w", ports.ErrQueryFailed, err)
	}

	const queryPositions = `
	SELECT symbol, quantity, entry_price, stop_loss_price, take_profit_price, cost_basis,
	       entry_time, external_order_ref, last_price
	FROM positions ORDER BY symbol`
	rows, err := r.db.QueryContext(ctx, queryPositions)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: positions: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	for rows.Next() {
		p, last, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("load snapshot: scan position: %w: %w", ports.ErrQueryFailed, err)
		}
		st.Positions[p.Symbol] = p
		if last.Valid {
			st.LastPrices[p.Symbol] = last.Decimal
		}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("load snapshot: iterate positions: %w: %w", ports.ErrQueryFailed, err)
	}
	return st, nil
}

// AppendTrade stores a realized trade. A trade with an existing ID is ignored.
func (r *Repository) AppendTrade(ctx context.Context, t *domain.RealizedTrade) error {
	const query = `
	INSERT OR IGNORE INTO trade_history (id, symbol, quantity, entry_price, exit_price, proceeds,
		cost_basis, pnl, pnl_pct, close_reason, opened_at, closed_at, external_order_ref)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query,
		t.ID, t.Symbol, t.Quantity, t.EntryPrice, t.ExitPrice, t.Proceeds,
		t.CostBasis, t.PnL, t.PnLPct, string(t.CloseReason), t.OpenedAt.UTC(), t.ClosedAt.UTC(), t.ExternalOrderRef,
	); err != nil {
		return fmt.Errorf("failed to insert trade %s for symbol %s: %w: %w", t.ID, t.Symbol, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Realized trade stored", map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol, "pnl": t.PnL.String()})
	return nil
}

// ListTrades returns realized trades oldest first; limit > 0 keeps only the most recent ones.
func (r *Repository) ListTrades(ctx context.Context, limit int) ([]*domain.RealizedTrade, error) {
	const columns = `id, symbol, quantity, entry_price, exit_price, proceeds, cost_basis, pnl,
	       pnl_pct, close_reason, opened_at, closed_at, external_order_ref`
	query := `SELECT ` + columns + ` FROM trade_history ORDER BY closed_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.RealizedTrade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history: %w: %w", ports.ErrQueryFailed, err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	// Newest first from the query; callers want chronological order.
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	return trades, nil
}

// RecordDailySummary stores the summary, replacing an earlier one for the same date.
func (r *Repository) RecordDailySummary(ctx context.Context, s *domain.DailySummary) error {
	const query = `
	INSERT OR REPLACE INTO daily_summaries (date, balance, equity, daily_pnl, daily_pnl_pct,
		trade_count, open_position_count, win_rate, max_drawdown, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query,
		s.Date, s.Balance, s.Equity, s.DailyPnL, s.DailyPnLPct,
		s.TradeCount, s.OpenPositionCount, s.WinRate, s.MaxDrawdown, s.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to store daily summary %s: %w: %w", s.Date, ports.ErrUpdateFailed, err)
	}
	return nil
}

// ListDailySummaries returns summaries newest first.
func (r *Repository) ListDailySummaries(ctx context.Context, limit int) ([]*domain.DailySummary, error) {
	query := `
	SELECT date, balance, equity, daily_pnl, daily_pnl_pct, trade_count, open_position_count,
	       win_rate, max_drawdown, created_at
	FROM daily_summaries ORDER BY date DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily summaries: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	out := make([]*domain.DailySummary, 0)
	for rows.Next() {
		s := &domain.DailySummary{}
		if err := rows.Scan(&s.Date, &s.Balance, &s.Equity, &s.DailyPnL, &s.DailyPnLPct,
			&s.TradeCount, &s.OpenPositionCount, &s.WinRate, &s.MaxDrawdown, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w: %w", ports.ErrQueryFailed, err)
		}
		out = append(out, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily summary rows: %w", err)
	}
	return out, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, decimal.NullDecimal, error) {
	p := &domain.Position{}
	var last decimal.NullDecimal
	err := s.Scan(&p.Symbol, &p.Quantity, &p.EntryPrice, &p.StopLossPrice, &p.TakeProfitPrice,
		&p.CostBasis, &p.EntryTime, &p.ExternalOrderRef, &last)
	if err != nil {
		return nil, last, err
	}
	return p, last, nil
}

func scanTrade(s scanner) (*domain.RealizedTrade, error) {
	t := &domain.RealizedTrade{}
	var closeReason sql.NullString
	err := s.Scan(&t.ID, &t.Symbol, &t.Quantity, &t.EntryPrice, &t.ExitPrice, &t.Proceeds, &t.CostBasis,
		&t.PnL, &t.PnLPct, &closeReason, &t.OpenedAt, &t.ClosedAt, &t.ExternalOrderRef)
	if err != nil {
		return nil, err
	}
	if closeReason.Valid {
		t.CloseReason = domain.ParseCloseReason(closeReason.String)
	} else {
		t.CloseReason = domain.CloseReasonUnknown // Default if NULL
	}
	return t, nil
}
