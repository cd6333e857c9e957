package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"agentTrader/internal/analytics"
	"agentTrader/internal/domain"
	"agentTrader/internal/ledger"
	"agentTrader/internal/utils"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Width(22)

	profitStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

func newStatusCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the saved account, open positions and performance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, repo, err := openRepository(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer repo.Close()

			snap, err := repo.LoadSnapshot(ctx)
			if err != nil {
				return err
			}
			if snap == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved session. Start one with: agent-trader run")
				return nil
			}
			l, err := ledger.Restore(snap)
			if err != nil {
				return err
			}
			trades, err := repo.ListTrades(ctx, 0)
			if err != nil {
				return err
			}
			summaries, err := repo.ListDailySummaries(ctx, days)
			if err != nil {
				return err
			}
			metrics := analytics.AnalyzePerformance(trades, l.InitialBalance())
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(l, metrics, summaries))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 5, "number of daily summaries to show")
	return cmd
}

func newTradesCommand() *cobra.Command {
	var limit int
	var csvPath string
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List recent realized trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, repo, err := openRepository(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer repo.Close()

			trades, err := repo.ListTrades(ctx, limit)
			if err != nil {
				return err
			}
			if csvPath != "" {
				if err := utils.WriteTradesCSVFile(csvPath, trades); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d trades to %s\n", len(trades), csvPath)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTrades(trades))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of most recent trades to list (0 for all)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "write the trades to this CSV file instead of printing them")
	return cmd
}

func signed(d decimal.Decimal) string {
	s := d.StringFixed(2)
	switch {
	case d.IsPositive():
		return profitStyle.Render("+" + s)
	case d.IsNegative():
		return lossStyle.Render(s)
	default:
		return s
	}
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func renderStatus(l *ledger.Ledger, m *analytics.PerformanceMetrics, summaries []*domain.DailySummary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Account"))
	b.WriteString("\n")

	equity := l.Equity()
	account := []string{
		row("Cash", l.Cash().StringFixed(2)),
		row("Equity", equity.StringFixed(2)),
		row("Initial balance", l.InitialBalance().StringFixed(2)),
		row("Total P&L", signed(equity.Sub(l.InitialBalance()))),
		row("Trades today", fmt.Sprintf("%d", l.DailyTradeCount())),
		row("Consecutive losses", fmt.Sprintf("%d", l.ConsecutiveLossCount())),
		row("Max drawdown", fmt.Sprintf("%.2f%%", l.Performance().MaxDrawdown*100)),
		row("Last update", l.UpdatedAt().Format("2006-01-02 15:04:05 MST")),
	}
	b.WriteString(sectionStyle.Render(strings.Join(account, "\n")))
	b.WriteString("\n")

	b.WriteString(titleStyle.Render(fmt.Sprintf("Open positions (%d)", l.OpenPositionCount())))
	b.WriteString("\n")
	positions := l.Positions()
	if len(positions) == 0 {
		b.WriteString(sectionStyle.Render("none"))
	} else {
		lines := make([]string, 0, len(positions))
		for _, p := range positions {
			mark, ok := l.LastPrice(p.Symbol)
			if !ok {
				mark = p.EntryPrice
			}
			lines = append(lines, fmt.Sprintf("%-6s %4d @ %s  last %s  SL %s  TP %s  uPnL %s",
				p.Symbol, p.Quantity, p.EntryPrice.StringFixed(2), mark.StringFixed(2),
				p.StopLossPrice.StringFixed(2), p.TakeProfitPrice.StringFixed(2), signed(p.UnrealizedPnL(mark))))
		}
		b.WriteString(sectionStyle.Render(strings.Join(lines, "\n")))
	}
	b.WriteString("\n")

	b.WriteString(titleStyle.Render("Performance"))
	b.WriteString("\n")
	perf := []string{
		row("Realized trades", fmt.Sprintf("%d (%d won, %d lost)", m.TotalTrades, m.WinningTrades, m.LosingTrades)),
		row("Win rate", fmt.Sprintf("%.1f%%", m.WinRate*100)),
		row("Realized P&L", signed(m.TotalPnL)),
		row("Average win / loss", fmt.Sprintf("%s / %s", m.AverageWin.StringFixed(2), m.AverageLoss.StringFixed(2))),
		row("Profit factor", fmt.Sprintf("%.2f", m.ProfitFactor)),
		row("Max consecutive losses", fmt.Sprintf("%d", m.MaxConsecutiveLosses)),
		row("Realized drawdown", fmt.Sprintf("%.2f%%", m.MaxDrawdown*100)),
	}
	if len(m.ByReason) > 0 {
		reasons := make([]string, 0, len(m.ByReason))
		for r, n := range m.ByReason {
			reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
		}
		sort.Strings(reasons)
		perf = append(perf, row("Closes by reason", strings.Join(reasons, " ")))
	}
	b.WriteString(sectionStyle.Render(strings.Join(perf, "\n")))

	if len(summaries) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Daily summaries"))
		b.WriteString("\n")
		lines := make([]string, 0, len(summaries))
		for _, s := range summaries {
			lines = append(lines, fmt.Sprintf("%s  equity %s  P&L %s (%.2f%%)  trades %d  open %d",
				s.Date, s.Equity.StringFixed(2), signed(s.DailyPnL), s.DailyPnLPct*100, s.TradeCount, s.OpenPositionCount))
		}
		b.WriteString(sectionStyle.Render(strings.Join(lines, "\n")))
	}
	return b.String()
}

func renderTrades(trades []*domain.RealizedTrade) string {
	if len(trades) == 0 {
		return "No realized trades yet."
	}
	lines := make([]string, 0, len(trades)+1)
	lines = append(lines, fmt.Sprintf("%-16s  %-6s  %4s  %10s  %10s  %10s  %7s  %s",
		"closed", "symbol", "qty", "entry", "exit", "pnl", "pnl%", "reason"))
	for _, t := range trades {
		lines = append(lines, fmt.Sprintf("%-16s  %-6s  %4d  %10s  %10s  %10s  %6.2f%%  %s",
			t.ClosedAt.Format("2006-01-02 15:04"), t.Symbol, t.Quantity,
			t.EntryPrice.StringFixed(2), t.ExitPrice.StringFixed(2), t.PnL.StringFixed(2),
			t.PnLPct*100, t.CloseReason))
	}
	return sectionStyle.Render(strings.Join(lines, "\n"))
}
