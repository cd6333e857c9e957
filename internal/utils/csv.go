package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"agentTrader/internal/domain"
)

var tradeHeader = []string{
	"id", "symbol", "quantity", "entry_price", "exit_price", "proceeds", "cost_basis",
	"pnl", "pnl_pct", "close_reason", "opened_at", "closed_at", "order_ref",
}

// WriteTradesCSV writes realized trades with a header row.
func WriteTradesCSV(w io.Writer, trades []*domain.RealizedTrade) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		if err := writer.Write([]string{
			t.ID,
			t.Symbol,
			strconv.FormatInt(t.Quantity, 10),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			t.Proceeds.String(),
			t.CostBasis.String(),
			t.PnL.String(),
			strconv.FormatFloat(t.PnLPct, 'f', -1, 64),
			string(t.CloseReason),
			t.OpenedAt.UTC().Format(time.RFC3339),
			t.ClosedAt.UTC().Format(time.RFC3339),
			t.ExternalOrderRef,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteTradesCSVFile creates filename and writes trades to it.
func WriteTradesCSVFile(filename string, trades []*domain.RealizedTrade) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create %s: %w", filename, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	return WriteTradesCSV(file, trades)
}
