package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentTrader/internal/domain"
)

func TestSizeOrder(t *testing.T) {
	limits := domain.DefaultRiskLimits()
	tests := []struct {
		name     string
		balance  string
		price    string
		wantQty  int64
		wantSize string
		approved bool
	}{
		{name: "too small", balance: "100", price: "50", wantQty: 0, wantSize: "10", approved: false},
		{name: "two shares", balance: "1000", price: "50", wantQty: 2, wantSize: "100", approved: true},
		{name: "rounds down", balance: "1000", price: "33", wantQty: 3, wantSize: "100", approved: true},
		{name: "empty balance", balance: "0", price: "10", wantQty: 0, wantSize: "0", approved: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bal := decimal.RequireFromString(tt.balance)
			assert.True(t, decimal.RequireFromString(tt.wantSize).Equal(PositionSize(bal, limits)))

			qty, v := SizeOrder(bal, decimal.RequireFromString(tt.price), limits)
			assert.Equal(t, tt.wantQty, qty)
			assert.Equal(t, tt.approved, v.Approved)
			if !tt.approved {
				assert.Equal(t, SizeTooSmall, v.Reason)
			}
		})
	}
}

func TestPositionSize_ReserveBinds(t *testing.T) {
	limits := domain.DefaultRiskLimits()
	limits.MaxPositionSizePct = decimal.RequireFromString("0.9")
	limits.CashReservePct = decimal.RequireFromString("0.5")

	size := PositionSize(decimal.NewFromInt(1000), limits)
	require.True(t, decimal.NewFromInt(500).Equal(size), "size = %s", size)
}
