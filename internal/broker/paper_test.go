package broker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakoutlab/tradecore/internal/domain"
)

func testPaper(t *testing.T) *Paper {
	t.Helper()
	p := NewPaper(10_000, 0, slog.New(slog.DiscardHandler))
	p.SetTick(domain.Tick{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002, Time: time.Now()})
	return p
}

func TestPaperFillAndClose(t *testing.T) {
	p := testPaper(t)
	ctx := context.Background()

	placed, err := p.PlaceOrder(ctx, domain.OrderSpec{
		Symbol: "EURUSD", Side: domain.OrderSideBuy, Quantity: 0.1,
	})
	require.NoError(t, err)
	require.True(t, placed.Success)
	assert.Equal(t, 1.1002, placed.FillPrice)

	p.SetTick(domain.Tick{Symbol: "EURUSD", Bid: 1.1012, Ask: 1.1014, Time: time.Now()})

	closed, err := p.ClosePosition(ctx, placed.Ticket, 0.1)
	require.NoError(t, err)
	require.True(t, closed.Success)
	assert.InDelta(t, 10.0, closed.Profit, 1e-9) // 10 pips on 0.1 lots

	acct, err := p.GetAccountInfo(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10_010, acct.Balance, 1e-9)
	assert.InDelta(t, 10.0, acct.DailyPnL, 1e-9)
	assert.Zero(t, acct.OpenPositions)
}

func TestPaperDailyPnLResetsAtDayRollover(t *testing.T) {
	p := testPaper(t)
	ctx := context.Background()

	clock := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	p.setClock(func() time.Time { return clock })
	p.dayStart = clock.Truncate(24 * time.Hour)

	placed, err := p.PlaceOrder(ctx, domain.OrderSpec{
		Symbol: "EURUSD", Side: domain.OrderSideBuy, Quantity: 0.1,
	})
	require.NoError(t, err)
	p.SetTick(domain.Tick{Symbol: "EURUSD", Bid: 1.1012, Ask: 1.1014, Time: clock})
	_, err = p.ClosePosition(ctx, placed.Ticket, 0.1)
	require.NoError(t, err)

	acct, err := p.GetAccountInfo(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, acct.DailyPnL, 1e-9)

	// Same day: the counter persists.
	clock = clock.Add(2 * time.Hour)
	acct, err = p.GetAccountInfo(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, acct.DailyPnL, 1e-9)

	// Next UTC day: the counter starts fresh, balance is untouched.
	clock = clock.Add(24 * time.Hour)
	acct, err = p.GetAccountInfo(ctx)
	require.NoError(t, err)
	assert.Zero(t, acct.DailyPnL)
	assert.InDelta(t, 10_010, acct.Balance, 1e-9)
}
