package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"margin_sim/internal/core"
)

func TestAggregate_PnLZeroAtEntry(t *testing.T) {
	positions := []core.Position{
		{ID: "a", Direction: core.Long, Coin: "ETH", EntryPrice: 3265.76, Margin: 373.60, Leverage: 50},
		{ID: "b", Direction: core.Short, Coin: "BTC", EntryPrice: 64000, Margin: 120, Leverage: 20},
	}
	prices := map[string]float64{"ETH": 3265.76, "BTC": 64000}

	snap := Aggregate(positions, prices, 9120.57, 0.0004, true)

	require.Len(t, snap.Positions, 2)
	assert.InDelta(t, 0, snap.TotalPnL, 1e-9)
	assert.InDelta(t, 9120.57, snap.Equity, 1e-9)
	assert.InDelta(t, 493.60, snap.UsedMargin, 1e-9)
	assert.InDelta(t, 9120.57-493.60, snap.FreeMargin, 1e-9)
}

func TestAggregate_DropsInactivePositions(t *testing.T) {
	positions := []core.Position{
		{ID: "a", Direction: core.Long, Coin: "ETH", EntryPrice: 0, Margin: 100, Leverage: 10},
		{ID: "b", Direction: core.Long, Coin: "ETH", EntryPrice: 3000, Margin: 0, Leverage: 10},
		{ID: "c", Direction: core.Long, Coin: "ETH", EntryPrice: 3000, Margin: 100, Leverage: 10},
	}
	snap := Aggregate(positions, map[string]float64{"ETH": 3100}, 1000, 0, true)

	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "c", snap.Positions[0].ID)
}

func TestAggregate_LossOnlyClipping(t *testing.T) {
	positions := []core.Position{
		// Long in profit: +100 * (1000*10/2000) = +500
		{ID: "w", Direction: core.Long, Coin: "ETH", EntryPrice: 2000, Margin: 1000, Leverage: 10},
		// Short underwater: -100 * (500*10/2500) = -200
		{ID: "l", Direction: core.Short, Coin: "ETH", EntryPrice: 2000, Margin: 500, Leverage: 10},
	}
	prices := map[string]float64{"ETH": 2100}

	clipped := Aggregate(positions, prices, 5000, 0, true)
	// Profit ignored, loss counted: 5000 - 200 - 1500.
	assert.InDelta(t, 3300, clipped.FreeMargin, 1e-9)

	unclipped := Aggregate(positions, prices, 5000, 0, false)
	// Equity-based: 5000 + 500 - 200 - 1500.
	assert.InDelta(t, 3800, unclipped.FreeMargin, 1e-9)

	// Equity is the same under both conventions.
	assert.InDelta(t, clipped.Equity, unclipped.Equity, 1e-9)
}

func TestAggregate_MissingPriceDisablesPnL(t *testing.T) {
	positions := []core.Position{
		{ID: "a", Direction: core.Long, Coin: "SOL", EntryPrice: 150, Margin: 100, Leverage: 10},
	}
	snap := Aggregate(positions, map[string]float64{}, 1000, 0, true)

	require.Len(t, snap.Positions, 1)
	assert.False(t, snap.Positions[0].HasPrice)
	assert.Zero(t, snap.Positions[0].PnL)
	assert.InDelta(t, 1000.0, snap.Equity, 1e-9)
}

func TestFreeMarginAt_RepricesOnlyTargetCoin(t *testing.T) {
	positions := []core.Position{
		{ID: "a", Direction: core.Long, Coin: "ETH", EntryPrice: 2000, Margin: 100, Leverage: 10},
		{ID: "b", Direction: core.Long, Coin: "BTC", EntryPrice: 60000, Margin: 200, Leverage: 10},
	}
	prices := map[string]float64{"ETH": 2000, "BTC": 54000} // BTC down 10%: pnl -200
	snap := Aggregate(positions, prices, 1000, 0, true)

	// At ETH=1800 the ETH leg loses 0.5 * 200 = 100; BTC loss stays -200.
	got := snap.FreeMarginAt("ETH", 1800)
	assert.InDelta(t, 1000-100-200-300, got, 1e-9)

	// ETH in profit is clipped to zero contribution.
	got = snap.FreeMarginAt("ETH", 2200)
	assert.InDelta(t, 1000-200-300, got, 1e-9)
}

func TestWithPosition_RemovesZeroQty(t *testing.T) {
	positions := []core.Position{
		{ID: "a", Direction: core.Long, Coin: "ETH", EntryPrice: 2000, Margin: 100, Leverage: 10},
		{ID: "b", Direction: core.Short, Coin: "ETH", EntryPrice: 2500, Margin: 50, Leverage: 10},
	}
	snap := Aggregate(positions, map[string]float64{"ETH": 2100}, 1000, 0, true)

	closed, ok := snap.Find("a")
	require.True(t, ok)
	closed.Qty = 0

	rest := snap.WithPosition(closed)
	require.Len(t, rest, 1)
	assert.Equal(t, "b", rest[0].ID)
}
