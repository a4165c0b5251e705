package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"margin_sim/internal/account"
	"margin_sim/internal/core"
	"margin_sim/internal/solver"
)

func longBook(t *testing.T, cp, feeRate float64) *Context {
	t.Helper()
	positions := []core.Position{
		{ID: "sel", Direction: core.Long, Coin: "ETH", EntryPrice: 3000, Margin: 400, Leverage: 50},
	}
	snap := account.Aggregate(positions, map[string]float64{"ETH": cp}, 10000, feeRate, true)
	return &Context{Snap: snap}
}

func shortBook(t *testing.T, cp, feeRate float64) *Context {
	t.Helper()
	positions := []core.Position{
		{ID: "sel", Direction: core.Short, Coin: "ETH", EntryPrice: 1952.15, Margin: 188.28, Leverage: 50},
	}
	snap := account.Aggregate(positions, map[string]float64{"ETH": cp}, 9120.57, feeRate, true)
	return &Context{Snap: snap}
}

func TestSimulateDCA_LongAverageDown(t *testing.T) {
	ctx := longBook(t, 2800, 0)

	res, ok := ctx.SimulateDCA("sel", []DCAEntry{{Price: 2700, Deposit: 200}})
	require.True(t, ok)

	// Adding below the current average strictly decreases it.
	assert.Less(t, res.After.Avg, res.Before.Avg)
	assert.Greater(t, res.After.Avg, 2700.0)
	assert.InDelta(t, 600, res.After.Margin, 1e-9)
	assert.False(t, res.MarginInsufficient)

	// Weighted average check: (400·50·3000/3000 + 200·50/2700·2700) over qty.
	wantQty := 400*50.0/3000 + 200*50.0/2700
	wantAvg := (400*50.0 + 200*50.0) / wantQty
	assert.InDelta(t, wantAvg, res.After.Avg, 1e-9)
}

func TestSimulateDCA_ShortAverageUp(t *testing.T) {
	ctx := shortBook(t, 2000, 0)

	res, ok := ctx.SimulateDCA("sel", []DCAEntry{{Price: 2100, Deposit: 100}})
	require.True(t, ok)
	assert.Greater(t, res.After.Avg, res.Before.Avg)
}

func TestSimulateDCA_FeeAndChangeSurfaced(t *testing.T) {
	ctx := longBook(t, 2800, 0.0004)
	ctx.LotStep = 0.01

	res, ok := ctx.SimulateDCA("sel", []DCAEntry{{Price: 2700, Deposit: 500}})
	require.True(t, ok)
	require.Len(t, res.Applied, 1)

	e := res.Applied[0]
	// Deposit is fully accounted for: margin + fee + change.
	assert.InDelta(t, 500, e.Margin+e.OpenFee+e.Change, 1e-9)
	assert.GreaterOrEqual(t, e.Change, 0.0)
	// Quantity landed on the lot grid.
	lots := e.Qty / 0.01
	assert.InDelta(t, lots, float64(int64(lots+0.5)), 1e-6)
}

func TestSimulateDCA_MarginInsufficientShortfall(t *testing.T) {
	positions := []core.Position{
		{ID: "sel", Direction: core.Long, Coin: "ETH", EntryPrice: 3000, Margin: 400, Leverage: 50},
	}
	snap := account.Aggregate(positions, map[string]float64{"ETH": 2800}, 500, 0, true)
	ctx := &Context{Snap: snap}

	res, ok := ctx.SimulateDCA("sel", []DCAEntry{{Price: 2700, Deposit: 300}})
	require.True(t, ok)
	assert.True(t, res.MarginInsufficient)
	// Free margin is 500 - 400 + clipped loss; shortfall covers the gap.
	assert.Greater(t, res.Shortfall, 0.0)
}

func TestSimulateDCA_LiqResolvedFromInferredMMR(t *testing.T) {
	positions := []core.Position{
		{ID: "l", Direction: core.Long, Coin: "ETH", EntryPrice: 3265.75707264, Margin: 373.60, Leverage: 50},
		{ID: "s", Direction: core.Short, Coin: "ETH", EntryPrice: 1952.15, Margin: 188.28, Leverage: 50},
	}
	snap := account.Aggregate(positions, map[string]float64{"ETH": 2647.35}, 9120.57, 0.0004, true)
	est, ok := solver.EstimateMMR(snap, "ETH", 171.36)
	require.True(t, ok)

	ctx := &Context{Snap: snap, MMR: est.Rate, MMRValid: true, ObservedLiq: 171.36}
	res, ok := ctx.SimulateDCA("l", []DCAEntry{{Price: 2500, Deposit: 100}})
	require.True(t, ok)
	assert.True(t, res.After.LiqOK)
	assert.True(t, res.Before.LiqOK)
	assert.InDelta(t, 171.36, res.Before.Liq, 1e-9)
}

func TestSolveReverse_RoundTrip(t *testing.T) {
	// For a feasible (rp, rt), a forward DCA funded with the required
	// deposit at rp must land the average exactly on rt, fees included.
	for _, feeRate := range []float64{0, 0.0004} {
		ctx := longBook(t, 2800, feeRate)

		rev, ok := ctx.SolveReverse("sel", 2600, 2800)
		require.True(t, ok)
		require.False(t, rev.Impossible)
		assert.Greater(t, rev.RequiredMargin, 0.0)
		// The deposit covers the margin plus the opening fee on its notional.
		assert.InDelta(t, rev.RequiredMargin*(1+feeRate*50), rev.RequiredDeposit, 1e-9)

		fwd, ok := ctx.SimulateDCA("sel", []DCAEntry{{Price: 2600, Deposit: rev.RequiredDeposit}})
		require.True(t, ok)
		assert.InDelta(t, 2800, fwd.After.Avg, 1e-6)
	}
}

func TestSolveReverse_ShortFavorableDirection(t *testing.T) {
	ctx := shortBook(t, 1900, 0)

	rev, ok := ctx.SolveReverse("sel", 1800, 1850)
	require.True(t, ok)
	require.False(t, rev.Impossible)
	assert.Greater(t, rev.RequiredMargin, 0.0)
	assert.InDelta(t, 1850.00, rev.After.Avg, 0.01)
}

func TestSolveReverse_Impossible(t *testing.T) {
	tests := []struct {
		name   string
		book   func(*testing.T) *Context
		rp, rt float64
	}{
		{"long entry above target", func(t *testing.T) *Context { return longBook(t, 2800, 0) }, 2900, 2850},
		{"long target above average needs entry above", func(t *testing.T) *Context { return longBook(t, 2800, 0) }, 2950, 3100},
		{"short target below average needs entry below", func(t *testing.T) *Context { return shortBook(t, 1900, 0) }, 1900, 1850},
		{"target equals average", func(t *testing.T) *Context { return longBook(t, 2800, 0) }, 2900, 3000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rev, ok := tt.book(t).SolveReverse("sel", tt.rp, tt.rt)
			require.True(t, ok)
			assert.True(t, rev.Impossible)
			assert.Zero(t, rev.RequiredMargin)
		})
	}
}

func TestSolveReverse_MaxReachableWhenInsufficient(t *testing.T) {
	positions := []core.Position{
		{ID: "sel", Direction: core.Long, Coin: "ETH", EntryPrice: 3000, Margin: 400, Leverage: 50},
	}
	snap := account.Aggregate(positions, map[string]float64{"ETH": 3000}, 450, 0, true)
	ctx := &Context{Snap: snap}

	// Driving the average nearly to the entry takes far more than the 50
	// free margin available.
	rev, ok := ctx.SolveReverse("sel", 2500, 2550)
	require.True(t, ok)
	require.False(t, rev.Impossible)
	assert.True(t, rev.MarginInsufficient)
	require.True(t, rev.MaxReachableValid)
	assert.Greater(t, rev.MaxReachableAvg, 2550.0)
	assert.Less(t, rev.MaxReachableAvg, 3000.0)
}

func TestClose_BreakevenNetsZero(t *testing.T) {
	feeRate := 0.0004
	ctx := longBook(t, 3000, feeRate)
	sel, _ := ctx.Snap.Find("sel")

	be := Breakeven(sel.EntryPrice, feeRate, 1)
	res, ok := ctx.Close("sel", 1, be, 0)
	require.True(t, ok)

	entryFee := sel.EntryPrice * sel.Qty * feeRate
	net := res.RealizedPnL - res.CloseFee - entryFee
	assert.InDelta(t, 0, net, 1e-6)
	assert.True(t, res.FullyClosed)
}

func TestClose_PartialKeepsAverage(t *testing.T) {
	ctx := longBook(t, 2900, 0.0004)

	res, ok := ctx.Close("sel", 0.5, 0, 0)
	require.True(t, ok)

	assert.InDelta(t, 2900, res.ClosePrice, 1e-9) // defaults to current
	assert.InDelta(t, 3000, res.Remaining.Avg, 1e-9)
	assert.InDelta(t, 200, res.Remaining.Margin, 1e-9)
	assert.False(t, res.FullyClosed)

	// Realized loss and fee land in the wallet.
	wantRealized := (2900.0 - 3000.0) * res.ClosedQty
	assert.InDelta(t, wantRealized, res.RealizedPnL, 1e-9)
	assert.InDelta(t, 10000+wantRealized-res.CloseFee, res.NewWallet, 1e-9)
}

func TestClose_FullCloseExcludesPosition(t *testing.T) {
	positions := []core.Position{
		{ID: "sel", Direction: core.Long, Coin: "ETH", EntryPrice: 3000, Margin: 400, Leverage: 50},
		{ID: "other", Direction: core.Short, Coin: "ETH", EntryPrice: 3500, Margin: 100, Leverage: 10},
	}
	snap := account.Aggregate(positions, map[string]float64{"ETH": 2900}, 10000, 0, true)
	ctx := &Context{Snap: snap}

	res, ok := ctx.Close("sel", 1, 0, 0)
	require.True(t, ok)
	assert.True(t, res.FullyClosed)
	assert.Zero(t, res.Remaining.Qty)
	// Used margin now only carries the surviving short.
	assert.InDelta(t, 100, res.RemUsedMargin, 1e-9)
}

func TestClose_ReentryUsesFreedMargin(t *testing.T) {
	ctx := longBook(t, 2900, 0)

	res, ok := ctx.Close("sel", 0.5, 0, 2850)
	require.True(t, ok)
	require.True(t, res.ReentryValid)
	assert.InDelta(t, res.RemFreeMargin, res.Reentry.Margin, 1e-9)
	assert.Greater(t, res.Reentry.NewQty, res.Remaining.Qty)
	// Re-entering below the old average pulls the blended average down.
	assert.Less(t, res.Reentry.NewAvg, 3000.0)
}

func TestOptimizeSplit_RanksByAverage(t *testing.T) {
	ctx := longBook(t, 2800, 0)

	res, ok := ctx.OptimizeSplit("sel", 600, []float64{2750, 2600, 2700})
	require.True(t, ok)
	require.Len(t, res.Strategies, 4)

	// Long: candidates sorted descending, closest to current first.
	assert.Equal(t, []float64{2750, 2700, 2600}, res.Prices)

	// Back-loaded piles margin on the lowest price, so for a long it beats
	// front-loaded; martingale concentrates even harder on the last price.
	best := res.Strategies[res.Best]
	for _, s := range res.Strategies {
		assert.GreaterOrEqual(t, s.NewAvg, best.NewAvg)
	}
	assert.Equal(t, "martingale", best.Name)
}

func TestOptimizeSplit_NeedsTwoPrices(t *testing.T) {
	ctx := longBook(t, 2800, 0)
	_, ok := ctx.OptimizeSplit("sel", 600, []float64{2700})
	assert.False(t, ok)
}

func TestConvertDeposit(t *testing.T) {
	conv, ok := ConvertDeposit(1000, 2000, 10, 0.0004, 0.01)
	require.True(t, ok)
	assert.InDelta(t, 1000, conv.Margin+conv.OpenFee+conv.Change, 1e-9)
	assert.Greater(t, conv.Qty, 0.0)
	assert.GreaterOrEqual(t, conv.Change, 0.0)

	// A deposit below one lot yields no position, all change.
	conv, ok = ConvertDeposit(0.5, 60000, 1, 0.0004, 0.001)
	assert.False(t, ok)
	assert.InDelta(t, 0.5, conv.Change, 1e-9)
}
