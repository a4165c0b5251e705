package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"margin_sim/internal/core"
	"margin_sim/internal/hedgecycle"
)

func testProfile() core.ProfileState {
	return core.ProfileState{
		WalletBalance: 9120.57,
		FeeRate:       0.0004,
		ReferenceCoin: "ETH",
		ObservedLiq:   map[string]float64{"ETH": 171.36},
		Positions: []core.Position{
			{ID: "l", Direction: core.Long, Coin: "ETH", EntryPrice: 3265.75707264, Margin: 373.60, Leverage: 50},
			{ID: "s", Direction: core.Short, Coin: "ETH", EntryPrice: 1952.15, Margin: 188.28, Leverage: 50},
		},
	}
}

func TestCompute_PerCoinReports(t *testing.T) {
	e := New(Config{LossOnlyFreeMargin: true}, nil)
	prices := map[string]float64{"ETH": 2647.35}

	res := e.Compute(testProfile(), prices)
	require.Len(t, res.Coins, 1)

	rep, ok := res.Coin("ETH")
	require.True(t, ok)
	assert.True(t, rep.HasPrice)
	require.True(t, rep.MMRValid)
	require.True(t, rep.LiqOK)
	// Round trip: the liq re-solved from the inferred MMR reproduces the
	// observed one.
	assert.InDelta(t, 171.36, rep.Liq, 0.01)
	assert.Greater(t, rep.LiqDistPct, 0.0)
	assert.False(t, res.Cached)
}

func TestCompute_CachesIdenticalInputs(t *testing.T) {
	e := New(Config{LossOnlyFreeMargin: true}, nil)
	profile := testProfile()
	prices := map[string]float64{"ETH": 2647.35}

	first := e.Compute(profile, prices)
	second := e.Compute(profile, prices)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Snap, second.Snap)

	prices["ETH"] = 2600
	third := e.Compute(profile, prices)
	assert.False(t, third.Cached)
}

func TestCompute_ProjectsReferenceMMRToOtherCoins(t *testing.T) {
	e := New(Config{LossOnlyFreeMargin: true}, nil)
	profile := testProfile()
	// A BTC leg with no observed liquidation price of its own: its
	// liquidation must be projected from the ETH-inferred rate.
	profile.Positions = append(profile.Positions, core.Position{
		ID: "b", Direction: core.Long, Coin: "BTC", EntryPrice: 65000, Margin: 200, Leverage: 10,
	})
	prices := map[string]float64{"ETH": 2647.35, "BTC": 66000}

	res := e.Compute(profile, prices)
	require.Len(t, res.Coins, 2)

	eth, ok := res.Coin("ETH")
	require.True(t, ok)
	require.True(t, eth.MMRValid)
	// The reference coin still round-trips its own observed price.
	require.True(t, eth.LiqOK)
	assert.InDelta(t, 171.36, eth.Liq, 0.01)

	btc, ok := res.Coin("BTC")
	require.True(t, ok)
	assert.Zero(t, btc.ObservedLiq)
	require.True(t, btc.MMRValid)
	assert.InDelta(t, eth.MMR.Rate, btc.MMR.Rate, 1e-12)
	require.True(t, btc.LiqOK)
	assert.Greater(t, btc.Liq, 0.0)
	assert.Less(t, btc.Liq, 66000.0)

	// The projected rate flows into the what-if context as well.
	ctx := e.ScenarioContext(res, "BTC")
	assert.True(t, ctx.MMRValid)
	assert.InDelta(t, eth.MMR.Rate, ctx.MMR, 1e-12)
}

func TestCompute_MissingObservedLiqSkipsSolvers(t *testing.T) {
	e := New(Config{LossOnlyFreeMargin: true}, nil)
	profile := testProfile()
	profile.ObservedLiq = nil

	res := e.Compute(profile, map[string]float64{"ETH": 2647.35})
	rep, ok := res.Coin("ETH")
	require.True(t, ok)
	assert.False(t, rep.MMRValid)
	assert.False(t, rep.LiqOK)
}

func TestScenarioContext_CarriesCoinInputs(t *testing.T) {
	e := New(Config{
		LossOnlyFreeMargin: true,
		LotSteps:           map[string]float64{"ETH": 0.01},
	}, nil)
	res := e.Compute(testProfile(), map[string]float64{"ETH": 2647.35})

	ctx := e.ScenarioContext(res, "ETH")
	assert.True(t, ctx.MMRValid)
	assert.InDelta(t, 171.36, ctx.ObservedLiq, 1e-9)
	assert.InDelta(t, 0.01, ctx.LotStep, 1e-12)

	dca, ok := ctx.SimulateDCA("l", nil)
	assert.False(t, ok)
	_ = dca
}

func TestCompute_HedgeCycleEvaluation(t *testing.T) {
	e := New(Config{LossOnlyFreeMargin: true}, nil)
	profile := core.ProfileState{
		WalletBalance: 10000,
		FeeRate:       0.0004,
		ReferenceCoin: "ETH",
		Positions: []core.Position{
			{ID: "long", Direction: core.Long, Coin: "ETH", EntryPrice: 3000, Margin: 100, Leverage: 10},
			{ID: "short", Direction: core.Short, Coin: "ETH", EntryPrice: 3000, Margin: 100, Leverage: 10},
		},
		HedgeCycle: core.HedgeCycleParams{
			TakeProfitROE:    50,
			RecoveryROE:      -10,
			CutRatio:         0.3,
			BaseMargin:       100,
			KillPct:          0.3,
			BalanceTolerance: 0.10,
		},
	}

	res := e.Compute(profile, map[string]float64{"ETH": 3030})
	require.NotNil(t, res.HedgeEval)
	assert.Equal(t, hedgecycle.Balanced, res.HedgeEval.State)

	// No params, no evaluation.
	profile.HedgeCycle = core.HedgeCycleParams{}
	res = e.Compute(profile, map[string]float64{"ETH": 3030})
	assert.Nil(t, res.HedgeEval)
}

func TestPriceForFreeMargin(t *testing.T) {
	e := New(Config{LossOnlyFreeMargin: true}, nil)
	res := e.Compute(testProfile(), map[string]float64{"ETH": 2647.35})

	sol, ok := e.PriceForFreeMargin(res, "ETH", 100)
	require.True(t, ok)
	assert.True(t, sol.Sufficient || sol.OK)

	_, ok = e.PriceForFreeMargin(res, "BTC", 100)
	assert.False(t, ok)
}
