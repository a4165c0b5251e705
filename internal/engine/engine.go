// Package engine orchestrates one full recomputation: aggregate the profile
// against a price snapshot, infer MMR per coin, solve liquidation prices, and
// evaluate the hedge cycle when a pair exists on the reference coin. Every
// compute is from scratch; an input hash short-circuits the rebuild when
// nothing changed since the previous call.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"margin_sim/internal/account"
	"margin_sim/internal/core"
	"margin_sim/internal/hedge"
	"margin_sim/internal/hedgecycle"
	"margin_sim/internal/scenario"
	"margin_sim/internal/solver"
	"margin_sim/pkg/telemetry"
)

// Config is the venue policy applied to every compute.
type Config struct {
	LossOnlyFreeMargin bool
	LotSteps           map[string]float64
}

// CoinReport is the per-coin solver output: the MMR inferred from the
// observed liquidation price and the re-solved liquidation for the full book.
type CoinReport struct {
	Coin     string
	Price    float64
	HasPrice bool

	ObservedLiq float64
	MMR         solver.MMREstimate
	MMRValid    bool

	Liq        float64
	LiqOK      bool
	LiqDistPct float64
}

// Result is one complete engine output.
type Result struct {
	Snap  account.Snapshot
	Coins []CoinReport

	HedgeEval  *hedgecycle.Evaluation
	ComputedAt time.Time
	Cached     bool
}

// Coin returns the report for the given coin.
func (r *Result) Coin(coin string) (CoinReport, bool) {
	for _, c := range r.Coins {
		if c.Coin == coin {
			return c, true
		}
	}
	return CoinReport{}, false
}

// Engine caches the last result keyed by an input hash.
type Engine struct {
	cfg Config
	log core.ILogger

	mu       sync.Mutex
	lastHash [sha256.Size]byte
	last     *Result
}

func New(cfg Config, log core.ILogger) *Engine {
	return &Engine{cfg: cfg, log: log}
}

// Compute rebuilds the full account view for the profile against the price
// snapshot. When the inputs hash identically to the previous call the cached
// result is returned with Cached set.
func (e *Engine) Compute(profile core.ProfileState, prices map[string]float64) *Result {
	hash, hashOK := inputHash(profile, prices)

	e.mu.Lock()
	if hashOK && e.last != nil && hash == e.lastHash {
		cached := *e.last
		cached.Cached = true
		e.mu.Unlock()
		return &cached
	}
	e.mu.Unlock()

	start := time.Now()
	res := e.compute(profile, prices)
	if mh := telemetry.GetGlobalMetrics(); mh.ComputesTotal != nil {
		mh.ComputesTotal.Add(context.Background(), 1)
		mh.ComputeDuration.Record(context.Background(), float64(time.Since(start).Microseconds())/1000)
	}
	if hashOK {
		e.mu.Lock()
		e.lastHash = hash
		e.last = res
		e.mu.Unlock()
	}
	return res
}

func (e *Engine) compute(profile core.ProfileState, prices map[string]float64) *Result {
	snap := account.Aggregate(profile.Positions, prices, profile.WalletBalance,
		profile.FeeRate, e.cfg.LossOnlyFreeMargin)

	res := &Result{
		Snap:       snap,
		ComputedAt: time.Now(),
	}

	// The single manually-entered liquidation price on the reference coin
	// pins the venue's MMR; that one rate projects liquidation for every
	// other coin in the book.
	refEst, refOK := solver.EstimateMMR(snap, profile.ReferenceCoin,
		profile.ObservedLiq[profile.ReferenceCoin])

	for _, coin := range bookCoins(snap) {
		rep := CoinReport{Coin: coin}
		if p, ok := prices[coin]; ok && p > 0 {
			rep.Price = p
			rep.HasPrice = true
		}
		rep.ObservedLiq = profile.ObservedLiq[coin]
		// A coin with its own observed price infers directly; the rest
		// inherit the reference coin's rate.
		est, ok := solver.EstimateMMR(snap, coin, rep.ObservedLiq)
		if !ok && refOK {
			est, ok = refEst, true
		}
		if ok {
			rep.MMR = est
			rep.MMRValid = true
			if liq, liqOK := solver.SolveLiquidation(snap.Positions, snap.WalletBalance, coin, est.Rate); liqOK {
				rep.Liq = liq
				rep.LiqOK = true
				if rep.HasPrice {
					rep.LiqDistPct = solver.LiqDistancePct(rep.Price, liq)
				}
			}
		}
		res.Coins = append(res.Coins, rep)
	}

	res.HedgeEval = e.evaluateHedgeCycle(profile, snap)

	if e.log != nil {
		e.log.Debug("engine compute",
			"positions", len(snap.Positions),
			"equity", snap.Equity,
			"free_margin", snap.FreeMargin,
		)
	}
	return res
}

// ScenarioContext builds the shared context for the what-if engines on one
// coin, carrying the coin's inferred MMR and lot step.
func (e *Engine) ScenarioContext(res *Result, coin string) *scenario.Context {
	ctx := &scenario.Context{
		Snap:    res.Snap,
		LotStep: e.cfg.LotSteps[coin],
	}
	if rep, ok := res.Coin(coin); ok {
		ctx.MMR = rep.MMR.Rate
		ctx.MMRValid = rep.MMRValid
		ctx.ObservedLiq = rep.ObservedLiq
	}
	return ctx
}

// HedgeEngine builds the pyramiding/pair calculator over the same inputs.
func (e *Engine) HedgeEngine(res *Result, coin string) *hedge.Engine {
	he := &hedge.Engine{
		Snap:    res.Snap,
		LotStep: e.cfg.LotSteps[coin],
	}
	if rep, ok := res.Coin(coin); ok {
		he.MMR = rep.MMR.Rate
		he.MMRValid = rep.MMRValid
	}
	return he
}

// PriceForFreeMargin answers "at what price does free margin reach target"
// for the given coin.
func (e *Engine) PriceForFreeMargin(res *Result, coin string, target float64) (solver.FreeMarginSolution, bool) {
	rep, ok := res.Coin(coin)
	if !ok || !rep.HasPrice {
		return solver.FreeMarginSolution{}, false
	}
	return solver.SolvePriceForFreeMargin(res.Snap, coin, rep.Price, target), true
}

// evaluateHedgeCycle runs the controller when the reference coin carries
// exactly one long and one short leg and the profile configures the cycle.
func (e *Engine) evaluateHedgeCycle(profile core.ProfileState, snap account.Snapshot) *hedgecycle.Evaluation {
	p := profile.HedgeCycle
	if p.TakeProfitROE == 0 && p.BaseMargin == 0 {
		return nil
	}

	var long, short *account.Derived
	for i := range snap.Positions {
		d := &snap.Positions[i]
		if d.Coin != profile.ReferenceCoin {
			continue
		}
		if d.Sign > 0 {
			if long != nil {
				return nil
			}
			long = d
		} else {
			if short != nil {
				return nil
			}
			short = d
		}
	}
	if long == nil || short == nil {
		return nil
	}

	ctrl := &hedgecycle.Controller{Params: p, FeeRate: profile.FeeRate}
	ev, ok := ctrl.Evaluate(*long, *short, profile.WalletBalance)
	if !ok {
		return nil
	}
	return &ev
}

func bookCoins(snap account.Snapshot) []string {
	seen := make(map[string]struct{})
	var coins []string
	for _, d := range snap.Positions {
		if _, ok := seen[d.Coin]; ok {
			continue
		}
		seen[d.Coin] = struct{}{}
		coins = append(coins, d.Coin)
	}
	sort.Strings(coins)
	return coins
}

func inputHash(profile core.ProfileState, prices map[string]float64) ([sha256.Size]byte, bool) {
	payload, err := json.Marshal(struct {
		Profile core.ProfileState  `json:"profile"`
		Prices  map[string]float64 `json:"prices"`
	}{profile, prices})
	if err != nil {
		return [sha256.Size]byte{}, false
	}
	return sha256.Sum256(payload), true
}
