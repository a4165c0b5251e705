// Package hedge models a locked losing position paired with a counter
// position in the opposite direction on the same coin: pyramiding into the
// counter leg, the price at which closing both nets zero, and the closed-form
// break-even prices for closing a long+short pair.
package hedge

import (
	"fmt"
	"math"

	"margin_sim/internal/account"
	"margin_sim/internal/scenario"
	"margin_sim/internal/solver"
	"margin_sim/pkg/numeric"
)

const (
	reverseIterations = 100
	reverseTolerance  = 0.01
	bracketDoublings  = 64
)

// Engine carries the account snapshot and solver inputs for the hedge
// calculators, mirroring the scenario context.
type Engine struct {
	Snap     account.Snapshot
	MMR      float64
	MMRValid bool
	LotStep  float64
}

// Entry is one incremental counter-direction fill.
type Entry struct {
	Price   float64
	Deposit float64
}

// Stage is the pair state after one incremental entry: the blended counter
// leg, the reversal price it implies, and the re-solved liquidation price.
type Stage struct {
	Entry scenario.AppliedEntry

	CounterAvg    float64
	CounterQty    float64
	CounterMargin float64

	ReversalPrice float64
	ReversalOK    bool

	Liq   float64
	LiqOK bool
}

// ScenarioRow is the combined pair PnL evaluated at one price.
type ScenarioRow struct {
	Label string
	Price float64

	LockedPnL  float64
	CounterPnL float64
	CloseFees  float64
	Net        float64
}

// ForwardResult is the stage-by-stage pyramiding projection plus the scenario
// table for the final pair state.
type ForwardResult struct {
	Stages []Stage
	Rows   []ScenarioRow

	ReversalPrice float64
	ReversalOK    bool

	AddedDeposit float64
	AddedMargin  float64

	MarginInsufficient bool
	Shortfall          float64
}

// ReverseResult is the minimum-margin solve for a target reversal price.
type ReverseResult struct {
	AlreadyReversed bool
	Impossible      bool

	RequiredMargin float64
	AddedQty       float64
	CounterAvg     float64
	CounterQty     float64

	NetAtTarget float64
	Iterations  int
}

// pair resolves and validates the locked/counter legs: both present, same
// coin, opposite directions.
func (e *Engine) pair(lockedID, counterID string) (locked, counter account.Derived, ok bool) {
	locked, ok = e.Snap.Find(lockedID)
	if !ok {
		return
	}
	counter, ok = e.Snap.Find(counterID)
	if !ok {
		return
	}
	ok = locked.Coin == counter.Coin && locked.Sign == -counter.Sign
	return
}

// Forward applies the counter-direction entries one at a time and reports the
// reversal price and liquidation after each. The scenario table evaluates the
// final pair at the current price, the reversal price, and fixed offsets.
func (e *Engine) Forward(lockedID, counterID string, entries []Entry) (ForwardResult, bool) {
	locked, counter, ok := e.pair(lockedID, counterID)
	if !ok {
		return ForwardResult{}, false
	}

	var res ForwardResult
	avg, qty, margin := counter.EntryPrice, counter.Qty, counter.Margin
	notional := counter.Notional
	for _, en := range entries {
		if en.Price <= 0 || en.Deposit <= 0 {
			continue
		}
		conv, convOK := scenario.ConvertDeposit(en.Deposit, en.Price, counter.Leverage, e.Snap.FeeRate, e.LotStep)
		if !convOK {
			continue
		}
		addNotional := conv.Qty * en.Price
		notional += addNotional
		qty += conv.Qty
		margin += conv.Margin
		avg = notional / qty
		res.AddedDeposit += en.Deposit
		res.AddedMargin += conv.Margin

		st := Stage{
			Entry: scenario.AppliedEntry{
				Price:    en.Price,
				Margin:   conv.Margin,
				Notional: addNotional,
				Qty:      conv.Qty,
				OpenFee:  conv.OpenFee,
				Change:   conv.Change,
			},
			CounterAvg:    avg,
			CounterQty:    qty,
			CounterMargin: margin,
		}
		st.ReversalPrice, st.ReversalOK = reversalPrice(locked, avg, qty, e.Snap.FeeRate)
		st.Liq, st.LiqOK = e.stageLiq(counter, avg, qty, margin, notional)
		res.Stages = append(res.Stages, st)
	}
	if len(res.Stages) == 0 {
		// No entries survived conversion: report the pair as it stands.
		res.ReversalPrice, res.ReversalOK = reversalPrice(locked, avg, qty, e.Snap.FeeRate)
	} else {
		last := res.Stages[len(res.Stages)-1]
		res.ReversalPrice, res.ReversalOK = last.ReversalPrice, last.ReversalOK
	}

	res.Rows = e.scenarioRows(locked, avg, qty, res.ReversalPrice, res.ReversalOK)

	avail := e.Snap.FreeMargin
	if avail < 0 {
		avail = 0
	}
	if res.AddedDeposit > avail {
		res.MarginInsufficient = true
		res.Shortfall = res.AddedDeposit - avail
	}
	return res, true
}

// Reverse binary-searches the minimum margin added to the counter leg at
// entryPrice that drives the pair's combined net PnL at target to zero. The
// locked leg is held fixed.
func (e *Engine) Reverse(lockedID, counterID string, target, entryPrice float64) (ReverseResult, bool) {
	locked, counter, ok := e.pair(lockedID, counterID)
	if !ok || target <= 0 || entryPrice <= 0 {
		return ReverseResult{}, false
	}

	net := func(m float64) float64 {
		addQty := m * counter.Leverage / entryPrice
		q := counter.Qty + addQty
		avg := counter.EntryPrice
		if q > 0 {
			avg = (counter.Notional + entryPrice*addQty) / q
		}
		return pairNet(locked, counter.Sign, avg, q, target, e.Snap.FeeRate)
	}

	if net(0) >= 0 {
		return ReverseResult{
			AlreadyReversed: true,
			CounterAvg:      counter.EntryPrice,
			CounterQty:      counter.Qty,
			NetAtTarget:     net(0),
		}, true
	}

	lo, hi := 0.0, math.Max(counter.Margin, 1)
	bracketed := false
	for i := 0; i < bracketDoublings; i++ {
		if net(hi) >= 0 {
			bracketed = true
			break
		}
		hi *= 2
	}
	if !bracketed {
		return ReverseResult{Impossible: true}, true
	}

	iters := 0
	for ; iters < reverseIterations && hi-lo > reverseTolerance; iters++ {
		mid := (lo + hi) / 2
		if net(mid) >= 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	if hi-lo > reverseTolerance {
		return ReverseResult{Impossible: true}, true
	}

	addQty := hi * counter.Leverage / entryPrice
	q := counter.Qty + addQty
	return ReverseResult{
		RequiredMargin: hi,
		AddedQty:       addQty,
		CounterAvg:     (counter.Notional + entryPrice*addQty) / q,
		CounterQty:     q,
		NetAtTarget:    net(hi),
		Iterations:     iters,
	}, true
}

// reversalPrice solves the linear equation for the price at which closing the
// locked leg and the counter leg together nets zero after close fees:
//
//	P·(s_L·q_L + s_C·q_C − f·(q_L+q_C)) = s_L·e_L·q_L + s_C·a_C·q_C
func reversalPrice(locked account.Derived, counterAvg, counterQty, feeRate float64) (float64, bool) {
	sC := -locked.Sign
	denom := locked.Sign*locked.Qty + sC*counterQty - feeRate*(locked.Qty+counterQty)
	if math.Abs(denom) < numeric.Eps {
		return 0, false
	}
	p := (locked.Sign*locked.EntryPrice*locked.Qty + sC*counterAvg*counterQty) / denom
	if p <= 0 {
		return 0, false
	}
	return p, true
}

// pairNet is the combined PnL of the pair closed at price p, net of close
// fees on both quantities.
func pairNet(locked account.Derived, sC, counterAvg, counterQty, p, feeRate float64) float64 {
	lockedPnL := locked.Sign * (p - locked.EntryPrice) * locked.Qty
	counterPnL := sC * (p - counterAvg) * counterQty
	return lockedPnL + counterPnL - feeRate*p*(locked.Qty+counterQty)
}

func (e *Engine) stageLiq(counter account.Derived, avg, qty, margin, notional float64) (float64, bool) {
	if !e.MMRValid {
		return 0, false
	}
	modified := counter
	modified.EntryPrice = avg
	modified.Qty = qty
	modified.Margin = margin
	modified.Notional = notional
	positions := e.Snap.WithPosition(modified)
	return solver.SolveLiquidation(positions, e.Snap.WalletBalance, counter.Coin, e.MMR)
}

func (e *Engine) scenarioRows(locked account.Derived, counterAvg, counterQty, revPrice float64, revOK bool) []ScenarioRow {
	sC := -locked.Sign
	row := func(label string, p float64) ScenarioRow {
		lp := locked.Sign * (p - locked.EntryPrice) * locked.Qty
		cp := sC * (p - counterAvg) * counterQty
		fees := e.Snap.FeeRate * p * (locked.Qty + counterQty)
		return ScenarioRow{Label: label, Price: p, LockedPnL: lp, CounterPnL: cp, CloseFees: fees, Net: lp + cp - fees}
	}

	var rows []ScenarioRow
	if locked.HasPrice {
		rows = append(rows, row("current", locked.Price))
	}
	if revOK {
		rows = append(rows, row("reversal", revPrice))
	}
	if locked.HasPrice {
		for _, pct := range []float64{1, 3, 5, 10} {
			rows = append(rows,
				row(fmt.Sprintf("+%.0f%%", pct), locked.Price*(1+pct/100)),
				row(fmt.Sprintf("-%.0f%%", pct), locked.Price*(1-pct/100)),
			)
		}
	}
	return rows
}
