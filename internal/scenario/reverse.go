package scenario

import (
	"math"

	"margin_sim/internal/solver"
	"margin_sim/pkg/numeric"
)

// ReverseResult answers "how much must I add at price rp to move my average
// to rt". Impossible carries no numeric payload: the entry was on the wrong
// side of the target, the solve degenerated, or the required notional came
// out non-positive.
type ReverseResult struct {
	Impossible bool

	RequiredMargin   float64
	RequiredNotional float64
	AddedQty         float64

	// RequiredDeposit is the raw amount to deposit so that, after the
	// opening fee is deducted, exactly RequiredMargin remains. Feeding it
	// back through a forward DCA at rp reproduces the target average.
	RequiredDeposit float64

	Before Projection
	After  Projection

	Breakeven     float64
	MoveNeededPct float64

	AfterFreeMargin float64
	LiqWorse        bool

	MarginInsufficient bool
	Shortfall          float64
	ShortfallPrice     solver.FreeMarginSolution

	// MaxReachableAvg is the best average attainable when the requirement
	// exceeds free margin: the whole free margin deployed at rp.
	MaxReachableAvg   float64
	MaxReachableValid bool
}

// SolveReverse computes the closed-form notional required to bring the
// selected position's average to rt with a single entry at rp:
//
//	addedNotional = (rt·qty − notional) / (1 − rt/rp)
//
// The entry must sit on the far side of the target from the current average,
// otherwise no positive notional can land the average on rt.
func (c *Context) SolveReverse(posID string, rp, rt float64) (ReverseResult, bool) {
	sel, ok := c.Snap.Find(posID)
	if !ok || rp <= 0 || rt <= 0 {
		return ReverseResult{}, false
	}

	// The entry must sit beyond the target in the direction the average has
	// to move: pulling the average down needs rp < rt, pulling it up needs
	// rp > rt. Anything else cannot place the new average at rt.
	switch {
	case rt < sel.EntryPrice && rp >= rt:
		return ReverseResult{Impossible: true}, true
	case rt > sel.EntryPrice && rp <= rt:
		return ReverseResult{Impossible: true}, true
	case rt == sel.EntryPrice:
		return ReverseResult{Impossible: true}, true
	}
	denom := 1 - rt/rp
	if math.Abs(denom) < numeric.ReverseEps {
		return ReverseResult{Impossible: true}, true
	}
	addNotional := (rt*sel.Qty - sel.Notional) / denom
	if addNotional <= 0 {
		return ReverseResult{Impossible: true}, true
	}

	addMargin := addNotional / sel.Leverage
	addQty := addNotional / rp

	modified := sel
	modified.EntryPrice = rt
	modified.Margin = sel.Margin + addMargin
	modified.Notional = sel.Notional + addNotional
	modified.Qty = sel.Qty + addQty

	res := ReverseResult{
		RequiredMargin:   addMargin,
		RequiredNotional: addNotional,
		AddedQty:         addQty,
		RequiredDeposit:  addMargin * (1 + c.Snap.FeeRate*sel.Leverage),
		Before:           c.beforeProjection(sel),
	}
	res.After, res.AfterFreeMargin = c.project(sel, modified)
	res.LiqWorse = c.liqWorse(sel, res.After.Liq, res.After.LiqOK)

	res.Breakeven = Breakeven(rt, c.Snap.FeeRate, sel.Sign)
	res.MoveNeededPct = numeric.Pct(res.Breakeven-rt, rt)

	res.MarginInsufficient, res.Shortfall, res.ShortfallPrice = c.checkShortfall(sel, addMargin)
	if res.MarginInsufficient && c.Snap.FreeMargin > 0 {
		maxNotional := c.Snap.FreeMargin * sel.Leverage
		maxQty := maxNotional / rp
		res.MaxReachableAvg = (sel.Notional + maxNotional) / (sel.Qty + maxQty)
		res.MaxReachableValid = true
	}
	return res, true
}
