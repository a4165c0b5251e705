package scenario

import (
	"margin_sim/internal/account"
	"margin_sim/internal/solver"
	"margin_sim/pkg/numeric"
)

// DCAEntry is one hypothetical fill: a price and the raw deposit to spend.
type DCAEntry struct {
	Price   float64
	Deposit float64
}

// AppliedEntry is a DCAEntry after fee/lot conversion.
type AppliedEntry struct {
	Price    float64
	Margin   float64
	Notional float64
	Qty      float64
	OpenFee  float64
	Change   float64
}

// DCAResult is the projection of averaging into the selected position.
type DCAResult struct {
	Applied      []AppliedEntry
	AddedDeposit float64
	AddedMargin  float64
	TotalChange  float64

	Before Projection
	After  Projection

	Breakeven     float64
	MoveNeededPct float64
	AvgDelta      float64
	AvgDeltaPct   float64

	AfterFreeMargin float64
	LiqWorse        bool

	MarginInsufficient bool
	Shortfall          float64
	ShortfallPrice     solver.FreeMarginSolution
}

// SimulateDCA projects the selected position after the given entries are
// filled. Entries with a non-positive price or deposit are skipped; returns
// false when the position is unknown or nothing remains to apply.
func (c *Context) SimulateDCA(posID string, entries []DCAEntry) (DCAResult, bool) {
	sel, ok := c.Snap.Find(posID)
	if !ok {
		return DCAResult{}, false
	}

	var (
		applied                          []AppliedEntry
		addDeposit, addMargin, addChange float64
		addNotional, addQty              float64
	)
	for _, e := range entries {
		if e.Price <= 0 || e.Deposit <= 0 {
			continue
		}
		conv, convOK := ConvertDeposit(e.Deposit, e.Price, sel.Leverage, c.Snap.FeeRate, c.LotStep)
		if !convOK {
			continue
		}
		notional := conv.Qty * e.Price
		applied = append(applied, AppliedEntry{
			Price:    e.Price,
			Margin:   conv.Margin,
			Notional: notional,
			Qty:      conv.Qty,
			OpenFee:  conv.OpenFee,
			Change:   conv.Change,
		})
		addDeposit += e.Deposit
		addMargin += conv.Margin
		addChange += conv.Change
		addNotional += notional
		addQty += conv.Qty
	}
	if len(applied) == 0 {
		return DCAResult{}, false
	}

	modified := sel
	modified.EntryPrice = (sel.Notional + addNotional) / (sel.Qty + addQty)
	modified.Margin = sel.Margin + addMargin
	modified.Notional = sel.Notional + addNotional
	modified.Qty = sel.Qty + addQty

	res := DCAResult{
		Applied:      applied,
		AddedDeposit: addDeposit,
		AddedMargin:  addMargin,
		TotalChange:  addChange,
		Before:       c.beforeProjection(sel),
	}
	res.After, res.AfterFreeMargin = c.project(sel, modified)
	res.LiqWorse = c.liqWorse(sel, res.After.Liq, res.After.LiqOK)

	res.Breakeven = Breakeven(modified.EntryPrice, c.Snap.FeeRate, sel.Sign)
	res.MoveNeededPct = numeric.Pct(res.Breakeven-modified.EntryPrice, modified.EntryPrice)
	res.AvgDelta = modified.EntryPrice - sel.EntryPrice
	res.AvgDeltaPct = numeric.Pct(res.AvgDelta, sel.EntryPrice)

	res.MarginInsufficient, res.Shortfall, res.ShortfallPrice = c.checkShortfall(sel, addDeposit)
	return res, true
}

// project substitutes the modified position into the book and returns its
// after-projection plus the account free margin under the new book.
func (c *Context) project(sel, modified account.Derived) (Projection, float64) {
	positions := c.Snap.WithPosition(modified)
	after := account.Recompute(positions, c.Snap.WalletBalance, c.Snap.FeeRate, c.Snap.LossOnlyFreeMargin)

	p := Projection{
		Avg:      modified.EntryPrice,
		Margin:   modified.Margin,
		Notional: modified.Notional,
		Qty:      modified.Qty,
	}
	if d, ok := after.Find(sel.ID); ok {
		p.PnL = d.PnL
		p.ROE = d.ROE
	}
	if liq, ok := c.resolveLiq(positions, sel.Coin); ok {
		p.Liq = liq
		p.LiqOK = true
		if sel.HasPrice {
			p.LiqDistPct = solver.LiqDistancePct(sel.Price, liq)
		}
	}
	return p, after.FreeMargin
}

// checkShortfall flags a request that exceeds the current free margin and,
// when solvable, the price at which the gap closes.
func (c *Context) checkShortfall(sel account.Derived, required float64) (bool, float64, solver.FreeMarginSolution) {
	avail := c.Snap.FreeMargin
	if avail < 0 {
		avail = 0
	}
	if required <= avail {
		return false, 0, solver.FreeMarginSolution{}
	}
	shortfall := required - avail
	var sol solver.FreeMarginSolution
	if sel.HasPrice {
		sol = solver.SolvePriceForFreeMargin(c.Snap, sel.Coin, sel.Price, required)
	}
	return true, shortfall, sol
}
