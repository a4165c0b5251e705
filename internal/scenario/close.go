package scenario

import (
	"margin_sim/internal/account"
	"margin_sim/internal/solver"
	"margin_sim/pkg/numeric"
)

// CloseResult projects a partial (or full) close of the selected position at
// a chosen price. The average entry price of the remainder is unchanged;
// quantity, margin, and notional shrink proportionally.
type CloseResult struct {
	Ratio      float64
	ClosePrice float64

	ClosedQty      float64
	ClosedNotional float64
	ClosedMargin   float64
	RealizedPnL    float64
	CloseFee       float64
	NewWallet      float64

	FullyClosed bool

	Before    Projection
	Remaining Projection

	RemEquity     float64
	RemUsedMargin float64
	RemFreeMargin float64

	Reentry      ReentryProjection
	ReentryValid bool
}

// ReentryProjection is the optional follow-up: the entire freed margin
// redeployed at one price after the close.
type ReentryProjection struct {
	Price  float64
	Margin float64
	Qty    float64

	NewAvg    float64
	NewQty    float64
	NewMargin float64

	PnL       float64
	ROE       float64
	Breakeven float64

	Liq   float64
	LiqOK bool
}

// Close simulates closing ratio of the position at closePrice (zero means the
// current price). A positive reentryPrice additionally projects redeploying
// the freed margin there. Returns false for an unknown position, a ratio
// outside (0, 1], or no usable close price.
func (c *Context) Close(posID string, ratio, closePrice, reentryPrice float64) (CloseResult, bool) {
	sel, ok := c.Snap.Find(posID)
	if !ok || ratio <= 0 || ratio > 1 {
		return CloseResult{}, false
	}
	if closePrice <= 0 {
		if !sel.HasPrice {
			return CloseResult{}, false
		}
		closePrice = sel.Price
	}

	closedQty := sel.Qty * ratio
	closedNotional := sel.Notional * ratio
	closedMargin := sel.Margin * ratio

	realized := sel.Sign * (closePrice - sel.EntryPrice) * closedQty
	// One-way fee: the opening fee was paid when the position was built.
	closeFee := closedQty * closePrice * c.Snap.FeeRate
	newWallet := c.Snap.WalletBalance + realized - closeFee

	remaining := sel
	remaining.Qty = sel.Qty - closedQty
	remaining.Notional = sel.Notional - closedNotional
	remaining.Margin = sel.Margin - closedMargin

	remPositions := c.Snap.WithPosition(remaining)
	remSnap := account.Recompute(remPositions, newWallet, c.Snap.FeeRate, c.Snap.LossOnlyFreeMargin)

	res := CloseResult{
		Ratio:          ratio,
		ClosePrice:     closePrice,
		ClosedQty:      closedQty,
		ClosedNotional: closedNotional,
		ClosedMargin:   closedMargin,
		RealizedPnL:    realized,
		CloseFee:       closeFee,
		NewWallet:      newWallet,
		FullyClosed:    ratio == 1,
		Before:         c.beforeProjection(sel),
		RemEquity:      remSnap.Equity,
		RemUsedMargin:  remSnap.UsedMargin,
		RemFreeMargin:  remSnap.FreeMargin,
	}

	res.Remaining = Projection{
		Avg:      sel.EntryPrice,
		Margin:   remaining.Margin,
		Notional: remaining.Notional,
		Qty:      remaining.Qty,
	}
	if d, found := remSnap.Find(sel.ID); found {
		res.Remaining.PnL = d.PnL
		res.Remaining.ROE = d.ROE
	}
	if c.MMRValid {
		if liq, liqOK := solver.SolveLiquidation(remPositions, newWallet, sel.Coin, c.MMR); liqOK {
			res.Remaining.Liq = liq
			res.Remaining.LiqOK = true
			if sel.HasPrice {
				res.Remaining.LiqDistPct = solver.LiqDistancePct(sel.Price, liq)
			}
		}
	}

	if reentryPrice > 0 && remaining.Qty > 0 && remSnap.FreeMargin > 0 {
		res.Reentry = c.projectReentry(sel, remaining, remSnap, newWallet, reentryPrice)
		res.ReentryValid = true
	}
	return res, true
}

func (c *Context) projectReentry(sel, remaining account.Derived, remSnap account.Snapshot, newWallet, price float64) ReentryProjection {
	margin := remSnap.FreeMargin
	notional := margin * sel.Leverage
	qty := notional / price

	re := ReentryProjection{
		Price:     price,
		Margin:    margin,
		Qty:       qty,
		NewQty:    remaining.Qty + qty,
		NewMargin: remaining.Margin + margin,
	}
	re.NewAvg = (remaining.Notional + notional) / re.NewQty
	re.Breakeven = Breakeven(re.NewAvg, c.Snap.FeeRate, sel.Sign)
	if sel.HasPrice {
		re.PnL = sel.Sign * (sel.Price - re.NewAvg) * re.NewQty
		re.ROE = numeric.Pct(re.PnL, re.NewMargin)
	}

	merged := remaining
	merged.EntryPrice = re.NewAvg
	merged.Qty = re.NewQty
	merged.Notional = remaining.Notional + notional
	merged.Margin = re.NewMargin
	positions := remSnap.WithPosition(merged)
	if c.MMRValid {
		if liq, ok := solver.SolveLiquidation(positions, newWallet, sel.Coin, c.MMR); ok {
			re.Liq = liq
			re.LiqOK = true
		}
	}
	return re
}
