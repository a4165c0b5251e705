// Package scenario implements the what-if engines built on the aggregator and
// the solvers: DCA simulation, reverse target-average solving, partial close,
// and split-entry optimization. Every engine is a pure function of the
// scenario context; nothing here mutates the account.
package scenario

import (
	"margin_sim/internal/account"
	"margin_sim/internal/solver"
)

// Context carries the account snapshot and the solver inputs shared by the
// engines.
type Context struct {
	Snap account.Snapshot

	// MMR is the maintenance margin rate inferred for the book (4.2).
	// MMRValid is false when no observed liquidation price was supplied or
	// the estimate was undefined; projections then omit liquidation prices.
	MMR      float64
	MMRValid bool

	// ObservedLiq is the exchange-reported liquidation price for the
	// selected position's coin, used as the "before" baseline. Zero when the
	// trader has not supplied one.
	ObservedLiq float64

	// LotStep is the venue quantity step for the selected coin; deposits are
	// floored to it when converted into margin. Zero disables rounding.
	LotStep float64
}

// Projection describes one position before or after a scenario is applied.
type Projection struct {
	Avg      float64
	Margin   float64
	Notional float64
	Qty      float64

	Liq        float64
	LiqOK      bool
	LiqDistPct float64

	PnL float64
	ROE float64
}

func (c *Context) beforeProjection(d account.Derived) Projection {
	p := Projection{
		Avg:      d.EntryPrice,
		Margin:   d.Margin,
		Notional: d.Notional,
		Qty:      d.Qty,
		PnL:      d.PnL,
		ROE:      d.ROE,
	}
	if c.ObservedLiq > 0 {
		p.Liq = c.ObservedLiq
		p.LiqOK = true
		if d.HasPrice {
			p.LiqDistPct = solver.LiqDistancePct(d.Price, c.ObservedLiq)
		}
	}
	return p
}

// resolveLiq re-solves the liquidation price for the coin with the modified
// position set substituted into the book.
func (c *Context) resolveLiq(positions []account.Derived, coin string) (float64, bool) {
	if !c.MMRValid {
		return 0, false
	}
	return solver.SolveLiquidation(positions, c.Snap.WalletBalance, coin, c.MMR)
}

// liqWorse reports whether the new liquidation price sits closer to the
// current price than the observed one, in the position's adverse direction.
func (c *Context) liqWorse(d account.Derived, afterLiq float64, afterOK bool) bool {
	if c.ObservedLiq <= 0 || !afterOK {
		return false
	}
	if d.Direction.Sign() > 0 {
		return afterLiq > c.ObservedLiq
	}
	return afterLiq < c.ObservedLiq
}

// Breakeven returns the exit price at which realized PnL net of round-trip
// fees is zero for a position at avg.
func Breakeven(avg, feeRate, sign float64) float64 {
	if sign > 0 {
		return avg * (1 + feeRate) / (1 - feeRate)
	}
	return avg * (1 - feeRate) / (1 + feeRate)
}
