// Package account derives per-position quantities and account totals from raw
// trader inputs. Everything here is a pure function of its arguments; the
// engines recompute from scratch on every input change.
package account

import (
	"margin_sim/internal/core"
	"margin_sim/pkg/numeric"
)

// Derived is an active position with its computed fields. Notional is fixed
// at entry time and never moves with price.
type Derived struct {
	core.Position

	Notional float64
	Qty      float64
	Sign     float64
	Price    float64
	HasPrice bool
	PnL      float64
	ROE      float64
}

// PnLAt returns the signed PnL of the position at price p.
func (d Derived) PnLAt(p float64) float64 {
	return d.Sign * (p - d.EntryPrice) * d.Qty
}

// Snapshot is the aggregated account view over one set of active positions.
type Snapshot struct {
	WalletBalance float64
	FeeRate       float64
	// LossOnlyFreeMargin selects the venue convention of clipping unrealized
	// profit out of free margin while counting losses in full. This clipping
	// is what makes free margin piecewise-linear and non-monotonic.
	LossOnlyFreeMargin bool

	Positions []Derived

	TotalPnL   float64
	Equity     float64
	UsedMargin float64
	FreeMargin float64
}

// Aggregate filters the raw positions down to active ones, derives their
// quantities against the price map, and computes account totals. Positions
// with a non-positive entry price or margin are dropped silently.
func Aggregate(positions []core.Position, prices map[string]float64, wallet, feeRate float64, lossOnly bool) Snapshot {
	derived := make([]Derived, 0, len(positions))
	for _, p := range positions {
		if !p.Active() {
			continue
		}
		d := Derived{
			Position: p,
			Notional: p.Notional(),
			Qty:      p.Quantity(),
			Sign:     p.Direction.Sign(),
		}
		if cp, ok := prices[p.Coin]; ok && cp > 0 {
			d.Price = cp
			d.HasPrice = true
		}
		derived = append(derived, d)
	}
	return Recompute(derived, wallet, feeRate, lossOnly)
}

// Recompute rebuilds PnL, ROE, and account totals for an already-derived
// position set. Scenario engines use it after substituting a hypothetical
// position.
func Recompute(positions []Derived, wallet, feeRate float64, lossOnly bool) Snapshot {
	snap := Snapshot{
		WalletBalance:      wallet,
		FeeRate:            feeRate,
		LossOnlyFreeMargin: lossOnly,
		Positions:          positions,
	}
	clipped := 0.0
	for i := range positions {
		d := &positions[i]
		if d.HasPrice && d.Qty > 0 {
			d.PnL = d.PnLAt(d.Price)
			d.ROE = numeric.Pct(d.PnL, d.Margin)
		} else {
			d.PnL = 0
			d.ROE = 0
		}
		snap.TotalPnL += d.PnL
		snap.UsedMargin += d.Margin
		if d.PnL < 0 {
			clipped += d.PnL
		}
	}
	snap.Equity = wallet + snap.TotalPnL
	if lossOnly {
		snap.FreeMargin = wallet + clipped - snap.UsedMargin
	} else {
		snap.FreeMargin = snap.Equity - snap.UsedMargin
	}
	return snap
}

// FreeMarginAt evaluates free margin with every position on coin repriced to
// p while all other coins stay at their current price. Positions on coin with
// no current price still participate, since p supplies one.
func (s Snapshot) FreeMarginAt(coin string, p float64) float64 {
	fm := s.WalletBalance - s.UsedMargin
	for _, d := range s.Positions {
		var pnl float64
		switch {
		case d.Coin == coin:
			pnl = d.PnLAt(p)
		case d.HasPrice:
			pnl = d.PnL
		default:
			continue
		}
		if s.LossOnlyFreeMargin {
			if pnl < 0 {
				fm += pnl
			}
		} else {
			fm += pnl
		}
	}
	return fm
}

// WithPosition returns a copy of the position set with the position whose ID
// matches repl.ID replaced. Positions whose quantity has been reduced to zero
// are removed.
func (s Snapshot) WithPosition(repl Derived) []Derived {
	out := make([]Derived, 0, len(s.Positions))
	for _, d := range s.Positions {
		if d.ID == repl.ID {
			d = repl
		}
		if d.Qty <= 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Find returns the derived position with the given id.
func (s Snapshot) Find(id string) (Derived, bool) {
	for _, d := range s.Positions {
		if d.ID == id {
			return d, true
		}
	}
	return Derived{}, false
}
