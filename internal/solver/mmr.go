// Package solver holds the numeric inversions of the cross-margin equation:
// maintenance-margin-rate inference from an observed liquidation price, the
// generic liquidation-price solve, and the bisection search for a target free
// margin.
package solver

import "margin_sim/internal/account"

// MMREstimate is the maintenance margin requirement implied by an
// exchange-reported liquidation price.
type MMREstimate struct {
	// Rate is requiredMM divided by total notional at the liquidation price.
	Rate float64
	// RequiredMM is account equity evaluated at the liquidation price.
	RequiredMM float64
	// NotionalAtLiq is the aggregate notional with the reference coin at the
	// liquidation price and every other coin at its current price.
	NotionalAtLiq float64
}

// EstimateMMR infers the maintenance margin rate from an observed liquidation
// price for refCoin, holding all other coins at their current price (the
// single-coin liquidation assumption). Returns false when the rate is
// undefined: no active positions, non-positive observed price, or
// non-positive notional at the liquidation price.
func EstimateMMR(snap account.Snapshot, refCoin string, observedLiq float64) (MMREstimate, bool) {
	if observedLiq <= 0 || len(snap.Positions) == 0 {
		return MMREstimate{}, false
	}

	requiredMM := snap.WalletBalance
	notionalAtLiq := 0.0
	for _, d := range snap.Positions {
		p := observedLiq
		if d.Coin != refCoin {
			if !d.HasPrice {
				continue
			}
			p = d.Price
		}
		requiredMM += d.Sign * (p - d.EntryPrice) * d.Qty
		notionalAtLiq += d.Qty * p
	}
	if notionalAtLiq <= 0 {
		return MMREstimate{}, false
	}
	return MMREstimate{
		Rate:          requiredMM / notionalAtLiq,
		RequiredMM:    requiredMM,
		NotionalAtLiq: notionalAtLiq,
	}, true
}
