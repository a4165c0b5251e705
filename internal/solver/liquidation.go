package solver

import (
	"margin_sim/internal/account"
	"margin_sim/pkg/numeric"
)

// SolveLiquidation solves the price P of coin at which equity equals the
// maintenance margin requirement:
//
//	wallet + Σ sign_i(P_i − entry_i)qty_i = mmr × Σ qty_i·P_i
//
// Positions on other coins are held at their current price; positions with no
// known price are excluded. Returns false when mmr is non-positive, the
// denominator is near zero (perfectly hedged against the MMR slope), or the
// solved price is negative.
func SolveLiquidation(positions []account.Derived, wallet float64, coin string, mmr float64) (float64, bool) {
	if mmr <= 0 {
		return 0, false
	}

	var sumSignQty, sumSignEpQty, sumQty float64
	var otherPnL, otherNotional float64
	for _, d := range positions {
		if d.Coin == coin {
			sumSignQty += d.Sign * d.Qty
			sumSignEpQty += d.Sign * d.EntryPrice * d.Qty
			sumQty += d.Qty
			continue
		}
		if !d.HasPrice {
			continue
		}
		otherPnL += d.PnLAt(d.Price)
		otherNotional += d.Qty * d.Price
	}

	denom := mmr*sumQty - sumSignQty
	if numeric.NearZero(denom) {
		return 0, false
	}
	liq := (wallet - sumSignEpQty + otherPnL - mmr*otherNotional) / denom
	if liq < 0 {
		return 0, false
	}
	return liq, true
}

// LiqDistancePct is the buffer between the current price and the liquidation
// price, in percent of the current price.
func LiqDistancePct(currentPrice, liq float64) float64 {
	if currentPrice <= 0 {
		return 0
	}
	return (currentPrice - liq) / currentPrice * 100
}
