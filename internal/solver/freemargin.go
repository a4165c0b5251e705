package solver

import (
	"math"

	"margin_sim/internal/account"
	"margin_sim/pkg/numeric"
)

const (
	// bisectIterations caps each directional bisection.
	bisectIterations = 80
	// scanPoints is the resolution of the best-effort scan when no exact
	// solution exists.
	scanPoints = 200
	// upperBracketFactor bounds the price-up search at currentPrice × 200.
	upperBracketFactor = 200
)

// FreeMarginSolution is the outcome of solving freeMargin(P) >= target for
// the price P of one coin.
type FreeMarginSolution struct {
	// Sufficient means the current free margin already meets the target; no
	// price move is needed and Price echoes the current price.
	Sufficient bool

	// OK means a price was found. Direction is "up" or "down" relative to the
	// current price; ChangePct is the move in percent.
	OK        bool
	Price     float64
	Direction string
	ChangePct float64

	// When neither Sufficient nor OK, BestFreeMargin is the highest free
	// margin found by a coarse scan in both directions and BestPrice is where
	// it occurs. This is a reported heuristic, not a guaranteed optimum of
	// the clipped free-margin function.
	BestFreeMargin float64
	BestPrice      float64
}

// SolvePriceForFreeMargin searches for the price of coin at which the
// account's free margin reaches target. The loss-only clipping makes
// freeMargin(P) piecewise-linear with a kink at each entry price, and
// non-monotonic when long and short exposures coexist, so the search bisects
// independently over [currentPrice, currentPrice×200] and [ε, currentPrice]
// and returns the solution closer to the current price.
func SolvePriceForFreeMargin(snap account.Snapshot, coin string, currentPrice, target float64) FreeMarginSolution {
	if snap.FreeMargin >= target {
		return FreeMarginSolution{Sufficient: true, Price: currentPrice}
	}
	if currentPrice <= 0 {
		return FreeMarginSolution{}
	}

	sat := func(p float64) bool {
		return snap.FreeMarginAt(coin, p) >= target
	}

	up, upOK := bisect(sat, currentPrice, currentPrice*upperBracketFactor)
	down, downOK := bisect(sat, numeric.Eps, currentPrice)

	var price float64
	switch {
	case upOK && downOK:
		if math.Abs(up-currentPrice) <= math.Abs(down-currentPrice) {
			price = up
		} else {
			price = down
		}
	case upOK:
		price = up
	case downOK:
		price = down
	default:
		bestP, bestFM := scanBest(snap, coin, currentPrice)
		return FreeMarginSolution{BestFreeMargin: bestFM, BestPrice: bestP}
	}

	dir := "up"
	if price < currentPrice {
		dir = "down"
	}
	return FreeMarginSolution{
		OK:        true,
		Price:     price,
		Direction: dir,
		ChangePct: numeric.ChangePct(price, currentPrice),
	}
}

// bisect narrows [lo, hi] until the satisfying endpoint converges. The
// bracket is usable only when exactly one endpoint satisfies the predicate;
// endpoints are swapped when the search runs inverted.
func bisect(sat func(float64) bool, lo, hi float64) (float64, bool) {
	satLo, satHi := sat(lo), sat(hi)
	if satLo == satHi {
		return 0, false
	}
	if satLo {
		lo, hi = hi, lo
	}
	// Invariant: sat(hi) && !sat(lo).
	for i := 0; i < bisectIterations; i++ {
		mid := (lo + hi) / 2
		if sat(mid) {
			hi = mid
		} else {
			lo = mid
		}
		if math.Abs(hi-lo) <= numeric.Eps*math.Max(1, math.Abs(hi)) {
			break
		}
	}
	if hi < 0 {
		return 0, false
	}
	return hi, true
}

// scanBest samples the free-margin curve at scanPoints prices in each
// direction and reports the best attainable value, so an infeasible target
// still yields a shortfall figure.
func scanBest(snap account.Snapshot, coin string, currentPrice float64) (price, freeMargin float64) {
	price = currentPrice
	freeMargin = snap.FreeMargin
	for i := 1; i <= scanPoints; i++ {
		frac := float64(i) / scanPoints
		pUp := currentPrice * (1 + frac*(upperBracketFactor-1))
		if fm := snap.FreeMarginAt(coin, pUp); fm > freeMargin {
			freeMargin, price = fm, pUp
		}
		pDown := currentPrice * (1 - frac)
		if pDown <= 0 {
			pDown = numeric.Eps
		}
		if fm := snap.FreeMarginAt(coin, pDown); fm > freeMargin {
			freeMargin, price = fm, pDown
		}
	}
	return price, freeMargin
}
