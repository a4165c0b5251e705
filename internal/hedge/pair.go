package hedge

import (
	"math"

	"margin_sim/pkg/numeric"
)

// PairSolution is one closed-form price solve. OK is false when the linear
// system is degenerate or the price comes out non-positive; the zero Price
// must not be read as a market level.
type PairSolution struct {
	Price float64
	OK    bool
}

// PairResult holds the three close-pair solves for a long+short pair with
// independent close ratios.
type PairResult struct {
	ClosedLongQty  float64
	ClosedShortQty float64

	// BreakevenCloseFees nets the closed quantities against close fees only.
	BreakevenCloseFees PairSolution
	// BreakevenAllFees additionally recovers the entry fees already paid on
	// the closed fractions.
	BreakevenAllFees PairSolution
	// TargetProfit is the price realizing Target net of all fees.
	TargetProfit PairSolution
	Target       float64
}

// ClosePair solves the prices at which closing longRatio of the long leg and
// shortRatio of the short leg breaks even or hits a net profit target. All
// three share one linear form:
//
//	P·(w_L − w_S − f·(w_L+w_S)) = e_L·w_L − e_S·w_S + feeback + target
//
// with w the closed quantities. Returns false when the legs are missing, not
// a long/short pair on one coin, or a ratio is outside (0, 1].
func (e *Engine) ClosePair(longID, shortID string, longRatio, shortRatio, target float64) (PairResult, bool) {
	long, ok := e.Snap.Find(longID)
	if !ok || long.Sign <= 0 {
		return PairResult{}, false
	}
	short, ok := e.Snap.Find(shortID)
	if !ok || short.Sign >= 0 || short.Coin != long.Coin {
		return PairResult{}, false
	}
	if longRatio <= 0 || longRatio > 1 || shortRatio <= 0 || shortRatio > 1 {
		return PairResult{}, false
	}

	wL := long.Qty * longRatio
	wS := short.Qty * shortRatio
	fee := e.Snap.FeeRate

	denom := wL - wS - fee*(wL+wS)
	solve := func(rhs float64) PairSolution {
		if math.Abs(denom) < numeric.Eps {
			return PairSolution{}
		}
		p := rhs / denom
		if p <= 0 {
			return PairSolution{}
		}
		return PairSolution{Price: p, OK: true}
	}

	rhsClose := long.EntryPrice*wL - short.EntryPrice*wS
	entryFees := fee * (long.EntryPrice*wL + short.EntryPrice*wS)

	return PairResult{
		ClosedLongQty:      wL,
		ClosedShortQty:     wS,
		BreakevenCloseFees: solve(rhsClose),
		BreakevenAllFees:   solve(rhsClose + entryFees),
		TargetProfit:       solve(rhsClose + entryFees + target),
		Target:             target,
	}, true
}
