package scenario

import (
	"math"
	"sort"
)

// SplitStrategy is one fixed weighting of the total margin across the
// candidate prices.
type SplitStrategy struct {
	Name    string
	Entries []AppliedEntry

	NewAvg      float64
	NewQty      float64
	NewMargin   float64
	NewNotional float64

	Liq       float64
	LiqOK     bool
	Breakeven float64
	PnL       float64
	ROE       float64
}

// SplitResult ranks the weighting strategies for deploying one total across
// several candidate prices. Best is the index of the strategy with the most
// favorable resulting average.
type SplitResult struct {
	Prices     []float64
	Strategies []SplitStrategy
	Best       int

	TotalMargin        float64
	MarginInsufficient bool
}

// OptimizeSplit evaluates the four fixed weightings (equal, front-loaded,
// back-loaded, martingale) of total across the candidate prices and surfaces
// the one yielding the best new average: lowest for a long, highest for a
// short. Needs at least two usable prices.
func (c *Context) OptimizeSplit(posID string, total float64, prices []float64) (SplitResult, bool) {
	sel, ok := c.Snap.Find(posID)
	if !ok || total <= 0 {
		return SplitResult{}, false
	}

	usable := make([]float64, 0, len(prices))
	for _, p := range prices {
		if p > 0 {
			usable = append(usable, p)
		}
	}
	if len(usable) < 2 {
		return SplitResult{}, false
	}

	isLong := sel.Sign > 0
	// Prices closer to current first: descending for a long, ascending for a
	// short.
	sort.Slice(usable, func(i, j int) bool {
		if isLong {
			return usable[i] > usable[j]
		}
		return usable[i] < usable[j]
	})

	count := len(usable)
	weightings := []struct {
		name    string
		weights []float64
	}{
		{"equal", weightSeq(count, func(int) float64 { return 1 })},
		{"front-loaded", weightSeq(count, func(i int) float64 { return float64(count - i) })},
		{"back-loaded", weightSeq(count, func(i int) float64 { return float64(i + 1) })},
		{"martingale", weightSeq(count, func(i int) float64 { return math.Pow(2, float64(i)) })},
	}

	res := SplitResult{
		Prices:      usable,
		TotalMargin: total,
	}
	for _, w := range weightings {
		var sum float64
		for _, wt := range w.weights {
			sum += wt
		}
		entries := make([]DCAEntry, count)
		for i, p := range usable {
			entries[i] = DCAEntry{Price: p, Deposit: total * w.weights[i] / sum}
		}
		dca, dcaOK := c.SimulateDCA(posID, entries)
		if !dcaOK {
			continue
		}
		res.Strategies = append(res.Strategies, SplitStrategy{
			Name:        w.name,
			Entries:     dca.Applied,
			NewAvg:      dca.After.Avg,
			NewQty:      dca.After.Qty,
			NewMargin:   dca.After.Margin,
			NewNotional: dca.After.Notional,
			Liq:         dca.After.Liq,
			LiqOK:       dca.After.LiqOK,
			Breakeven:   dca.Breakeven,
			PnL:         dca.After.PnL,
			ROE:         dca.After.ROE,
		})
	}
	if len(res.Strategies) == 0 {
		return SplitResult{}, false
	}

	for i, s := range res.Strategies {
		best := res.Strategies[res.Best].NewAvg
		if (isLong && s.NewAvg < best) || (!isLong && s.NewAvg > best) {
			res.Best = i
		}
	}

	avail := c.Snap.FreeMargin
	if avail < 0 {
		avail = 0
	}
	res.MarginInsufficient = total > avail
	return res, true
}

func weightSeq(n int, f func(int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}
