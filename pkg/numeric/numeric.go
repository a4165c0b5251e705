// Package numeric centralizes the floating-point tolerances shared by the
// solvers so near-zero behavior is identical across engines.
package numeric

import "math"

// Eps is the threshold below which a solver denominator is treated as zero.
const Eps = 1e-12

// ReverseEps is the looser tolerance used by the reverse-DCA denominator.
const ReverseEps = 1e-10

// NearZero reports whether v is indistinguishable from zero for solver purposes.
func NearZero(v float64) bool {
	return math.Abs(v) < Eps
}

// NearZeroTol reports whether v is within tol of zero.
func NearZeroTol(v, tol float64) bool {
	return math.Abs(v) < tol
}

// Pct returns a/b expressed in percent, or 0 when b is zero.
func Pct(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b * 100
}

// ChangePct returns the percent move from base to p, or 0 when base is zero.
func ChangePct(p, base float64) float64 {
	if base == 0 {
		return 0
	}
	return (p - base) / base * 100
}
