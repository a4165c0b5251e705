package scenario

import "github.com/shopspring/decimal"

// DepositConversion is the result of turning a raw deposit amount into a
// fee-net margin. The opening fee is deducted up front and the implied
// quantity is floored to the venue lot step, so a remainder ("change") is
// usually left over; it must be surfaced, not dropped, because it affects the
// displayed totals.
type DepositConversion struct {
	Margin  float64
	Qty     float64
	OpenFee float64
	Change  float64
}

// ConvertDeposit splits raw into margin, opening fee, and change for an entry
// at price with the given leverage. A zero or negative lotStep disables
// quantity rounding. Returns ok=false when the deposit is too small to buy a
// single lot.
func ConvertDeposit(raw, price, leverage, feeRate, lotStep float64) (DepositConversion, bool) {
	if raw <= 0 || price <= 0 || leverage <= 0 {
		return DepositConversion{Change: raw}, false
	}

	// raw = margin + fee·margin·leverage, fee charged on notional.
	margin := raw / (1 + feeRate*leverage)
	qty := margin * leverage / price

	if lotStep > 0 {
		floored := floorToStep(qty, lotStep)
		if floored <= 0 {
			return DepositConversion{Change: raw}, false
		}
		qty = floored
		margin = qty * price / leverage
	}

	openFee := margin * leverage * feeRate
	return DepositConversion{
		Margin:  margin,
		Qty:     qty,
		OpenFee: openFee,
		Change:  raw - margin - openFee,
	}, true
}

func floorToStep(qty, step float64) float64 {
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	return q.Div(s).Floor().Mul(s).InexactFloat64()
}
