// Package core defines the shared types and interfaces for the simulator
package core

// Direction is the side of a perpetual position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Position is a raw trader-entered position. A position is active only when
// EntryPrice > 0 and Margin > 0; inactive positions are excluded from every
// aggregate without error.
type Position struct {
	ID         string    `json:"id"`
	Direction  Direction `json:"direction"`
	Coin       string    `json:"coin"`
	EntryPrice float64   `json:"entry_price"`
	Margin     float64   `json:"margin"`
	Leverage   float64   `json:"leverage"`
}

// Active reports whether the position participates in aggregates.
func (p Position) Active() bool {
	return p.EntryPrice > 0 && p.Margin > 0
}

// Notional is the position size in quote currency, fixed at entry time.
func (p Position) Notional() float64 {
	return p.Margin * p.Leverage
}

// Quantity is the base-asset quantity implied by notional and entry price.
func (p Position) Quantity() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.Notional() / p.EntryPrice
}

// HedgeCycleParams configures the 3-state hedge cycle controller.
type HedgeCycleParams struct {
	TakeProfitROE    float64 `json:"take_profit_roe"`
	RecoveryROE      float64 `json:"recovery_roe"`
	CutRatio         float64 `json:"cut_ratio"`
	BaseMargin       float64 `json:"base_margin"`
	KillPct          float64 `json:"kill_pct"`
	BalanceTolerance float64 `json:"balance_tolerance"`
}

// ProfileState is the full persisted input state for one profile. The engine
// is a pure function of this plus a price snapshot.
type ProfileState struct {
	WalletBalance float64            `json:"wallet_balance"`
	FeeRate       float64            `json:"fee_rate"`
	ReferenceCoin string             `json:"reference_coin"`
	ObservedLiq   map[string]float64 `json:"observed_liq,omitempty"`
	Positions     []Position         `json:"positions"`
	HedgeCycle    HedgeCycleParams   `json:"hedge_cycle"`
}
