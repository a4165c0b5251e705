// Package hedgecycle implements the three-state controller for a symmetric
// long+short pair: take-profit rolls on the winning leg, margin cuts on the
// losing leg, and a recovery top-up once the loser's ROE climbs back. The
// controller only recommends; applying a recommendation is a separate,
// explicit step so callers can present before they mutate.
package hedgecycle

import (
	"margin_sim/internal/account"
	"margin_sim/internal/core"
)

// State of the pair, classified from the two legs' margins and ROE.
type State int

const (
	// Balanced means both legs' margins are within the configured tolerance
	// of each other.
	Balanced State = iota
	// Imbalanced means one leg's margin exceeds the other's beyond tolerance;
	// the larger leg is the winner.
	Imbalanced
	// Recovery is an imbalanced pair whose loser ROE has climbed back to the
	// configured recovery threshold.
	Recovery
)

func (s State) String() string {
	switch s {
	case Balanced:
		return "balanced"
	case Imbalanced:
		return "imbalanced"
	case Recovery:
		return "recovery"
	default:
		return "unknown"
	}
}

// Action recommended by an evaluation.
type Action int

const (
	ActionNone Action = iota
	// ActionRollWinner closes the winner fully, reopens it at the current
	// price with the base margin, and cuts the loser by the cut ratio.
	ActionRollWinner
	// ActionTopUpLoser restores the loser's margin to the base amount with a
	// blended entry price.
	ActionTopUpLoser
	// ActionLiquidateAll is the terminal kill-switch recommendation.
	ActionLiquidateAll
)

func (a Action) String() string {
	switch a {
	case ActionRollWinner:
		return "roll-winner"
	case ActionTopUpLoser:
		return "top-up-loser"
	case ActionLiquidateAll:
		return "liquidate-all"
	default:
		return "none"
	}
}

// Evaluation is one classification of the pair plus the recommended action.
type Evaluation struct {
	State State

	WinnerID  string
	LoserID   string
	WinnerROE float64
	LoserROE  float64

	Action    Action
	NextState State

	// RollWinner payload.
	ReopenMargin float64
	CutAmount    float64

	// TopUpLoser payload.
	TopUpAmount  float64
	BlendedEntry float64

	// Kill switch. Breach is an alert, never an automatic transition.
	KillThreshold   float64
	ProjectedEquity float64
	KillBreached    bool
}

// Controller evaluates and applies hedge-cycle recommendations.
type Controller struct {
	Params  core.HedgeCycleParams
	FeeRate float64
}

// Evaluate classifies the pair and recommends the next action. Both legs must
// be active, priced, opposite-direction positions on one coin.
func (c *Controller) Evaluate(a, b account.Derived, wallet float64) (Evaluation, bool) {
	if a.Coin != b.Coin || a.Sign == b.Sign || !a.HasPrice || !b.HasPrice {
		return Evaluation{}, false
	}

	winner, loser := a, b
	if loser.Margin > winner.Margin {
		winner, loser = loser, winner
	}

	ev := Evaluation{
		WinnerID:  winner.ID,
		LoserID:   loser.ID,
		WinnerROE: winner.ROE,
		LoserROE:  loser.ROE,
		NextState: Balanced,
	}

	ev.KillThreshold = wallet * (1 - c.Params.KillPct)
	ev.ProjectedEquity = wallet + a.PnL + b.PnL
	ev.KillBreached = c.Params.KillPct > 0 && ev.ProjectedEquity < ev.KillThreshold

	if balancedMargins(a.Margin, b.Margin, c.Params.BalanceTolerance) {
		ev.State = Balanced
		// In a balanced pair the winner is whichever leg hits take-profit.
		if a.ROE >= c.Params.TakeProfitROE || b.ROE >= c.Params.TakeProfitROE {
			winner, loser = a, b
			if b.ROE > a.ROE {
				winner, loser = b, a
			}
			ev.WinnerID, ev.LoserID = winner.ID, loser.ID
			ev.WinnerROE, ev.LoserROE = winner.ROE, loser.ROE
			c.recommendRoll(&ev, loser)
		}
		return c.finish(ev), true
	}

	ev.State = Imbalanced
	ev.NextState = Imbalanced
	switch {
	case loser.ROE >= c.Params.RecoveryROE:
		ev.State = Recovery
		ev.Action = ActionTopUpLoser
		ev.NextState = Balanced
		ev.TopUpAmount = c.Params.BaseMargin - loser.Margin
		if ev.TopUpAmount < 0 {
			ev.TopUpAmount = 0
		}
		addQty := ev.TopUpAmount * loser.Leverage / loser.Price
		if loser.Qty+addQty > 0 {
			ev.BlendedEntry = (loser.EntryPrice*loser.Qty + loser.Price*addQty) / (loser.Qty + addQty)
		}
	case winner.ROE >= c.Params.TakeProfitROE:
		c.recommendRoll(&ev, loser)
		ev.NextState = Imbalanced
	}
	return c.finish(ev), true
}

func (c *Controller) recommendRoll(ev *Evaluation, loser account.Derived) {
	ev.Action = ActionRollWinner
	ev.NextState = Imbalanced
	ev.ReopenMargin = c.Params.BaseMargin
	ev.CutAmount = loser.Margin * c.Params.CutRatio
}

// finish applies the kill-switch override. A breach preempts whatever the
// classification recommended: the only recommendation is full liquidation,
// with no trade payload, and the cycle does not advance on its own.
func (c *Controller) finish(ev Evaluation) Evaluation {
	if !ev.KillBreached {
		return ev
	}
	ev.Action = ActionLiquidateAll
	ev.NextState = ev.State
	ev.ReopenMargin = 0
	ev.CutAmount = 0
	ev.TopUpAmount = 0
	ev.BlendedEntry = 0
	return ev
}

// RollWinner closes the winner at its current price, realizes PnL and the
// close fee into the wallet, and reopens the same direction at the current
// price with the base margin. The reopen entry fee is charged to the wallet.
func (c *Controller) RollWinner(winner account.Derived, wallet float64) (account.Derived, float64) {
	realized := winner.PnL
	closeFee := winner.Qty * winner.Price * c.FeeRate
	wallet += realized - closeFee

	reopened := winner
	reopened.EntryPrice = winner.Price
	reopened.Margin = c.Params.BaseMargin
	reopened.Notional = c.Params.BaseMargin * winner.Leverage
	reopened.Qty = reopened.Notional / winner.Price
	reopened.PnL = 0
	reopened.ROE = 0
	wallet -= reopened.Notional * c.FeeRate
	return reopened, wallet
}

// CutLoser partially closes the loser so its margin drops by the cut ratio,
// realizing the proportional PnL and close fee into the wallet.
func (c *Controller) CutLoser(loser account.Derived, wallet float64) (account.Derived, float64) {
	r := c.Params.CutRatio
	if r <= 0 || r >= 1 {
		return loser, wallet
	}
	closedQty := loser.Qty * r
	realized := loser.Sign * (loser.Price - loser.EntryPrice) * closedQty
	closeFee := closedQty * loser.Price * c.FeeRate
	wallet += realized - closeFee

	cut := loser
	cut.Qty = loser.Qty - closedQty
	cut.Notional = loser.Notional * (1 - r)
	cut.Margin = loser.Margin * (1 - r)
	cut.PnL = loser.PnL - realized
	if cut.Margin > 0 {
		cut.ROE = cut.PnL / cut.Margin * 100
	}
	return cut, wallet
}

// TopUpLoser restores the loser's margin to the base amount by adding at the
// current price; the entry price becomes the quantity-weighted blend. The
// entry fee on the added notional is charged to the wallet.
func (c *Controller) TopUpLoser(loser account.Derived, wallet float64) (account.Derived, float64) {
	add := c.Params.BaseMargin - loser.Margin
	if add <= 0 {
		return loser, wallet
	}
	addNotional := add * loser.Leverage
	addQty := addNotional / loser.Price
	wallet -= addNotional * c.FeeRate

	topped := loser
	topped.EntryPrice = (loser.EntryPrice*loser.Qty + loser.Price*addQty) / (loser.Qty + addQty)
	topped.Qty = loser.Qty + addQty
	topped.Notional = loser.Notional + addNotional
	topped.Margin = c.Params.BaseMargin
	topped.PnL = topped.Sign * (topped.Price - topped.EntryPrice) * topped.Qty
	topped.ROE = topped.PnL / topped.Margin * 100
	return topped, wallet
}

// Step evaluates the pair and applies the recommended action, returning the
// updated legs and wallet. The kill switch never mutates the pair.
func (c *Controller) Step(a, b account.Derived, wallet float64) (account.Derived, account.Derived, float64, Evaluation, bool) {
	ev, ok := c.Evaluate(a, b, wallet)
	if !ok {
		return a, b, wallet, ev, false
	}
	switch ev.Action {
	case ActionRollWinner:
		winner, loser := orient(a, b, ev.WinnerID)
		winner, wallet = c.RollWinner(winner, wallet)
		loser, wallet = c.CutLoser(loser, wallet)
		a, b = restore(a, winner, loser)
		return a, b, wallet, ev, true
	case ActionTopUpLoser:
		winner, loser := orient(a, b, ev.WinnerID)
		loser, wallet = c.TopUpLoser(loser, wallet)
		a, b = restore(a, winner, loser)
		return a, b, wallet, ev, true
	default:
		return a, b, wallet, ev, true
	}
}

func balancedMargins(m1, m2, tolerance float64) bool {
	hi := m1
	if m2 > hi {
		hi = m2
	}
	if hi <= 0 {
		return true
	}
	diff := m1 - m2
	if diff < 0 {
		diff = -diff
	}
	return diff/hi <= tolerance
}

func orient(a, b account.Derived, winnerID string) (winner, loser account.Derived) {
	if a.ID == winnerID {
		return a, b
	}
	return b, a
}

func restore(origA, winner, loser account.Derived) (account.Derived, account.Derived) {
	if origA.ID == winner.ID {
		return winner, loser
	}
	return loser, winner
}
