package core

import "context"

// IPriceFeed supplies the latest known price per coin. The engine never
// fetches; absence of a price disables PnL and liquidation math for that coin.
type IPriceFeed interface {
	GetPrice(coin string) (float64, bool)
	Snapshot() map[string]float64
}

// IProfileStore persists the full input state keyed by profile id. Load
// returns (nil, nil) when no prior state exists so defaults can apply.
type IProfileStore interface {
	SaveProfile(ctx context.Context, id string, state *ProfileState) error
	LoadProfile(ctx context.Context, id string) (*ProfileState, error)
	Close() error
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
