package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricEquity            = "margin_sim_equity"
	MetricFreeMargin        = "margin_sim_free_margin"
	MetricUnrealizedPnL     = "margin_sim_pnl_unrealized"
	MetricUsedMargin        = "margin_sim_used_margin"
	MetricInferredMMR       = "margin_sim_inferred_mmr"
	MetricLiqDistancePct    = "margin_sim_liq_distance_pct"
	MetricComputesTotal     = "margin_sim_computes_total"
	MetricComputeDuration   = "margin_sim_compute_duration_ms"
	MetricKillSwitchState   = "margin_sim_kill_switch_breached"
	MetricFeedUpdatesTotal  = "margin_sim_feed_updates_total"
	MetricFeedErrorsTotal   = "margin_sim_feed_errors_total"
	MetricProfileSavesTotal = "margin_sim_profile_saves_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	ComputesTotal     metric.Int64Counter
	ComputeDuration   metric.Float64Histogram
	FeedUpdatesTotal  metric.Int64Counter
	FeedErrorsTotal   metric.Int64Counter
	ProfileSavesTotal metric.Int64Counter

	Equity         metric.Float64ObservableGauge
	FreeMargin     metric.Float64ObservableGauge
	UnrealizedPnL  metric.Float64ObservableGauge
	UsedMargin     metric.Float64ObservableGauge
	InferredMMR    metric.Float64ObservableGauge
	LiqDistancePct metric.Float64ObservableGauge
	KillSwitch     metric.Int64ObservableGauge

	// State for observable gauges
	mu             sync.RWMutex
	equity         float64
	freeMargin     float64
	unrealizedPnL  float64
	usedMargin     float64
	mmrMap         map[string]float64
	liqDistMap     map[string]float64
	killSwitchOpen int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			mmrMap:     make(map[string]float64),
			liqDistMap: make(map[string]float64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.ComputesTotal, err = meter.Int64Counter(MetricComputesTotal, metric.WithDescription("Total engine recomputations"))
	if err != nil {
		return err
	}

	m.ComputeDuration, err = meter.Float64Histogram(MetricComputeDuration, metric.WithDescription("Engine compute duration"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.FeedUpdatesTotal, err = meter.Int64Counter(MetricFeedUpdatesTotal, metric.WithDescription("Total price feed updates consumed"))
	if err != nil {
		return err
	}

	m.FeedErrorsTotal, err = meter.Int64Counter(MetricFeedErrorsTotal, metric.WithDescription("Total price feed fetch failures"))
	if err != nil {
		return err
	}

	m.ProfileSavesTotal, err = meter.Int64Counter(MetricProfileSavesTotal, metric.WithDescription("Total profile saves"))
	if err != nil {
		return err
	}

	// Observables
	m.Equity, err = meter.Float64ObservableGauge(MetricEquity, metric.WithDescription("Account equity (wallet + unrealized PnL)"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.equity)
			return nil
		}))
	if err != nil {
		return err
	}

	m.FreeMargin, err = meter.Float64ObservableGauge(MetricFreeMargin, metric.WithDescription("Free margin under the venue clipping policy"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.freeMargin)
			return nil
		}))
	if err != nil {
		return err
	}

	m.UnrealizedPnL, err = meter.Float64ObservableGauge(MetricUnrealizedPnL, metric.WithDescription("Total unrealized PnL across active positions"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.unrealizedPnL)
			return nil
		}))
	if err != nil {
		return err
	}

	m.UsedMargin, err = meter.Float64ObservableGauge(MetricUsedMargin, metric.WithDescription("Sum of position margins"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.usedMargin)
			return nil
		}))
	if err != nil {
		return err
	}

	m.InferredMMR, err = meter.Float64ObservableGauge(MetricInferredMMR, metric.WithDescription("Maintenance margin rate inferred from the observed liquidation price"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for coin, val := range m.mmrMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("coin", coin)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.LiqDistancePct, err = meter.Float64ObservableGauge(MetricLiqDistancePct, metric.WithDescription("Distance from current price to liquidation, percent"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for coin, val := range m.liqDistMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("coin", coin)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.KillSwitch, err = meter.Int64ObservableGauge(MetricKillSwitchState, metric.WithDescription("Kill-switch breach state (1=breached, 0=normal)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.killSwitchOpen)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetAccountTotals(equity, freeMargin, unrealizedPnL, usedMargin float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = equity
	m.freeMargin = freeMargin
	m.unrealizedPnL = unrealizedPnL
	m.usedMargin = usedMargin
}

func (m *MetricsHolder) SetInferredMMR(coin string, rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mmrMap[coin] = rate
}

func (m *MetricsHolder) SetLiqDistancePct(coin string, pct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liqDistMap[coin] = pct
}

func (m *MetricsHolder) SetKillSwitchBreached(breached bool) {
	val := int64(0)
	if breached {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitchOpen = val
}

func (m *MetricsHolder) GetInferredMMR() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.mmrMap {
		res[k] = v
	}
	return res
}
