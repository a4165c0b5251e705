package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"margin_sim/internal/core"
	"margin_sim/pkg/concurrency"
	apperrors "margin_sim/pkg/errors"
	httpclient "margin_sim/pkg/http"
	"margin_sim/pkg/telemetry"
)

// tickerResponse is the venue's ticker payload. Prices arrive as strings.
type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// RESTPollerConfig configures a polling feed.
type RESTPollerConfig struct {
	BaseURL         string
	Coins           []string
	PollInterval    time.Duration
	RateLimitPerSec float64
	PoolSize        int
	PoolBuffer      int
}

// RESTPoller keeps a price table warm by polling the venue's ticker endpoint.
// One task per coin per tick, fanned out on a worker pool behind a shared
// rate limiter.
type RESTPoller struct {
	cfg     RESTPollerConfig
	client  *httpclient.Client
	limiter *rate.Limiter
	pool    *concurrency.WorkerPool
	logger  core.ILogger

	mu     sync.RWMutex
	prices map[string]float64

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRESTPoller(cfg RESTPollerConfig, logger core.ILogger) *RESTPoller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 10
	}
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "rest-poller",
		MaxWorkers:  cfg.PoolSize,
		MaxCapacity: cfg.PoolBuffer,
		NonBlocking: true,
	}, logger)

	return &RESTPoller{
		cfg:     cfg,
		client:  httpclient.NewClient(cfg.BaseURL, 10*time.Second),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), 1),
		pool:    pool,
		logger:  logger.WithField("component", "rest_poller"),
		prices:  make(map[string]float64, len(cfg.Coins)),
		done:    make(chan struct{}),
	}
}

func (p *RESTPoller) GetPrice(coin string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[coin]
	return price, ok
}

func (p *RESTPoller) Snapshot() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.prices))
	for coin, price := range p.prices {
		out[coin] = price
	}
	return out
}

// Start begins polling. The first round runs immediately so callers have
// prices before the first tick.
func (p *RESTPoller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()

		p.pollAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.pollAll(ctx)
			}
		}
	}()
}

// Stop cancels the poll loop and drains in-flight tasks.
func (p *RESTPoller) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	p.pool.Stop()
}

func (p *RESTPoller) pollAll(ctx context.Context) {
	for _, coin := range p.cfg.Coins {
		coin := coin
		err := p.pool.Submit(func() {
			if err := p.pollOne(ctx, coin); err != nil {
				p.countError(ctx, coin)
				p.logger.Warn("Price poll failed", "coin", coin, "error", err)
			}
		})
		if err != nil {
			p.countError(ctx, coin)
			p.logger.Warn("Price poll dropped", "coin", coin, "error", err)
		}
	}
}

func (p *RESTPoller) pollOne(ctx context.Context, coin string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := p.client.Get(ctx, "/ticker/price", map[string]string{"symbol": coin})
	if err != nil {
		return err
	}

	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode ticker: %w", err)
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return fmt.Errorf("failed to parse price %q: %w", resp.Price, err)
	}
	if price <= 0 {
		return fmt.Errorf("%w: non-positive price %v for %s", apperrors.ErrPriceUnavailable, price, coin)
	}

	p.mu.Lock()
	p.prices[coin] = price
	p.mu.Unlock()

	if mh := telemetry.GetGlobalMetrics(); mh.FeedUpdatesTotal != nil {
		mh.FeedUpdatesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("coin", coin)))
	}
	return nil
}

func (p *RESTPoller) countError(ctx context.Context, coin string) {
	if mh := telemetry.GetGlobalMetrics(); mh.FeedErrorsTotal != nil {
		mh.FeedErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("coin", coin)))
	}
}
