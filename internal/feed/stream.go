package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"margin_sim/internal/core"
	"margin_sim/pkg/telemetry"
	wsclient "margin_sim/pkg/websocket"
)

// tickMessage is one streamed price update. Symbols arrive upper-case, prices
// as strings.
type tickMessage struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
}

// Stream maintains a price table from a websocket tick feed, subscribing to
// the configured coins on every (re)connect.
type Stream struct {
	coins  []string
	logger core.ILogger
	ws     *wsclient.Client

	mu     sync.RWMutex
	prices map[string]float64
}

func NewStream(url string, coins []string, logger core.ILogger) *Stream {
	s := &Stream{
		coins:  coins,
		logger: logger.WithField("component", "ws_feed"),
		prices: make(map[string]float64, len(coins)),
	}
	s.ws = wsclient.NewClient(url, s.handleMessage, s.logger)
	s.ws.SetOnConnected(s.subscribe)
	return s
}

func (s *Stream) GetPrice(coin string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[coin]
	return price, ok
}

func (s *Stream) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.prices))
	for coin, price := range s.prices {
		out[coin] = price
	}
	return out
}

func (s *Stream) Start() {
	s.ws.Start()
}

func (s *Stream) Stop() {
	s.ws.Stop()
}

func (s *Stream) subscribe() {
	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": s.coins,
	}
	if err := s.ws.Send(msg); err != nil {
		s.logger.Error("Failed to subscribe", "error", err)
	}
}

func (s *Stream) handleMessage(message []byte) {
	var tick tickMessage
	if err := json.Unmarshal(message, &tick); err != nil {
		s.countError(tick.Symbol)
		s.logger.Warn("Failed to decode tick", "error", err)
		return
	}
	if tick.Symbol == "" || tick.Price == "" {
		// Subscription acks and heartbeats have no symbol.
		return
	}

	price, err := strconv.ParseFloat(tick.Price, 64)
	if err != nil || price <= 0 {
		s.countError(tick.Symbol)
		s.logger.Warn("Dropped malformed tick", "symbol", tick.Symbol, "price", tick.Price)
		return
	}

	s.mu.Lock()
	s.prices[tick.Symbol] = price
	s.mu.Unlock()

	if mh := telemetry.GetGlobalMetrics(); mh.FeedUpdatesTotal != nil {
		mh.FeedUpdatesTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("coin", tick.Symbol)))
	}
}

func (s *Stream) countError(coin string) {
	if mh := telemetry.GetGlobalMetrics(); mh.FeedErrorsTotal != nil {
		mh.FeedErrorsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("coin", coin)))
	}
}
