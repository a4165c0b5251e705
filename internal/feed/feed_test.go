package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"margin_sim/internal/core"
)

type nopLogger struct{}

func (l *nopLogger) Debug(msg string, kv ...interface{})            {}
func (l *nopLogger) Info(msg string, kv ...interface{})             {}
func (l *nopLogger) Warn(msg string, kv ...interface{})             {}
func (l *nopLogger) Error(msg string, kv ...interface{})            {}
func (l *nopLogger) Fatal(msg string, kv ...interface{})            {}
func (l *nopLogger) WithField(k string, v interface{}) core.ILogger { return l }
func (l *nopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func TestStatic(t *testing.T) {
	s := NewStatic(map[string]float64{"ETH": 2647.35, "BTC": 0})

	price, ok := s.GetPrice("ETH")
	assert.True(t, ok)
	assert.InDelta(t, 2647.35, price, 1e-9)

	// Non-positive seed prices are dropped.
	_, ok = s.GetPrice("BTC")
	assert.False(t, ok)

	s.Set("BTC", 65000)
	price, ok = s.GetPrice("BTC")
	assert.True(t, ok)
	assert.InDelta(t, 65000, price, 1e-9)

	s.Set("BTC", -1)
	price, _ = s.GetPrice("BTC")
	assert.InDelta(t, 65000, price, 1e-9)

	snap := s.Snapshot()
	assert.Len(t, snap, 2)

	// Snapshot is a copy, not a view.
	snap["ETH"] = 1
	price, _ = s.GetPrice("ETH")
	assert.InDelta(t, 2647.35, price, 1e-9)
}

func TestRESTPoller_PollOne(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ticker/price", r.URL.Path)
		symbol := r.URL.Query().Get("symbol")
		fmt.Fprintf(w, `{"symbol":%q,"price":"2647.35"}`, symbol)
	}))
	defer server.Close()

	p := NewRESTPoller(RESTPollerConfig{
		BaseURL: server.URL,
		Coins:   []string{"ETH"},
	}, &nopLogger{})

	require.NoError(t, p.pollOne(context.Background(), "ETH"))

	price, ok := p.GetPrice("ETH")
	assert.True(t, ok)
	assert.InDelta(t, 2647.35, price, 1e-9)
}

func TestRESTPoller_MalformedPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"ETH","price":"not-a-number"}`)
	}))
	defer server.Close()

	p := NewRESTPoller(RESTPollerConfig{
		BaseURL: server.URL,
		Coins:   []string{"ETH"},
	}, &nopLogger{})

	assert.Error(t, p.pollOne(context.Background(), "ETH"))
	_, ok := p.GetPrice("ETH")
	assert.False(t, ok)
}

func TestRESTPoller_StartPollsAllCoins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		price := map[string]string{"ETH": "2647.35", "BTC": "65000"}[symbol]
		fmt.Fprintf(w, `{"symbol":%q,"price":%q}`, symbol, price)
	}))
	defer server.Close()

	p := NewRESTPoller(RESTPollerConfig{
		BaseURL:      server.URL,
		Coins:        []string{"ETH", "BTC"},
		PollInterval: time.Hour, // only the immediate first round
	}, &nopLogger{})

	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool {
		_, okETH := p.GetPrice("ETH")
		_, okBTC := p.GetPrice("BTC")
		return okETH && okBTC
	}, 5*time.Second, 10*time.Millisecond)

	price, _ := p.GetPrice("BTC")
	assert.InDelta(t, 65000, price, 1e-9)
}

func TestStream_HandleMessage(t *testing.T) {
	s := NewStream("ws://localhost/feed", []string{"ETH"}, &nopLogger{})

	s.handleMessage([]byte(`{"s":"ETH","p":"2647.35"}`))
	price, ok := s.GetPrice("ETH")
	assert.True(t, ok)
	assert.InDelta(t, 2647.35, price, 1e-9)

	// Acks without a symbol are ignored.
	s.handleMessage([]byte(`{"result":null,"id":1}`))
	assert.Len(t, s.Snapshot(), 1)

	// Malformed prices never overwrite the table.
	s.handleMessage([]byte(`{"s":"ETH","p":"garbage"}`))
	s.handleMessage([]byte(`{"s":"ETH","p":"-5"}`))
	price, _ = s.GetPrice("ETH")
	assert.InDelta(t, 2647.35, price, 1e-9)
}
