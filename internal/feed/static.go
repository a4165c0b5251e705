// Package feed supplies the latest known price per coin. The engine only
// consumes snapshots; every implementation here is a passive cache that some
// transport keeps warm.
package feed

import "sync"

// Static is a fixed price table, settable at runtime. It backs one-shot runs
// and tests.
type Static struct {
	mu     sync.RWMutex
	prices map[string]float64
}

func NewStatic(prices map[string]float64) *Static {
	s := &Static{prices: make(map[string]float64, len(prices))}
	for coin, p := range prices {
		if p > 0 {
			s.prices[coin] = p
		}
	}
	return s
}

func (s *Static) GetPrice(coin string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[coin]
	return p, ok
}

func (s *Static) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.prices))
	for coin, p := range s.prices {
		out[coin] = p
	}
	return out
}

// Set updates one price. Non-positive values are ignored.
func (s *Static) Set(coin string, price float64) {
	if price <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[coin] = price
}
