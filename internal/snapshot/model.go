// Package snapshot implements the versioned market-snapshot store: an
// immutable capture of per-asset expected returns and their covariance,
// persisted through a fast cache backend and a durable file/object backend.
package snapshot

import (
	"fmt"
	"time"
)

// DefaultHorizonDays is assumed for records written before the horizon field
// existed; older snapshots carried it (if at all) inside Properties.
const DefaultHorizonDays = 30

// Meta holds snapshot metadata. The id is assigned exactly once, at first
// persistence, and never mutated afterwards.
type Meta struct {
	ID          string                 `json:"snapshot_id"`
	Timestamp   time.Time              `json:"timestamp"`
	Tickers     []string               `json:"tickers"`
	HorizonDays int                    `json:"horizon_days"`
	Description string                 `json:"description,omitempty"`
	Source      string                 `json:"source,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
}

// MarketSnapshot is an immutable, timestamped capture of per-asset expected
// returns (mu) and their covariance (sigma), optionally with sentiment,
// market caps and prices.
type MarketSnapshot struct {
	Meta       Meta                          `json:"meta"`
	Mu         map[string]float64            `json:"mu"`
	Sigma      map[string]map[string]float64 `json:"sigma"`
	Sentiment  map[string]float64            `json:"sentiment,omitempty"`
	MarketCaps map[string]float64            `json:"market_caps,omitempty"`
	Prices     map[string]float64            `json:"prices,omitempty"`
}

// Clone returns a deep copy. Scenario derivation forks snapshots and must
// never hold a mutable alias into the base's maps.
func (s *MarketSnapshot) Clone() *MarketSnapshot {
	out := &MarketSnapshot{
		Meta:       s.Meta,
		Mu:         copyFloatMap(s.Mu),
		Sentiment:  copyFloatMap(s.Sentiment),
		MarketCaps: copyFloatMap(s.MarketCaps),
		Prices:     copyFloatMap(s.Prices),
	}

	out.Meta.Tickers = append([]string(nil), s.Meta.Tickers...)
	if s.Meta.Properties != nil {
		props := make(map[string]interface{}, len(s.Meta.Properties))
		for k, v := range s.Meta.Properties {
			props[k] = v
		}
		out.Meta.Properties = props
	}

	if s.Sigma != nil {
		sigma := make(map[string]map[string]float64, len(s.Sigma))
		for row, cols := range s.Sigma {
			sigma[row] = copyFloatMap(cols)
		}
		out.Sigma = sigma
	}

	return out
}

// Validate checks structural invariants: sigma symmetric where both entries
// are present, and sigma's key set covering mu's.
func (s *MarketSnapshot) Validate() error {
	if len(s.Mu) == 0 {
		return fmt.Errorf("snapshot has no expected returns")
	}
	for ticker := range s.Mu {
		row, ok := s.Sigma[ticker]
		if !ok {
			return fmt.Errorf("sigma is missing row for ticker %s", ticker)
		}
		for other, v := range row {
			mirror, ok := s.Sigma[other]
			if !ok {
				continue
			}
			if back, ok := mirror[ticker]; ok && back != v {
				return fmt.Errorf("sigma asymmetric for pair (%s, %s): %v != %v", ticker, other, v, back)
			}
		}
	}
	return nil
}

func copyFloatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
