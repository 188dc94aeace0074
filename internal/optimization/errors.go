package optimization

import (
	"errors"
	"fmt"
)

// MinUniverseSize is the smallest candidate universe any strategy accepts.
// Covariance structure over fewer than 3 assets is degenerate for every
// allocation method offered here.
const MinUniverseSize = 3

// ErrInsufficientHistory indicates that a history-driven strategy could not
// assemble enough return observations for the universe, including the case
// where retrieval timed out.
var ErrInsufficientHistory = errors.New("insufficient historical data")

// InsufficientUniverseError reports a candidate universe below the minimum
// size, after intersecting the requested tickers with the snapshot and the
// availability filter.
type InsufficientUniverseError struct {
	Available []string
	Required  int
}

func (e *InsufficientUniverseError) Error() string {
	return fmt.Sprintf("universe has %d available assets, need at least %d", len(e.Available), e.Required)
}

// BoundViolationError reports a final weight outside its configured bounds
// beyond numerical tolerance.
type BoundViolationError struct {
	Ticker string
	Weight float64
	Min    float64
	Max    float64
}

func (e *BoundViolationError) Error() string {
	return fmt.Sprintf("weight for %s is %.6f, outside bounds [%.4f, %.4f]", e.Ticker, e.Weight, e.Min, e.Max)
}

// SumViolationError reports final weights that do not sum to 1 beyond
// numerical tolerance.
type SumViolationError struct {
	Sum float64
}

func (e *SumViolationError) Error() string {
	return fmt.Sprintf("weights sum to %.6f, expected 1", e.Sum)
}
