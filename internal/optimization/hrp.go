package optimization

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ThePloy1990/portfolio-assistant/pkg/formulas"
)

// HRPStrategy allocates by Hierarchical Risk Parity over historical return
// correlations. Unlike the frontier strategies it ignores the snapshot's
// mu/sigma during the solve; they are only used afterwards, by the engine,
// for reporting portfolio metrics.
type HRPStrategy struct {
	log zerolog.Logger
}

// NewHRPStrategy creates the strategy.
func NewHRPStrategy(log zerolog.Logger) *HRPStrategy {
	return &HRPStrategy{log: log.With().Str("strategy", "hrp").Logger()}
}

func (s *HRPStrategy) Name() string       { return "hrp" }
func (s *HRPStrategy) NeedsHistory() bool { return true }

func (s *HRPStrategy) Solve(ctx context.Context, input *Input) (*Solution, error) {
	series, err := alignReturnSeries(input.Tickers, input.Returns)
	if err != nil {
		return nil, err
	}

	cov, err := formulas.SampleCovarianceMatrix(series)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientHistory, err)
	}

	raw, err := formulas.HRPWeights(cov)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientHistory, err)
	}

	weights, fallback := CleanWeights(zipWeights(input.Tickers, raw), input.Params.MinWeight)
	var warnings []string
	if fallback {
		warnings = append(warnings, "all raw weights fell below the minimum, retained top assets by raw weight")
		s.log.Debug().Float64("min_weight", input.Params.MinWeight).Msg("Min-weight thresholding dropped all assets, using top-N fallback")
	}

	return &Solution{Weights: weights, Fallback: fallback, Warnings: warnings}, nil
}

// alignReturnSeries truncates every ticker's return series to the shortest
// common length, keeping the most recent observations, and returns them
// index-aligned with tickers.
func alignReturnSeries(tickers []string, returns map[string][]float64) ([][]float64, error) {
	shortest := -1
	for _, ticker := range tickers {
		r, ok := returns[ticker]
		if !ok || len(r) < 2 {
			return nil, fmt.Errorf("%w: no usable return series for %s", ErrInsufficientHistory, ticker)
		}
		if shortest < 0 || len(r) < shortest {
			shortest = len(r)
		}
	}

	series := make([][]float64, len(tickers))
	for i, ticker := range tickers {
		r := returns[ticker]
		series[i] = r[len(r)-shortest:]
	}
	return series, nil
}
