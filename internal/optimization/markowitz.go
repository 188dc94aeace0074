package optimization

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// MaxSharpeStrategy allocates along the mean-variance frontier at the point
// with the highest Sharpe ratio.
type MaxSharpeStrategy struct {
	log zerolog.Logger
}

// NewMaxSharpeStrategy creates the strategy.
func NewMaxSharpeStrategy(log zerolog.Logger) *MaxSharpeStrategy {
	return &MaxSharpeStrategy{log: log.With().Str("strategy", "max_sharpe").Logger()}
}

func (s *MaxSharpeStrategy) Name() string       { return "max_sharpe" }
func (s *MaxSharpeStrategy) NeedsHistory() bool { return false }

// Solve runs the max-Sharpe frontier solve and applies min-weight
// thresholding to the result.
func (s *MaxSharpeStrategy) Solve(ctx context.Context, input *Input) (*Solution, error) {
	p := input.Params
	bounds := uniformBounds(len(input.Tickers), p.MinWeight, p.MaxWeight)

	raw, err := solveMaxSharpe(input.Mu, denseSigma(input.Sigma), bounds, p.RiskFreeRate)
	if err != nil {
		return nil, err
	}

	weights, fallback := CleanWeights(zipWeights(input.Tickers, raw), p.MinWeight)
	return &Solution{Weights: weights, Fallback: fallback}, nil
}

// TargetReturnStrategy finds the minimum-risk allocation achieving a target
// expected return. Targets outside the achievable range are clamped to the
// nearest bound with a warning; on solver failure the strategy falls back to
// the max-Sharpe allocation and flags the result.
type TargetReturnStrategy struct {
	log zerolog.Logger
}

// NewTargetReturnStrategy creates the strategy.
func NewTargetReturnStrategy(log zerolog.Logger) *TargetReturnStrategy {
	return &TargetReturnStrategy{log: log.With().Str("strategy", "target_return").Logger()}
}

func (s *TargetReturnStrategy) Name() string       { return "target_return" }
func (s *TargetReturnStrategy) NeedsHistory() bool { return false }

func (s *TargetReturnStrategy) Solve(ctx context.Context, input *Input) (*Solution, error) {
	p := input.Params
	if p.TargetReturn == nil {
		return nil, fmt.Errorf("target return is required for the target_return strategy")
	}

	var warnings []string
	target := *p.TargetReturn

	// The achievable expected return of a long-only, fully invested
	// portfolio is bracketed by the extreme single-asset returns.
	lo, hi := input.Mu[0], input.Mu[0]
	for _, m := range input.Mu[1:] {
		if m < lo {
			lo = m
		}
		if m > hi {
			hi = m
		}
	}
	if target < lo || target > hi {
		clamped := target
		if clamped < lo {
			clamped = lo
		}
		if clamped > hi {
			clamped = hi
		}
		warnings = append(warnings, fmt.Sprintf(
			"target return %.4f outside achievable range [%.4f, %.4f], clamped to %.4f",
			target, lo, hi, clamped))
		s.log.Warn().
			Float64("requested", target).
			Float64("clamped", clamped).
			Msg("Target return outside achievable range")
		target = clamped
	}

	bounds := uniformBounds(len(input.Tickers), p.MinWeight, p.MaxWeight)
	sigma := denseSigma(input.Sigma)

	raw, err := solveTargetReturn(input.Mu, sigma, bounds, target, p.RiskAversion)
	if err != nil {
		s.log.Warn().Err(err).Msg("Target-return solve failed, falling back to max-Sharpe")
		warnings = append(warnings, "target-return solve did not converge, fell back to max-Sharpe allocation")

		raw, err = solveMaxSharpe(input.Mu, sigma, bounds, p.RiskFreeRate)
		if err != nil {
			return nil, err
		}
		weights, _ := CleanWeights(zipWeights(input.Tickers, raw), p.MinWeight)
		return &Solution{Weights: weights, Fallback: true, Warnings: warnings}, nil
	}

	weights, fallback := CleanWeights(zipWeights(input.Tickers, raw), p.MinWeight)
	return &Solution{Weights: weights, Fallback: fallback, Warnings: warnings}, nil
}

// zipWeights pairs index-aligned weights with their tickers.
func zipWeights(tickers []string, weights []float64) map[string]float64 {
	out := make(map[string]float64, len(tickers))
	for i, ticker := range tickers {
		out[ticker] = weights[i]
	}
	return out
}
