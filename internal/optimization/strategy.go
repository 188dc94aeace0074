// Package optimization implements the portfolio allocation strategies and
// the engine that resolves snapshots, filters the candidate universe and
// post-processes strategy output into validated weight vectors.
package optimization

import (
	"context"
)

// Default parameter values applied when the caller leaves a field zero.
const (
	DefaultRiskFreeRate = 0.005
	DefaultRiskAversion = 2.5
	DefaultTau          = 0.05
	DefaultMaxWeight    = 1.0
	DefaultLookbackDays = 252
)

// Params carries the tunables shared across strategies. Zero values mean
// "use the default"; MinWeight genuinely defaults to zero.
type Params struct {
	MinWeight    float64
	MaxWeight    float64
	RiskFreeRate float64
	TargetReturn *float64 // only meaningful for the target-return strategy
	RiskAversion float64
	Tau          float64
	LookbackDays int
}

// withDefaults returns a copy with zero fields replaced by defaults.
func (p Params) withDefaults() Params {
	if p.MaxWeight == 0 {
		p.MaxWeight = DefaultMaxWeight
	}
	if p.RiskFreeRate == 0 {
		p.RiskFreeRate = DefaultRiskFreeRate
	}
	if p.RiskAversion == 0 {
		p.RiskAversion = DefaultRiskAversion
	}
	if p.Tau == 0 {
		p.Tau = DefaultTau
	}
	if p.LookbackDays == 0 {
		p.LookbackDays = DefaultLookbackDays
	}
	return p
}

// Input is the per-solve view of the market a strategy works from. Tickers,
// Mu and Sigma are index-aligned; Sigma has already been repaired to
// positive semi-definite. Returns is populated only for strategies that
// declare NeedsHistory.
type Input struct {
	Tickers    []string
	Mu         []float64
	Sigma      [][]float64
	MarketCaps map[string]float64
	Returns    map[string][]float64
	Params     Params
}

// Solution is a strategy's raw output before engine-level validation.
// Fallback marks results produced by a documented recovery path rather than
// the primary formulation.
type Solution struct {
	Weights  map[string]float64
	Fallback bool
	Warnings []string
}

// Strategy is a single allocation method. NeedsHistory tells the engine
// whether to fetch historical return series before calling Solve; strategies
// that work purely from mu/sigma skip that cost.
type Strategy interface {
	Name() string
	NeedsHistory() bool
	Solve(ctx context.Context, input *Input) (*Solution, error)
}
