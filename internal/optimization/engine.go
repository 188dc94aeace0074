package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ThePloy1990/portfolio-assistant/internal/history"
	"github.com/ThePloy1990/portfolio-assistant/internal/snapshot"
	"github.com/ThePloy1990/portfolio-assistant/pkg/formulas"
)

// SnapshotResolver is the registry surface the engine needs.
type SnapshotResolver interface {
	Load(ctx context.Context, id string) (*snapshot.MarketSnapshot, error)
	Latest(ctx context.Context, before *time.Time) (*snapshot.MarketSnapshot, error)
}

// AvailabilityFilter reports whether an asset is currently tradable.
// A nil filter means everything is available.
type AvailabilityFilter func(ticker string) bool

// Request describes one optimization call. An empty SnapshotID resolves to
// the latest snapshot; empty Tickers means the snapshot's full universe.
type Request struct {
	SnapshotID string
	Tickers    []string
	Strategy   string
	Params     Params
}

// Result is a validated allocation with metrics computed from the resolved
// snapshot's mu/sigma, so reported numbers stay consistent with the snapshot
// used elsewhere.
type Result struct {
	SnapshotID     string
	Strategy       string
	Weights        map[string]float64
	ExpectedReturn float64
	Risk           float64
	Sharpe         float64
	Fallback       bool
	Warnings       []string
}

// Engine resolves snapshots, filters the candidate universe, dispatches to a
// strategy and validates the outcome.
type Engine struct {
	registry       SnapshotResolver
	history        history.Provider
	isAvailable    AvailabilityFilter
	historyTimeout time.Duration
	strategies     map[string]Strategy
	log            zerolog.Logger
}

// Config holds engine construction options.
type Config struct {
	Registry       SnapshotResolver
	History        history.Provider
	IsAvailable    AvailabilityFilter
	HistoryTimeout time.Duration
	Log            zerolog.Logger
}

// NewEngine wires the engine with the standard strategy set.
func NewEngine(cfg Config) *Engine {
	log := cfg.Log.With().Str("component", "optimization_engine").Logger()
	timeout := cfg.HistoryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	strategies := map[string]Strategy{}
	for _, s := range []Strategy{
		NewMaxSharpeStrategy(log),
		NewTargetReturnStrategy(log),
		NewHRPStrategy(log),
		NewBlackLittermanStrategy(log),
	} {
		strategies[s.Name()] = s
	}

	return &Engine{
		registry:       cfg.Registry,
		history:        cfg.History,
		isAvailable:    cfg.IsAvailable,
		historyTimeout: timeout,
		strategies:     strategies,
		log:            log,
	}
}

// StrategyNames lists the registered strategies, sorted.
func (e *Engine) StrategyNames() []string {
	names := make([]string, 0, len(e.strategies))
	for name := range e.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Optimize runs one allocation end to end: snapshot resolution, universe
// filtering, PSD repair, strategy solve, validation, metric computation.
func (e *Engine) Optimize(ctx context.Context, req Request) (*Result, error) {
	strategy, ok := e.strategies[req.Strategy]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q, registered: %v", req.Strategy, e.StrategyNames())
	}

	snap, err := e.resolveSnapshot(ctx, req.SnapshotID)
	if err != nil {
		return nil, err
	}

	var warnings []string
	tickers, universeWarnings := e.buildUniverse(snap, req.Tickers)
	warnings = append(warnings, universeWarnings...)
	if len(tickers) < MinUniverseSize {
		return nil, &InsufficientUniverseError{Available: tickers, Required: MinUniverseSize}
	}

	mu, sigma, err := alignMoments(snap, tickers)
	if err != nil {
		return nil, err
	}

	psd, err := formulas.IsPositiveSemiDefinite(sigma)
	if err != nil {
		return nil, fmt.Errorf("covariance matrix check failed: %w", err)
	}
	if !psd {
		sigma, err = formulas.FixNonPositiveSemiDefinite(sigma)
		if err != nil {
			return nil, fmt.Errorf("covariance matrix repair failed: %w", err)
		}
		warnings = append(warnings, "covariance matrix was not positive semi-definite, repaired by spectral clipping")
		e.log.Warn().Str("snapshot_id", snap.Meta.ID).Msg("Repaired non-PSD covariance matrix")
	}

	params := req.Params.withDefaults()
	input := &Input{
		Tickers:    tickers,
		Mu:         mu,
		Sigma:      sigma,
		MarketCaps: snap.MarketCaps,
		Params:     params,
	}

	if strategy.NeedsHistory() {
		returns, err := e.fetchHistory(ctx, tickers, params.LookbackDays)
		if err != nil {
			return nil, err
		}
		input.Returns = returns
	}

	solution, err := strategy.Solve(ctx, input)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, solution.Warnings...)

	if err := e.validate(solution, params); err != nil {
		return nil, err
	}

	expectedReturn, risk := portfolioMetrics(solution.Weights, tickers, mu, sigma)
	sharpe := 0.0
	if risk > 0 {
		sharpe = (expectedReturn - params.RiskFreeRate) / risk
	}

	e.log.Info().
		Str("snapshot_id", snap.Meta.ID).
		Str("strategy", strategy.Name()).
		Int("universe", len(tickers)).
		Int("positions", len(solution.Weights)).
		Bool("fallback", solution.Fallback).
		Msg("Optimization completed")

	return &Result{
		SnapshotID:     snap.Meta.ID,
		Strategy:       strategy.Name(),
		Weights:        solution.Weights,
		ExpectedReturn: expectedReturn,
		Risk:           risk,
		Sharpe:         sharpe,
		Fallback:       solution.Fallback,
		Warnings:       warnings,
	}, nil
}

func (e *Engine) resolveSnapshot(ctx context.Context, id string) (*snapshot.MarketSnapshot, error) {
	if id != "" {
		return e.registry.Load(ctx, id)
	}
	snap, err := e.registry.Latest(ctx, nil)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, snapshot.ErrNotFound
	}
	return snap, nil
}

// buildUniverse intersects the requested tickers with the snapshot's
// coverage and the availability filter, reporting exclusions as warnings.
// The result is sorted for deterministic downstream behavior.
func (e *Engine) buildUniverse(snap *snapshot.MarketSnapshot, requested []string) ([]string, []string) {
	candidates := requested
	if len(candidates) == 0 {
		candidates = make([]string, 0, len(snap.Mu))
		for ticker := range snap.Mu {
			candidates = append(candidates, ticker)
		}
	}

	var warnings []string
	seen := make(map[string]struct{}, len(candidates))
	universe := make([]string, 0, len(candidates))
	for _, ticker := range candidates {
		if _, dup := seen[ticker]; dup {
			continue
		}
		seen[ticker] = struct{}{}

		if _, ok := snap.Mu[ticker]; !ok {
			warnings = append(warnings, fmt.Sprintf("ticker %s not covered by snapshot, excluded", ticker))
			continue
		}
		if e.isAvailable != nil && !e.isAvailable(ticker) {
			warnings = append(warnings, fmt.Sprintf("ticker %s unavailable for trading, excluded", ticker))
			continue
		}
		universe = append(universe, ticker)
	}

	sort.Strings(universe)
	return universe, warnings
}

// alignMoments extracts index-aligned mu and sigma for the universe.
func alignMoments(snap *snapshot.MarketSnapshot, tickers []string) ([]float64, [][]float64, error) {
	n := len(tickers)
	mu := make([]float64, n)
	sigma := make([][]float64, n)

	for i, ticker := range tickers {
		mu[i] = snap.Mu[ticker]
		row, ok := snap.Sigma[ticker]
		if !ok {
			return nil, nil, fmt.Errorf("snapshot is missing covariance row for %s", ticker)
		}
		sigma[i] = make([]float64, n)
		for j, other := range tickers {
			v, ok := row[other]
			if !ok {
				return nil, nil, fmt.Errorf("snapshot is missing covariance entry (%s, %s)", ticker, other)
			}
			sigma[i][j] = v
		}
	}
	return mu, sigma, nil
}

// fetchHistory retrieves per-ticker return series under the configured
// timeout. Any retrieval failure, including a timeout, surfaces as
// ErrInsufficientHistory so history-driven strategies fail cleanly instead
// of blocking.
func (e *Engine) fetchHistory(ctx context.Context, tickers []string, lookbackDays int) (map[string][]float64, error) {
	if e.history == nil {
		return nil, fmt.Errorf("%w: no history provider configured", ErrInsufficientHistory)
	}

	hctx, cancel := context.WithTimeout(ctx, e.historyTimeout)
	defer cancel()

	returns := make(map[string][]float64, len(tickers))
	for _, ticker := range tickers {
		series, err := e.history.Returns(hctx, ticker, lookbackDays)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(hctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: history retrieval timed out after %s", ErrInsufficientHistory, e.historyTimeout)
			}
			return nil, fmt.Errorf("%w: %v", ErrInsufficientHistory, err)
		}
		returns[ticker] = series
	}
	return returns, nil
}

// validate enforces the weight invariants on a strategy's output. The
// minimum bound is skipped for fallback results: the top-N recovery path is
// explicitly allowed to retain assets below the threshold.
func (e *Engine) validate(solution *Solution, params Params) error {
	if err := ValidateSum(solution.Weights); err != nil {
		return err
	}
	min := params.MinWeight
	if solution.Fallback {
		min = 0
	}
	return ValidateBounds(solution.Weights, min, params.MaxWeight)
}

// portfolioMetrics computes expected return and risk of the allocation from
// the snapshot moments.
func portfolioMetrics(weights map[string]float64, tickers []string, mu []float64, sigma [][]float64) (float64, float64) {
	index := make(map[string]int, len(tickers))
	for i, ticker := range tickers {
		index[ticker] = i
	}

	var expectedReturn, variance float64
	for ticker, w := range weights {
		i := index[ticker]
		expectedReturn += w * mu[i]
		for other, v := range weights {
			variance += w * v * sigma[i][index[other]]
		}
	}
	return expectedReturn, math.Sqrt(math.Max(variance, 0))
}
