package optimization

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// BlackLittermanStrategy blends market-implied equilibrium returns with the
// snapshot's expected returns, treated as absolute views on every asset,
// then allocates at the max-Sharpe point of the posterior.
//
// Posterior formula: E[R] = [(τΣ)^-1 + P'Ω^-1P]^-1 * [(τΣ)^-1Π + P'Ω^-1Q]
// with P = I, Q = snapshot mu, Ω = diag(τ * diag(Σ)).
type BlackLittermanStrategy struct {
	log zerolog.Logger
}

// NewBlackLittermanStrategy creates the strategy.
func NewBlackLittermanStrategy(log zerolog.Logger) *BlackLittermanStrategy {
	return &BlackLittermanStrategy{log: log.With().Str("strategy", "black_litterman").Logger()}
}

func (s *BlackLittermanStrategy) Name() string       { return "black_litterman" }
func (s *BlackLittermanStrategy) NeedsHistory() bool { return false }

func (s *BlackLittermanStrategy) Solve(ctx context.Context, input *Input) (*Solution, error) {
	p := input.Params
	n := len(input.Tickers)

	var warnings []string
	marketWeights, capsMissing := marketCapWeights(input.Tickers, input.MarketCaps)
	if capsMissing {
		warnings = append(warnings, "market caps unavailable, using equal weights for the equilibrium prior")
		s.log.Debug().Msg("Market caps unavailable, equilibrium prior uses equal weights")
	}

	sigma := denseSigma(input.Sigma)

	// Equilibrium prior: Π = δ * Σ * w_mkt
	w := mat.NewVecDense(n, marketWeights)
	var sigmaW mat.VecDense
	sigmaW.MulVec(sigma, w)
	pi := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		pi.SetVec(i, p.RiskAversion*sigmaW.AtVec(i))
	}

	posterior, err := blendPosterior(pi, input.Mu, sigma, p.Tau)
	if err != nil {
		return nil, fmt.Errorf("failed to compute posterior returns: %w", err)
	}

	bounds := uniformBounds(n, p.MinWeight, p.MaxWeight)
	raw, err := solveMaxSharpe(posterior, sigma, bounds, p.RiskFreeRate)
	if err != nil {
		return nil, err
	}

	weights, fallback := CleanWeights(zipWeights(input.Tickers, raw), p.MinWeight)
	return &Solution{Weights: weights, Fallback: fallback, Warnings: warnings}, nil
}

// blendPosterior computes the Black-Litterman posterior expected returns for
// identity P and views Q over every asset, with Ω = diag(τ * diag(Σ)).
func blendPosterior(pi *mat.VecDense, views []float64, sigma *mat.Dense, tau float64) ([]float64, error) {
	n := len(views)

	tauSigma := mat.NewDense(n, n, nil)
	tauSigma.Scale(tau, sigma)

	var tauSigmaInv mat.Dense
	if err := tauSigmaInv.Inverse(tauSigma); err != nil {
		return nil, fmt.Errorf("failed to invert τΣ: %w", err)
	}

	// With P = I, P'Ω^-1P collapses to Ω^-1 and P'Ω^-1Q to Ω^-1Q.
	omegaInv := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		uncertainty := tau * sigma.At(i, i)
		if uncertainty < 1e-10 {
			uncertainty = 1e-10
		}
		omegaInv.Set(i, i, 1.0/uncertainty)
	}

	var M mat.Dense
	M.Add(&tauSigmaInv, omegaInv)
	var MInv mat.Dense
	if err := MInv.Inverse(&M); err != nil {
		return nil, fmt.Errorf("failed to invert posterior precision: %w", err)
	}

	var tauSigmaInvPi mat.VecDense
	tauSigmaInvPi.MulVec(&tauSigmaInv, pi)

	q := mat.NewVecDense(n, views)
	var omegaInvQ mat.VecDense
	omegaInvQ.MulVec(omegaInv, q)

	var rhs mat.VecDense
	rhs.AddVec(&tauSigmaInvPi, &omegaInvQ)

	var posterior mat.VecDense
	posterior.MulVec(&MInv, &rhs)

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = posterior.AtVec(i)
	}
	return out, nil
}

// marketCapWeights builds the equilibrium prior weights from market caps,
// falling back to equal weights when caps are missing or degenerate for any
// asset in the universe.
func marketCapWeights(tickers []string, caps map[string]float64) ([]float64, bool) {
	n := len(tickers)
	weights := make([]float64, n)

	total := 0.0
	for i, ticker := range tickers {
		cap, ok := caps[ticker]
		if !ok || cap <= 0 {
			total = 0
			break
		}
		weights[i] = cap
		total += cap
	}

	if total <= 0 {
		for i := range weights {
			weights[i] = 1.0 / float64(n)
		}
		return weights, true
	}

	for i := range weights {
		weights[i] /= total
	}
	return weights, false
}
