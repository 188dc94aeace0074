package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// penaltyWeight scales the quadratic penalties that stand in for the
// sum-to-one and target-return equality constraints.
const penaltyWeight = 1000.0

// solveMaxSharpe maximizes (μ'w - r_f) / sqrt(w'Σw) subject to Σw = 1 and
// per-asset bounds.
func solveMaxSharpe(mu []float64, sigma *mat.Dense, bounds [][2]float64, riskFree float64) ([]float64, error) {
	n := len(mu)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			xProj := projectToBounds(x, bounds)

			var excess, variance float64
			for i := 0; i < n; i++ {
				excess += mu[i] * xProj[i]
				for j := 0; j < n; j++ {
					variance += xProj[i] * xProj[j] * sigma.At(i, j)
				}
			}
			excess -= riskFree
			stdDev := math.Sqrt(math.Max(variance, 1e-10))

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += xProj[i]
			}

			obj := -excess / stdDev
			obj += penaltyWeight * (sum - 1.0) * (sum - 1.0)
			return obj
		},
		Grad: func(grad, x []float64) {
			xProj := projectToBounds(x, bounds)

			var excess, variance float64
			for i := 0; i < n; i++ {
				excess += mu[i] * xProj[i]
				for j := 0; j < n; j++ {
					variance += xProj[i] * xProj[j] * sigma.At(i, j)
				}
			}
			excess -= riskFree
			stdDev := math.Sqrt(math.Max(variance, 1e-10))

			for i := 0; i < n; i++ {
				var dVariance float64
				for j := 0; j < n; j++ {
					dVariance += 2 * sigma.At(i, j) * xProj[j]
				}
				grad[i] = -mu[i]/stdDev + excess*dVariance/(2*stdDev*stdDev*stdDev)
			}

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += xProj[i]
			}
			for i := 0; i < n; i++ {
				grad[i] += 2 * penaltyWeight * (sum - 1.0)
			}
		},
	}

	return runSolve(problem, n, bounds)
}

// solveTargetReturn maximizes μ'w - λ(w'Σw) with a quadratic penalty pinning
// μ'w to the target, subject to Σw = 1 and per-asset bounds. The caller is
// responsible for clamping the target into the achievable range first.
func solveTargetReturn(mu []float64, sigma *mat.Dense, bounds [][2]float64, target, riskAversion float64) ([]float64, error) {
	n := len(mu)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			xProj := projectToBounds(x, bounds)

			var portfolioReturn, variance float64
			for i := 0; i < n; i++ {
				portfolioReturn += mu[i] * xProj[i]
				for j := 0; j < n; j++ {
					variance += xProj[i] * xProj[j] * sigma.At(i, j)
				}
			}

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += xProj[i]
			}

			obj := -(portfolioReturn - riskAversion*variance)
			obj += penaltyWeight * (sum - 1.0) * (sum - 1.0)
			obj += penaltyWeight * (portfolioReturn - target) * (portfolioReturn - target)
			return obj
		},
		Grad: func(grad, x []float64) {
			xProj := projectToBounds(x, bounds)

			var portfolioReturn float64
			for i := 0; i < n; i++ {
				portfolioReturn += mu[i] * xProj[i]
			}

			for i := 0; i < n; i++ {
				grad[i] = -mu[i]
				for j := 0; j < n; j++ {
					grad[i] += 2 * riskAversion * sigma.At(i, j) * xProj[j]
				}
			}

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += xProj[i]
			}
			for i := 0; i < n; i++ {
				grad[i] += 2 * penaltyWeight * (sum - 1.0)
				grad[i] += 2 * penaltyWeight * (portfolioReturn - target) * mu[i]
			}
		},
	}

	return runSolve(problem, n, bounds)
}

// runSolve minimizes from the equal-weight start with BFGS, falling back to
// NelderMead on failure, then projects and normalizes the solution.
func runSolve(problem optimize.Problem, n int, bounds [][2]float64) ([]float64, error) {
	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
	if err != nil || !converged(result.Status) {
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
		if err != nil {
			return nil, fmt.Errorf("optimization failed: %w", err)
		}
		if !converged(result.Status) {
			return nil, fmt.Errorf("optimization did not converge: status=%v", result.Status)
		}
	}

	xFinal := projectToBounds(result.X, bounds)
	sum := 0.0
	for _, v := range xFinal {
		sum += v
	}
	weights := make([]float64, n)
	for i := range xFinal {
		weights[i] = math.Max(0.0, xFinal[i]/math.Max(sum, 1e-10))
	}

	sum = 0.0
	for _, w := range weights {
		sum += w
	}
	if sum > 0 {
		for i := range weights {
			weights[i] /= sum
		}
	}
	return weights, nil
}

func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence:
		return true
	}
	return false
}

// projectToBounds clamps each coordinate to its bounds.
func projectToBounds(x []float64, bounds [][2]float64) []float64 {
	if len(bounds) == 0 {
		return x
	}
	proj := make([]float64, len(x))
	for i := range x {
		proj[i] = math.Max(bounds[i][0], math.Min(bounds[i][1], x[i]))
	}
	return proj
}

// denseSigma converts a row-major covariance table to a gonum matrix.
func denseSigma(cov [][]float64) *mat.Dense {
	n := len(cov)
	sigma := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sigma.Set(i, j, cov[i][j])
		}
	}
	return sigma
}

// uniformBounds builds identical [min, max] bounds for every asset.
func uniformBounds(n int, min, max float64) [][2]float64 {
	bounds := make([][2]float64, n)
	for i := range bounds {
		bounds[i] = [2]float64{min, max}
	}
	return bounds
}
