package formulas

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// psdTolerance is the eigenvalue threshold below which a covariance matrix is
// treated as not positive semi-definite. Slightly negative eigenvalues show up
// routinely from floating point noise in sample covariances.
const psdTolerance = -1e-10

// IsPositiveSemiDefinite reports whether the symmetric matrix has no
// eigenvalue below the numerical tolerance.
func IsPositiveSemiDefinite(cov [][]float64) (bool, error) {
	sym, err := toSymDense(cov)
	if err != nil {
		return false, err
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, false); !ok {
		return false, fmt.Errorf("eigendecomposition failed")
	}

	for _, v := range eig.Values(nil) {
		if v < psdTolerance {
			return false, nil
		}
	}
	return true, nil
}

// FixNonPositiveSemiDefinite repairs a covariance matrix via spectral
// correction: eigendecompose, clip negative eigenvalues to zero, and
// reconstruct. The result is the nearest PSD matrix in the Frobenius sense
// under eigenvalue clipping. Symmetry of the input is assumed; only the lower
// triangle is read.
func FixNonPositiveSemiDefinite(cov [][]float64) ([][]float64, error) {
	n := len(cov)
	sym, err := toSymDense(cov)
	if err != nil {
		return nil, err
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return nil, fmt.Errorf("eigendecomposition failed")
	}

	values := eig.Values(nil)
	needsFix := false
	for _, v := range values {
		if v < 0 {
			needsFix = true
			break
		}
	}
	if !needsFix {
		return cov, nil
	}

	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	for i, v := range values {
		values[i] = math.Max(v, 0)
	}

	// Reconstruct V * diag(clipped) * V^T.
	scaled := mat.NewDense(n, n, nil)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			scaled.Set(i, j, vectors.At(i, j)*values[j])
		}
	}
	var fixed mat.Dense
	fixed.Mul(scaled, vectors.T())

	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			// Re-symmetrize to kill rounding drift from the reconstruction.
			out[i][j] = (fixed.At(i, j) + fixed.At(j, i)) / 2
		}
	}
	return out, nil
}

func toSymDense(cov [][]float64) (*mat.SymDense, error) {
	n := len(cov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	for i := 0; i < n; i++ {
		if len(cov[i]) != n {
			return nil, fmt.Errorf("covariance matrix is not square")
		}
	}
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, cov[i][j])
		}
	}
	return sym, nil
}
