package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPositiveSemiDefinite(t *testing.T) {
	// Diagonal matrix with positive variances is PSD.
	cov := [][]float64{
		{0.04, 0.0, 0.0},
		{0.0, 0.09, 0.0},
		{0.0, 0.0, 0.01},
	}
	ok, err := IsPositiveSemiDefinite(cov)
	require.NoError(t, err)
	assert.True(t, ok)

	// |cov(A,B)| > sqrt(var(A)*var(B)) breaks PSD.
	bad := [][]float64{
		{0.01, 0.05},
		{0.05, 0.01},
	}
	ok, err = IsPositiveSemiDefinite(bad)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFixNonPositiveSemiDefinite(t *testing.T) {
	bad := [][]float64{
		{0.01, 0.05, 0.0},
		{0.05, 0.01, 0.0},
		{0.0, 0.0, 0.02},
	}

	fixed, err := FixNonPositiveSemiDefinite(bad)
	require.NoError(t, err)
	require.Len(t, fixed, 3)

	ok, err := IsPositiveSemiDefinite(fixed)
	require.NoError(t, err)
	assert.True(t, ok, "repaired matrix should be PSD")

	// Symmetry preserved.
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, fixed[i][j], fixed[j][i], 1e-12)
		}
	}

	// An already-PSD matrix passes through unchanged.
	good := [][]float64{
		{0.04, 0.01},
		{0.01, 0.03},
	}
	same, err := FixNonPositiveSemiDefinite(good)
	require.NoError(t, err)
	for i := range good {
		for j := range good[i] {
			assert.InDelta(t, good[i][j], same[i][j], 1e-12)
		}
	}
}

func TestCorrelationMatrixFromCovariance(t *testing.T) {
	cov := [][]float64{
		{0.04, 0.012},
		{0.012, 0.09},
	}
	corr, err := CorrelationMatrixFromCovariance(cov)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, corr[0][0], 1e-12)
	assert.InDelta(t, 1.0, corr[1][1], 1e-12)
	assert.InDelta(t, 0.012/(0.2*0.3), corr[0][1], 1e-12)
	assert.Equal(t, corr[0][1], corr[1][0])
}

func TestCorrelationToDistance(t *testing.T) {
	corr := [][]float64{
		{1.0, 0.8, 0.2},
		{0.8, 1.0, 0.5},
		{0.2, 0.5, 1.0},
	}
	dist := CorrelationToDistance(corr)

	for i := range dist {
		assert.InDelta(t, 0.0, dist[i][i], 1e-12, "self-distance should be 0")
		for j := range dist {
			assert.GreaterOrEqual(t, dist[i][j], 0.0)
			assert.InDelta(t, dist[i][j], dist[j][i], 1e-12)
		}
	}

	// Higher correlation means lower distance.
	assert.Less(t, dist[0][1], dist[0][2])
}
