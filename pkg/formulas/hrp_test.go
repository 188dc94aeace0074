package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHRPWeightsSumToOne(t *testing.T) {
	cov := [][]float64{
		{0.04, 0.01, 0.00},
		{0.01, 0.09, 0.02},
		{0.00, 0.02, 0.16},
	}

	weights, err := HRPWeights(cov)
	require.NoError(t, err)
	require.Len(t, weights, 3)

	sum := 0.0
	for _, w := range weights {
		assert.GreaterOrEqual(t, w, 0.0)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestHRPWeightsFavorLowVariance(t *testing.T) {
	// Uncorrelated assets: HRP reduces to inverse-variance allocation, so
	// the lowest-variance asset must get the largest weight.
	cov := [][]float64{
		{0.01, 0.0, 0.0},
		{0.0, 0.04, 0.0},
		{0.0, 0.0, 0.16},
	}

	weights, err := HRPWeights(cov)
	require.NoError(t, err)
	assert.Greater(t, weights[0], weights[1])
	assert.Greater(t, weights[1], weights[2])
}

func TestHRPWeightsSingleAsset(t *testing.T) {
	weights, err := HRPWeights([][]float64{{0.04}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0}, weights)
}

func TestHRPWeightsDeterministic(t *testing.T) {
	cov := [][]float64{
		{0.04, 0.02, 0.01, 0.00},
		{0.02, 0.05, 0.02, 0.01},
		{0.01, 0.02, 0.06, 0.02},
		{0.00, 0.01, 0.02, 0.07},
	}

	first, err := HRPWeights(cov)
	require.NoError(t, err)
	second, err := HRPWeights(cov)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHRPWeightsRejectsEmptyMatrix(t *testing.T) {
	_, err := HRPWeights(nil)
	assert.Error(t, err)
}

func TestInverseVarianceWeights(t *testing.T) {
	weights := InverseVarianceWeights([]float64{0.01, 0.02})
	require.Len(t, weights, 2)
	assert.InDelta(t, 2.0/3.0, weights[0], 1e-12)
	assert.InDelta(t, 1.0/3.0, weights[1], 1e-12)
}

func TestInverseVarianceWeightsAllZero(t *testing.T) {
	weights := InverseVarianceWeights([]float64{0, 0})
	assert.Equal(t, []float64{0.5, 0.5}, weights)
}
