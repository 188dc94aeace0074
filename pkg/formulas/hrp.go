package formulas

import (
	"fmt"
	"math"
)

// HRPWeights computes Hierarchical Risk Parity weights from a covariance
// matrix.
//
// Algorithm steps:
//  1. Convert covariance to correlation, then to the distance metric
//     d_ij = sqrt(2 * (1 - ρ_ij))
//  2. Agglomerative clustering with single linkage to obtain a
//     quasi-diagonal leaf ordering
//  3. Recursive bisection over the ordering, splitting weight between the
//     two halves inversely proportional to their cluster variances
//
// The result is index-aligned with the covariance matrix and sums to 1.
func HRPWeights(cov [][]float64) ([]float64, error) {
	n := len(cov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	if n == 1 {
		return []float64{1.0}, nil
	}

	corr, err := CorrelationMatrixFromCovariance(cov)
	if err != nil {
		return nil, err
	}
	dist := CorrelationToDistance(corr)

	order := quasiDiagonalOrder(dist)
	return recursiveBisection(cov, order), nil
}

// quasiDiagonalOrder performs single-linkage agglomerative clustering on the
// distance matrix and returns the leaf ordering of the resulting dendrogram.
// Clusters are kept as ordered leaf lists and merged by concatenation, so the
// final single cluster reads off the quasi-diagonal order directly. Ties on
// linkage distance break toward the cluster pair with the smallest minimum
// leaf index, keeping the ordering deterministic.
func quasiDiagonalOrder(dist [][]float64) []int {
	n := len(dist)
	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	for len(clusters) > 1 {
		bestA, bestB := 0, 1
		bestDist := math.Inf(1)
		bestLeaf := math.MaxInt

		for a := 0; a < len(clusters); a++ {
			for b := a + 1; b < len(clusters); b++ {
				d := singleLinkage(dist, clusters[a], clusters[b])
				leaf := minLeaf(clusters[a], clusters[b])
				if d < bestDist || (d == bestDist && leaf < bestLeaf) {
					bestDist = d
					bestLeaf = leaf
					bestA, bestB = a, b
				}
			}
		}

		merged := append(append([]int{}, clusters[bestA]...), clusters[bestB]...)
		next := make([][]int, 0, len(clusters)-1)
		for i, c := range clusters {
			if i != bestA && i != bestB {
				next = append(next, c)
			}
		}
		clusters = append(next, merged)
	}

	return clusters[0]
}

// singleLinkage returns the minimum pairwise distance between two clusters.
func singleLinkage(dist [][]float64, a, b []int) float64 {
	min := math.Inf(1)
	for _, i := range a {
		for _, j := range b {
			if dist[i][j] < min {
				min = dist[i][j]
			}
		}
	}
	return min
}

func minLeaf(a, b []int) int {
	min := math.MaxInt
	for _, i := range a {
		if i < min {
			min = i
		}
	}
	for _, i := range b {
		if i < min {
			min = i
		}
	}
	return min
}

// recursiveBisection splits the ordered universe in half repeatedly,
// allocating weight between halves inversely proportional to their cluster
// variances.
func recursiveBisection(cov [][]float64, order []int) []float64 {
	weights := make([]float64, len(cov))
	for _, i := range order {
		weights[i] = 1.0
	}

	stack := [][]int{order}
	for len(stack) > 0 {
		items := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(items) < 2 {
			continue
		}

		mid := len(items) / 2
		left, right := items[:mid], items[mid:]

		varLeft := clusterVariance(cov, left)
		varRight := clusterVariance(cov, right)

		alpha := 0.5
		if total := varLeft + varRight; total > 0 {
			alpha = 1.0 - varLeft/total
		}

		for _, i := range left {
			weights[i] *= alpha
		}
		for _, i := range right {
			weights[i] *= 1.0 - alpha
		}

		stack = append(stack, left, right)
	}

	// Normalize against accumulated floating point drift.
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum > 0 {
		for i := range weights {
			weights[i] /= sum
		}
	}

	return weights
}

// clusterVariance computes w'Σw for a cluster using inverse-variance weights
// within the cluster.
func clusterVariance(cov [][]float64, items []int) float64 {
	variances := make([]float64, len(items))
	for k, i := range items {
		variances[k] = math.Max(cov[i][i], 1e-10)
	}
	w := InverseVarianceWeights(variances)

	var variance float64
	for a, i := range items {
		for b, j := range items {
			variance += w[a] * w[b] * cov[i][j]
		}
	}
	return variance
}

// InverseVarianceWeights calculates risk parity weights using inverse
// variance weighting.
//
// Formula: w_i = (1/v_i) / Σ(1/v_j)
func InverseVarianceWeights(variances []float64) []float64 {
	n := len(variances)
	weights := make([]float64, n)

	var totalInvVariance float64
	for _, v := range variances {
		if v > 0 {
			totalInvVariance += 1.0 / v
		}
	}

	if totalInvVariance == 0 {
		for i := range weights {
			weights[i] = 1.0 / float64(n)
		}
		return weights
	}

	for i, v := range variances {
		if v > 0 {
			weights[i] = (1.0 / v) / totalInvVariance
		}
	}

	return weights
}
