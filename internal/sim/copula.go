package sim

import (
	"fmt"
	"math"
	"math/rand"
)

// copulaSampler draws correlated uniforms from a Gaussian copula. The
// Cholesky factor is computed once; each draw is a matrix-vector product over
// iid standard normals followed by the normal CDF.
type copulaSampler struct {
	dim  int
	chol [][]float64
}

// newCopulaSampler factors the correlation matrix. A matrix that is only
// marginally non-positive-definite from rounding gets one retry with a small
// diagonal jitter.
func newCopulaSampler(corr [][]float64) (*copulaSampler, error) {
	chol, err := cholesky(corr)
	if err != nil {
		jittered := make([][]float64, len(corr))
		for i, row := range corr {
			jittered[i] = append([]float64(nil), row...)
			jittered[i][i] += 1e-6
		}
		chol, err = cholesky(jittered)
		if err != nil {
			return nil, fmt.Errorf("correlation matrix is not positive definite: %w", err)
		}
	}
	return &copulaSampler{dim: len(corr), chol: chol}, nil
}

// draw returns one vector of correlated uniforms in (0, 1).
func (c *copulaSampler) draw(r *rand.Rand) []float64 {
	z := make([]float64, c.dim)
	for i := range z {
		z[i] = r.NormFloat64()
	}
	u := make([]float64, c.dim)
	for i := 0; i < c.dim; i++ {
		x := 0.0
		for j := 0; j <= i; j++ {
			x += c.chol[i][j] * z[j]
		}
		u[i] = stdNormalCDF(x)
	}
	return u
}

// cholesky returns the lower-triangular factor L with A = L * L^T.
func cholesky(a [][]float64) ([][]float64, error) {
	n := len(a)
	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := a[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil, fmt.Errorf("leading minor of order %d is not positive", i+1)
				}
				l[i][i] = math.Sqrt(sum)
			} else {
				l[i][j] = sum / l[j][j]
			}
		}
	}
	return l, nil
}
