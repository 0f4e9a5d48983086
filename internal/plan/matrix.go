package plan

import (
	"fmt"
	"math"
)

// ToeplitzMatrix builds the correlation matrix M[i][j] = rho^|i-j| for n
// targets. rho must already be validated to lie in [-1, 1].
func ToeplitzMatrix(n int, rho float64) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		for j := range m[i] {
			m[i][j] = math.Pow(rho, math.Abs(float64(i-j)))
		}
	}
	return m
}

// ValidateCorrMatrix checks that a user-supplied correlation matrix is square
// with the expected dimension, symmetric, has a unit diagonal, and keeps every
// entry in [-1, 1]. Positive definiteness is checked later by the Cholesky
// factorization.
func ValidateCorrMatrix(m [][]float64, dim int) error {
	if len(m) != dim {
		return fmt.Errorf("correlation matrix has %d rows, expected %d (one per target)", len(m), dim)
	}
	for i, row := range m {
		if len(row) != dim {
			return fmt.Errorf("correlation matrix row %d has %d columns, expected %d", i, len(row), dim)
		}
	}
	for i := 0; i < dim; i++ {
		if math.Abs(m[i][i]-1.0) > 1e-9 {
			return fmt.Errorf("correlation matrix diagonal entry [%d][%d] is %g, must be 1", i, i, m[i][i])
		}
		for j := 0; j < dim; j++ {
			v := m[i][j]
			if math.IsNaN(v) || v < -1 || v > 1 {
				return fmt.Errorf("correlation matrix entry [%d][%d] is %g, must be in [-1, 1]", i, j, v)
			}
			if math.Abs(v-m[j][i]) > 1e-9 {
				return fmt.Errorf("correlation matrix is not symmetric at [%d][%d]", i, j)
			}
		}
	}
	return nil
}
