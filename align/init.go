package align

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// IdentityMapping returns the d×d identity.
func IdentityMapping(d int) *mat.Dense {
	m := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// RandomOrthogonal returns a d×d orthogonal matrix whose columns are the
// Gram–Schmidt orthonormalization of random Gaussian columns.
func RandomOrthogonal(d int, rng *rand.Rand) *mat.Dense {
	basis := make([][]float64, 0, d)
	for len(basis) < d {
		u := make([]float64, d)
		for i := range u {
			u[i] = rng.NormFloat64()
		}
		// Modified Gram–Schmidt: project out each basis vector in turn.
		for _, b := range basis {
			floats.AddScaled(u, -floats.Dot(u, b), b)
		}
		n := floats.Norm(u, 2)
		if n < 1e-10 {
			continue
		}
		floats.Scale(1/n, u)
		basis = append(basis, u)
	}

	m := mat.NewDense(d, d, nil)
	for j, col := range basis {
		m.SetCol(j, col)
	}
	return m
}

// initialMapping picks the starting map for a refinement run.
func initialMapping(policy InitPolicy, d int, rng *rand.Rand) *mat.Dense {
	if policy == InitRandom {
		return RandomOrthogonal(d, rng)
	}
	return IdentityMapping(d)
}
