package align

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ProcrustesFit is the orthogonal map minimizing Σ‖R·xᵢ − yᵢ‖².
type ProcrustesFit struct {
	Mapping *mat.Dense
	Pairs   int
	// RankDeficient is set when there are fewer pairs than dimensions; the fit
	// is valid but not unique and tends to be unstable between iterations.
	RankDeficient bool
	// Reflected is set when det(U·Vᵀ) was negative and the last column of U
	// was negated to force a proper rotation.
	Reflected bool
}

// ProcrustesSolver fits orthogonal maps from paired vectors.
type ProcrustesSolver struct {
	// ProperRotation forces det(R) = +1. When false, reflections are accepted.
	ProperRotation bool
	Logger         *Logger
}

// Fit solves the orthogonal Procrustes problem for paired rows of x and y
// (both k×d): M = Yᵀ·X = U·S·Vᵀ, R = U·Vᵀ.
func (p ProcrustesSolver) Fit(ctx context.Context, x, y mat.Matrix) (*ProcrustesFit, error) {
	kx, dx := x.Dims()
	ky, dy := y.Dims()
	if dx != dy {
		return nil, dimensionError("procrustes vector", dx, dy)
	}
	if kx != ky {
		return nil, dimensionError("procrustes pair count", kx, ky)
	}
	if kx == 0 {
		return nil, fmt.Errorf("procrustes: %w", ErrEmptyDictionary)
	}
	d := dx

	var cross mat.Dense
	cross.Mul(y.T(), x)
	if !allFinite(&cross) {
		return nil, &NumericalError{Stage: "cross-covariance", Pairs: kx, Dimension: d}
	}

	var svd mat.SVD
	if ok := svd.Factorize(&cross, mat.SVDFull); !ok {
		return nil, &NumericalError{Stage: "svd", Pairs: kx, Dimension: d, cause: errors.New("factorization did not converge")}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	r := mat.NewDense(d, d, nil)
	r.Mul(&u, v.T())

	fit := &ProcrustesFit{Mapping: r, Pairs: kx, RankDeficient: kx < d}
	if p.ProperRotation && mat.Det(r) < 0 {
		for i := 0; i < d; i++ {
			u.Set(i, d-1, -u.At(i, d-1))
		}
		r.Mul(&u, v.T())
		fit.Reflected = true
	}

	if !allFinite(r) {
		return nil, &NumericalError{Stage: "rotation", Pairs: kx, Dimension: d}
	}
	if fit.RankDeficient && p.Logger != nil {
		p.Logger.LogRankDeficient(ctx, kx, d)
	}
	return fit, nil
}

// FitDictionary extracts the dictionary's pairs from src and tgt (rows are
// vectors) and fits the mapping.
func (p ProcrustesSolver) FitDictionary(ctx context.Context, src, tgt *mat.Dense, dict Dictionary) (*ProcrustesFit, error) {
	if len(dict) == 0 {
		return nil, fmt.Errorf("procrustes: %w", ErrEmptyDictionary)
	}
	_, ds := src.Dims()
	_, dt := tgt.Dims()
	if ds != dt {
		return nil, dimensionError("procrustes vector", ds, dt)
	}
	x := gatherRows(src, dict.Sources())
	y := gatherRows(tgt, dict.Targets())
	return p.Fit(ctx, x, y)
}

// OrthogonalityError returns ‖RᵀR − I‖_F.
func OrthogonalityError(r mat.Matrix) float64 {
	rows, cols := r.Dims()
	if rows != cols {
		return math.Inf(1)
	}
	var g mat.Dense
	g.Mul(r.T(), r)
	for i := 0; i < rows; i++ {
		g.Set(i, i, g.At(i, i)-1)
	}
	return mat.Norm(&g, 2)
}

// MappingDistance returns ‖a − b‖_F.
func MappingDistance(a, b mat.Matrix) float64 {
	var diff mat.Dense
	diff.Sub(a, b)
	return mat.Norm(&diff, 2)
}

func allFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
