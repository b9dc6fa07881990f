package align

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// DefaultStructureSample caps how many dictionary pairs the structural metric
// compares; its cost is quadratic in the sample.
const DefaultStructureSample = 500

// CosineDistanceMatrix returns D with D[i][j] = 1 − cos(xᵢ, xⱼ). Rows of x are
// normalized on a copy first.
func CosineDistanceMatrix(ctx context.Context, x mat.Matrix, workers int) (*mat.Dense, error) {
	xn := mat.DenseCopyOf(x)
	normalizeRows(xn)
	d, err := CosineMatrix(ctx, xn, xn, workers)
	if err != nil {
		return nil, err
	}
	n, _ := d.Dims()
	for i := 0; i < n; i++ {
		row := d.RawRowView(i)
		for j := range row {
			row[j] = 1 - row[j]
		}
	}
	return d, nil
}

// StructuralDistance compares the geometry of the two spaces on the first
// sample pairs of dict: ‖D(X) − D(Y)‖_F, where D is the pairwise cosine-distance
// matrix of the matched source rows X and target rows Y. It does not depend on
// the mapping when the mapping is orthogonal; it tracks how isometric the
// current matching is. An empty dictionary yields 0.
func StructuralDistance(ctx context.Context, src, tgt *mat.Dense, dict Dictionary, sample, workers int) (float64, error) {
	if len(dict) == 0 {
		return 0, nil
	}
	_, ds := src.Dims()
	_, dt := tgt.Dims()
	if ds != dt {
		return 0, dimensionError("structural input", ds, dt)
	}
	if sample <= 0 {
		sample = DefaultStructureSample
	}
	if len(dict) > sample {
		dict = dict[:sample]
	}

	dx, err := CosineDistanceMatrix(ctx, gatherRows(src, dict.Sources()), workers)
	if err != nil {
		return 0, err
	}
	dy, err := CosineDistanceMatrix(ctx, gatherRows(tgt, dict.Targets()), workers)
	if err != nil {
		return 0, err
	}
	return MappingDistance(dx, dy), nil
}
