package align

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultCSLSK is the neighbourhood size used for hubness correction.
const DefaultCSLSK = 10

// SimilarityMatrix is a dense n×m score matrix between a (mapped) source space
// and a target space. It is recomputed every iteration.
type SimilarityMatrix struct {
	Scores *mat.Dense
	Metric ScoreMetric
	// Degenerate counts zero-norm vectors met while normalizing both inputs.
	// Their similarities are 0.
	Degenerate int
}

// Dims returns the number of source rows and target columns.
func (s *SimilarityMatrix) Dims() (int, int) {
	return s.Scores.Dims()
}

// At returns the score between source i and target j.
func (s *SimilarityMatrix) At(i, j int) float64 {
	return s.Scores.At(i, j)
}

// Cosine returns the cosine similarity of u and v. A zero or non-finite norm on
// either side yields 0. It panics if the lengths differ.
func Cosine(u, v []float64) float64 {
	if len(u) != len(v) {
		panic("align: slice lengths do not match")
	}
	nu, nv := floats.Norm(u, 2), floats.Norm(v, 2)
	if !(nu > 0) || !(nv > 0) || math.IsInf(nu, 0) || math.IsInf(nv, 0) {
		return 0
	}
	return floats.Dot(u, v) / (nu * nv)
}

// Scorer computes cosine or CSLS similarity matrices.
type Scorer struct {
	Metric  ScoreMetric
	K       int
	Workers int
}

// NewScorer returns a Scorer. k <= 0 selects DefaultCSLSK; workers <= 0 selects
// runtime.NumCPU().
func NewScorer(metric ScoreMetric, k, workers int) *Scorer {
	if k <= 0 {
		k = DefaultCSLSK
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Scorer{Metric: metric, K: k, Workers: workers}
}

// Score normalizes copies of src (n×d) and tgt (m×d) and returns their n×m
// similarity matrix under the scorer's metric.
func (s *Scorer) Score(ctx context.Context, src, tgt mat.Matrix) (*SimilarityMatrix, error) {
	_, ds := src.Dims()
	_, dt := tgt.Dims()
	if ds != dt {
		return nil, dimensionError("similarity input", ds, dt)
	}

	x := mat.DenseCopyOf(src)
	y := mat.DenseCopyOf(tgt)
	degenerate := normalizeRows(x) + normalizeRows(y)

	cos, err := CosineMatrix(ctx, x, y, s.Workers)
	if err != nil {
		return nil, err
	}

	sim := &SimilarityMatrix{Scores: cos, Metric: s.Metric, Degenerate: degenerate}
	if s.Metric == ScoreCSLS {
		if err := applyCSLS(ctx, cos, s.K, s.Workers); err != nil {
			return nil, err
		}
	}
	return sim, nil
}

// CosineMatrix returns x·yᵀ for row-normalized x (n×d) and y (m×d). Rows are
// computed by a bounded worker pool; each output row is owned by one worker.
func CosineMatrix(ctx context.Context, x, y *mat.Dense, workers int) (*mat.Dense, error) {
	n, dx := x.Dims()
	m, dy := y.Dims()
	if dx != dy {
		return nil, dimensionError("cosine input", dx, dy)
	}

	out := mat.NewDense(n, m, nil)
	err := parallelRows(ctx, n, workers, func(i int) {
		xi := x.RawRowView(i)
		row := out.RawRowView(i)
		for j := 0; j < m; j++ {
			row[j] = floats.Dot(xi, y.RawRowView(j))
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NeighborMeans returns, for each row of sim, the mean of its k largest
// entries, and the same for each column. These are rT and rS in CSLS.
func NeighborMeans(ctx context.Context, sim *mat.Dense, k, workers int) (rowMeans, colMeans []float64, err error) {
	n, m := sim.Dims()
	raw := sim.RawMatrix()

	rowMeans = make([]float64, n)
	kr := clampK(k, m)
	err = parallelRows(ctx, n, workers, func(i int) {
		top := newTopK(kr)
		for _, v := range sim.RawRowView(i) {
			top.push(v)
		}
		rowMeans[i] = top.mean()
	})
	if err != nil {
		return nil, nil, err
	}

	colMeans = make([]float64, m)
	kc := clampK(k, n)
	err = parallelRows(ctx, m, workers, func(j int) {
		top := newTopK(kc)
		for i := 0; i < n; i++ {
			top.push(raw.Data[i*raw.Stride+j])
		}
		colMeans[j] = top.mean()
	})
	if err != nil {
		return nil, nil, err
	}
	return rowMeans, colMeans, nil
}

// applyCSLS rewrites a cosine matrix in place into CSLS scores:
// 2·cos(x,y) − rT(x) − rS(y).
func applyCSLS(ctx context.Context, cos *mat.Dense, k, workers int) error {
	rT, rS, err := NeighborMeans(ctx, cos, k, workers)
	if err != nil {
		return err
	}
	n, _ := cos.Dims()
	return parallelRows(ctx, n, workers, func(i int) {
		row := cos.RawRowView(i)
		for j := range row {
			row[j] = 2*row[j] - rT[i] - rS[j]
		}
	})
}

// parallelRows runs fn for every index in [0, n) on at most workers goroutines.
// Indices are handed out in contiguous blocks; cancellation is checked per index.
func parallelRows(ctx context.Context, n, workers int, fn func(i int)) error {
	if n == 0 {
		return ctx.Err()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	block := n / (workers * 4)
	if block < 1 {
		block = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += block {
		hi := min(lo+block, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				fn(i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func clampK(k, available int) int {
	if k < 1 {
		k = 1
	}
	if k > available {
		k = available
	}
	return k
}

// topK keeps the k largest finite values pushed into it. buf is sorted
// ascending so buf[0] is the smallest kept value.
type topK struct {
	k   int
	buf []float64
}

func newTopK(k int) *topK {
	return &topK{k: k, buf: make([]float64, 0, k)}
}

func (t *topK) push(v float64) {
	if math.IsNaN(v) || t.k == 0 {
		return
	}
	if len(t.buf) < t.k {
		t.buf = append(t.buf, v)
		for i := len(t.buf) - 1; i > 0 && t.buf[i] < t.buf[i-1]; i-- {
			t.buf[i], t.buf[i-1] = t.buf[i-1], t.buf[i]
		}
		return
	}
	if v <= t.buf[0] {
		return
	}
	t.buf[0] = v
	for i := 0; i+1 < len(t.buf) && t.buf[i] > t.buf[i+1]; i++ {
		t.buf[i], t.buf[i+1] = t.buf[i+1], t.buf[i]
	}
}

func (t *topK) mean() float64 {
	if len(t.buf) == 0 {
		return 0
	}
	return floats.Sum(t.buf) / float64(len(t.buf))
}
