package align

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randomMatrix(rng *rand.Rand, n, d int) *mat.Dense {
	m := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			m.Set(i, j, rng.NormFloat64())
		}
	}
	return m
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		u, v []float64
		want float64
	}{
		{"parallel", []float64{1, 2, 3}, []float64{2, 4, 6}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 5}, 0},
		{"opposite", []float64{1, 1}, []float64{-3, -3}, -1},
		{"zero left", []float64{0, 0}, []float64{1, 2}, 0},
		{"zero both", []float64{0, 0}, []float64{0, 0}, 0},
		{"infinite norm", []float64{math.Inf(1), 0}, []float64{1, 0}, 0},
		{"empty", []float64{}, []float64{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.u, tt.v)
			assert.False(t, math.IsNaN(got))
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestCosine_LengthMismatchPanics(t *testing.T) {
	assert.Panics(t, func() { Cosine([]float64{1}, []float64{1, 2}) })
}

func TestScorer_Cosine(t *testing.T) {
	src := mat.NewDense(2, 2, []float64{
		3, 0,
		1, 1,
	})
	tgt := mat.NewDense(3, 2, []float64{
		0, 2,
		5, 0,
		-1, -1,
	})
	sim, err := NewScorer(ScoreCosine, 0, 2).Score(context.Background(), src, tgt)
	require.NoError(t, err)

	n, m := sim.Dims()
	require.Equal(t, 2, n)
	require.Equal(t, 3, m)
	want := [][]float64{
		{0, 1, -math.Sqrt2 / 2},
		{math.Sqrt2 / 2, math.Sqrt2 / 2, -1},
	}
	for i := range want {
		for j := range want[i] {
			assert.InDelta(t, want[i][j], sim.At(i, j), 1e-12, "(%d,%d)", i, j)
		}
	}
	assert.Equal(t, ScoreCosine, sim.Metric)
	assert.Zero(t, sim.Degenerate)

	// Inputs are not normalized in place.
	assert.Equal(t, 3.0, src.At(0, 0))
}

func TestScorer_ZeroVectorsScoreZero(t *testing.T) {
	for _, metric := range []ScoreMetric{ScoreCosine, ScoreCSLS} {
		t.Run(metric.String(), func(t *testing.T) {
			src := mat.NewDense(3, 4, nil)
			tgt := randomMatrix(rand.New(rand.NewSource(1)), 5, 4)

			sim, err := NewScorer(metric, 2, 1).Score(context.Background(), src, tgt)
			require.NoError(t, err)
			assert.Equal(t, 3, sim.Degenerate)

			n, m := sim.Dims()
			for i := 0; i < n; i++ {
				for j := 0; j < m; j++ {
					v := sim.At(i, j)
					require.False(t, math.IsNaN(v), "NaN at (%d,%d)", i, j)
					if metric == ScoreCosine {
						assert.Zero(t, v)
					}
				}
			}
		})
	}
}

// bruteCSLS recomputes CSLS from its definition.
func bruteCSLS(cos *mat.Dense, k int) *mat.Dense {
	n, m := cos.Dims()
	topMean := func(vals []float64, k int) float64 {
		s := append([]float64(nil), vals...)
		sort.Sort(sort.Reverse(sort.Float64Slice(s)))
		if k > len(s) {
			k = len(s)
		}
		sum := 0.0
		for _, v := range s[:k] {
			sum += v
		}
		return sum / float64(k)
	}
	rT := make([]float64, n)
	for i := 0; i < n; i++ {
		rT[i] = topMean(mat.Row(nil, i, cos), k)
	}
	rS := make([]float64, m)
	for j := 0; j < m; j++ {
		rS[j] = topMean(mat.Col(nil, j, cos), k)
	}
	out := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			out.Set(i, j, 2*cos.At(i, j)-rT[i]-rS[j])
		}
	}
	return out
}

func TestScorer_CSLSMatchesDefinition(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	src := randomMatrix(rng, 17, 6)
	tgt := randomMatrix(rng, 11, 6)

	for _, k := range []int{1, 3, 10, 50} {
		cos, err := NewScorer(ScoreCosine, k, 3).Score(context.Background(), src, tgt)
		require.NoError(t, err)
		csls, err := NewScorer(ScoreCSLS, k, 3).Score(context.Background(), src, tgt)
		require.NoError(t, err)

		want := bruteCSLS(cos.Scores, k)
		assert.True(t, mat.EqualApprox(want, csls.Scores, 1e-12), "k=%d", k)
	}
}

func TestNeighborMeans(t *testing.T) {
	sim := mat.NewDense(2, 3, []float64{
		0.9, 0.1, 0.5,
		math.NaN(), 0.3, 0.2,
	})
	rows, cols, err := NeighborMeans(context.Background(), sim, 2, 1)
	require.NoError(t, err)

	assert.InDelta(t, 0.7, rows[0], 1e-12)
	assert.InDelta(t, 0.25, rows[1], 1e-12, "NaN is skipped")
	assert.InDelta(t, 0.9, cols[0], 1e-12, "NaN column entry is skipped")
	assert.InDelta(t, 0.2, cols[1], 1e-12)
	assert.InDelta(t, 0.35, cols[2], 1e-12)
}

func TestScorer_ShapeMismatch(t *testing.T) {
	_, err := NewScorer(ScoreCSLS, 10, 1).Score(context.Background(), mat.NewDense(2, 3, nil), mat.NewDense(2, 4, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	var dimErr *DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 4, dimErr.Actual)
}

func TestScorer_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rng := rand.New(rand.NewSource(3))
	_, err := NewScorer(ScoreCSLS, 5, 2).Score(ctx, randomMatrix(rng, 50, 4), randomMatrix(rng, 50, 4))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCosineMatrix_WorkerCountsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	x := randomMatrix(rng, 37, 5)
	y := randomMatrix(rng, 23, 5)
	normalizeRows(x)
	normalizeRows(y)

	single, err := CosineMatrix(context.Background(), x, y, 1)
	require.NoError(t, err)
	for _, w := range []int{2, 4, 64} {
		got, err := CosineMatrix(context.Background(), x, y, w)
		require.NoError(t, err)
		assert.True(t, mat.Equal(single, got), "workers=%d", w)
	}
}

func BenchmarkScorerCSLS(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	src := randomMatrix(rng, 1000, 64)
	tgt := randomMatrix(rng, 1000, 64)
	s := NewScorer(ScoreCSLS, DefaultCSLSK, 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Score(context.Background(), src, tgt); err != nil {
			b.Fatal(err)
		}
	}
}
