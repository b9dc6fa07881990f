package align

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// EmbeddingSpace is an ordered set of d-dimensional vectors, one row per token
// index. It is immutable once built; alignment only changes the mapping applied
// to it.
type EmbeddingSpace struct {
	vectors *mat.Dense
	tokens  []string
	index   map[string]int
}

// NewEmbeddingSpace wraps an n×d matrix. tokens may be nil; otherwise it must
// have one entry per row. The matrix is copied.
func NewEmbeddingSpace(vectors mat.Matrix, tokens []string) (*EmbeddingSpace, error) {
	if vectors == nil {
		return nil, fmt.Errorf("%w: nil vectors", ErrShapeMismatch)
	}
	n, d := vectors.Dims()
	if n == 0 || d == 0 {
		return nil, fmt.Errorf("%w: empty embedding space (%dx%d)", ErrShapeMismatch, n, d)
	}
	if tokens != nil && len(tokens) != n {
		return nil, dimensionError("token list", n, len(tokens))
	}

	e := &EmbeddingSpace{vectors: mat.DenseCopyOf(vectors)}
	if tokens != nil {
		e.tokens = append([]string(nil), tokens...)
		e.index = make(map[string]int, n)
		for i, t := range e.tokens {
			if _, dup := e.index[t]; !dup {
				e.index[t] = i
			}
		}
	}
	return e, nil
}

// NewEmbeddingSpaceFromRows builds a space from row vectors of equal length.
func NewEmbeddingSpaceFromRows(rows [][]float64, tokens []string) (*EmbeddingSpace, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%w: empty embedding space", ErrShapeMismatch)
	}
	d := len(rows[0])
	m := mat.NewDense(len(rows), d, nil)
	for i, r := range rows {
		if len(r) != d {
			return nil, dimensionError(fmt.Sprintf("row %d", i), d, len(r))
		}
		m.SetRow(i, r)
	}
	return NewEmbeddingSpace(m, tokens)
}

// Len returns the number of vectors.
func (e *EmbeddingSpace) Len() int {
	n, _ := e.vectors.Dims()
	return n
}

// Dim returns the vector dimensionality.
func (e *EmbeddingSpace) Dim() int {
	_, d := e.vectors.Dims()
	return d
}

// Vectors returns a read-only view of the n×d matrix.
func (e *EmbeddingSpace) Vectors() mat.Matrix {
	return e.vectors
}

// Vector returns a copy of row i.
func (e *EmbeddingSpace) Vector(i int) []float64 {
	return mat.Row(nil, i, e.vectors)
}

// Token returns the token string for index i, or "" when the space has no tokens.
func (e *EmbeddingSpace) Token(i int) string {
	if e.tokens == nil || i < 0 || i >= len(e.tokens) {
		return ""
	}
	return e.tokens[i]
}

// Tokens returns the token list (nil when the space is anonymous).
func (e *EmbeddingSpace) Tokens() []string {
	return e.tokens
}

// Index looks up the first index of token.
func (e *EmbeddingSpace) Index(token string) (int, bool) {
	i, ok := e.index[token]
	return i, ok
}

// Normalized returns a copy with unit-length rows. When center is true the rows
// are normalized, mean-centered and normalized again. Zero-norm rows stay zero;
// their count is returned.
func (e *EmbeddingSpace) Normalized(center bool) (*EmbeddingSpace, int) {
	out := mat.DenseCopyOf(e.vectors)
	degenerate := normalizeRows(out)
	if center {
		centerColumns(out)
		degenerate = normalizeRows(out)
	}
	return &EmbeddingSpace{vectors: out, tokens: e.tokens, index: e.index}, degenerate
}

// Mapped applies the d×d mapping r to every vector: row form X·Rᵀ.
func (e *EmbeddingSpace) Mapped(r mat.Matrix) (*mat.Dense, error) {
	d := e.Dim()
	rr, rc := r.Dims()
	if rr != d || rc != d {
		return nil, dimensionError("mapping", d, rr)
	}
	var out mat.Dense
	out.Mul(e.vectors, r.T())
	return &out, nil
}

// Rows gathers the given row indices into a new len(idx)×d matrix.
func (e *EmbeddingSpace) Rows(idx []int) *mat.Dense {
	return gatherRows(e.vectors, idx)
}

func gatherRows(m *mat.Dense, idx []int) *mat.Dense {
	_, d := m.Dims()
	if len(idx) == 0 {
		return nil
	}
	out := mat.NewDense(len(idx), d, nil)
	for k, i := range idx {
		out.SetRow(k, m.RawRowView(i))
	}
	return out
}

// normalizeRows scales every row of m to unit length in place. Rows whose norm
// is zero or non-finite are set to zero. Returns the number of such rows.
func normalizeRows(m *mat.Dense) int {
	n, _ := m.Dims()
	degenerate := 0
	for i := 0; i < n; i++ {
		if !normalizeInPlace(m.RawRowView(i)) {
			degenerate++
		}
	}
	return degenerate
}

// normalizeInPlace reports false when v had no usable norm, in which case v is zeroed.
func normalizeInPlace(v []float64) bool {
	norm := floats.Norm(v, 2)
	if !(norm > 0) || math.IsInf(norm, 0) {
		for k := range v {
			v[k] = 0
		}
		return false
	}
	floats.Scale(1/norm, v)
	return true
}

func centerColumns(m *mat.Dense) {
	n, d := m.Dims()
	mean := make([]float64, d)
	for i := 0; i < n; i++ {
		floats.Add(mean, m.RawRowView(i))
	}
	floats.Scale(1/float64(n), mean)
	for i := 0; i < n; i++ {
		floats.Sub(m.RawRowView(i), mean)
	}
}
