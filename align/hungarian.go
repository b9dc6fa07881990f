package align

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultZeroTolerance is the default "is this entry zero" threshold used by the
// assignment solver after its reductions. See DESIGN.md for why it is configurable.
const DefaultZeroTolerance = 1e-6

// Assignment is a minimum-cost perfect matching on a square cost matrix.
type Assignment struct {
	Columns []int   // Columns[i] is the column assigned to row i
	Cost    float64 // total cost under the original matrix
}

// HungarianSolver computes exact minimum-cost assignments with the
// Kuhn–Munkres algorithm. It is single-threaded and O(n³) in the worst case.
// The zero value is ready to use.
type HungarianSolver struct {
	// Tolerance below which a reduced entry counts as zero.
	// Values <= 0 select DefaultZeroTolerance.
	Tolerance float64
}

// Hungarian solves cost with the default tolerance.
func Hungarian(cost mat.Matrix) (Assignment, error) {
	return HungarianSolver{}.Solve(cost)
}

// Solve returns the assignment minimizing total cost. cost must be square and
// finite; lower entries are better.
func (h HungarianSolver) Solve(cost mat.Matrix) (Assignment, error) {
	if cost == nil {
		return Assignment{}, fmt.Errorf("%w: nil cost matrix", ErrNonSquareAssignment)
	}
	r, c := cost.Dims()
	if r != c {
		return Assignment{}, fmt.Errorf("%w: %dx%d", ErrNonSquareAssignment, r, c)
	}
	if r == 0 {
		return Assignment{Columns: []int{}}, nil
	}

	tol := h.Tolerance
	if tol <= 0 {
		tol = DefaultZeroTolerance
	}

	m, err := newMunkres(cost, tol)
	if err != nil {
		return Assignment{}, err
	}
	cols, err := m.solve()
	if err != nil {
		return Assignment{}, err
	}

	total := 0.0
	for i, j := range cols {
		total += cost.At(i, j)
	}
	return Assignment{Columns: cols, Cost: total}, nil
}

// munkres holds the working state of one Solve call. Stars and primes are
// stored as index arrays keyed by row or column (-1 means none), covers as
// plain flags. Nothing here outlives the call.
type munkres struct {
	n   int
	c   [][]float64
	tol float64

	starInRow  []int
	starInCol  []int
	primeInRow []int
	rowCovered []bool
	colCovered []bool
}

func newMunkres(cost mat.Matrix, tol float64) (*munkres, error) {
	n, _ := cost.Dims()
	c := make([][]float64, n)
	for i := range c {
		c[i] = make([]float64, n)
		for j := range c[i] {
			v := cost.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: entry (%d,%d) = %v", ErrInvalidCost, i, j, v)
			}
			c[i][j] = v
		}
	}

	m := &munkres{
		n:          n,
		c:          c,
		tol:        tol,
		starInRow:  make([]int, n),
		starInCol:  make([]int, n),
		primeInRow: make([]int, n),
		rowCovered: make([]bool, n),
		colCovered: make([]bool, n),
	}
	for i := 0; i < n; i++ {
		m.starInRow[i] = -1
		m.starInCol[i] = -1
		m.primeInRow[i] = -1
	}
	return m, nil
}

func (m *munkres) isZero(v float64) bool {
	return math.Abs(v) <= m.tol
}

func (m *munkres) solve() ([]int, error) {
	m.reduce()
	m.starInitialZeros()

	// Each phase either primes a zero in a new row, augments, or adjusts, and
	// an adjust always exposes a new uncovered zero. This bound is generous;
	// hitting it means the bookkeeping is broken.
	limit := 4*m.n*m.n + 16
	steps := 0

	for m.coverStarredColumns() < m.n {
		for {
			steps++
			if steps > limit {
				return nil, fmt.Errorf("%w: step limit %d reached", ErrIncompleteAssignment, limit)
			}

			i, j, ok := m.findUncoveredZero()
			if !ok {
				if !m.adjust() {
					return nil, ErrIncompleteAssignment
				}
				continue
			}

			m.primeInRow[i] = j
			if sc := m.starInRow[i]; sc >= 0 {
				m.rowCovered[i] = true
				m.colCovered[sc] = false
				continue
			}

			m.augment(i, j)
			break
		}
	}

	cols := make([]int, m.n)
	copy(cols, m.starInRow)
	for i, j := range cols {
		if j < 0 {
			return nil, fmt.Errorf("%w: row %d unassigned", ErrIncompleteAssignment, i)
		}
	}
	return cols, nil
}

// reduce subtracts each row minimum, then each column minimum.
func (m *munkres) reduce() {
	for i := 0; i < m.n; i++ {
		lo := m.c[i][0]
		for _, v := range m.c[i][1:] {
			lo = math.Min(lo, v)
		}
		for j := range m.c[i] {
			m.c[i][j] -= lo
		}
	}
	for j := 0; j < m.n; j++ {
		lo := m.c[0][j]
		for i := 1; i < m.n; i++ {
			lo = math.Min(lo, m.c[i][j])
		}
		for i := 0; i < m.n; i++ {
			m.c[i][j] -= lo
		}
	}
}

// starInitialZeros stars a maximal set of independent zeros greedily.
func (m *munkres) starInitialZeros() {
	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			if m.starInCol[j] < 0 && m.isZero(m.c[i][j]) {
				m.starInRow[i] = j
				m.starInCol[j] = i
				break
			}
		}
	}
}

// coverStarredColumns clears all covers and primes, covers every column that
// holds a starred zero and returns how many are covered.
func (m *munkres) coverStarredColumns() int {
	covered := 0
	for k := 0; k < m.n; k++ {
		m.rowCovered[k] = false
		m.primeInRow[k] = -1
		m.colCovered[k] = m.starInCol[k] >= 0
		if m.colCovered[k] {
			covered++
		}
	}
	return covered
}

func (m *munkres) findUncoveredZero() (int, int, bool) {
	for i := 0; i < m.n; i++ {
		if m.rowCovered[i] {
			continue
		}
		for j := 0; j < m.n; j++ {
			if !m.colCovered[j] && m.isZero(m.c[i][j]) {
				return i, j, true
			}
		}
	}
	return -1, -1, false
}

// adjust subtracts the smallest uncovered entry from every uncovered cell and
// adds it to every doubly covered cell. Stars and primes are never in either
// set, so they stay zero. Returns false when nothing is uncovered.
func (m *munkres) adjust() bool {
	lo := math.Inf(1)
	for i := 0; i < m.n; i++ {
		if m.rowCovered[i] {
			continue
		}
		for j := 0; j < m.n; j++ {
			if !m.colCovered[j] && m.c[i][j] < lo {
				lo = m.c[i][j]
			}
		}
	}
	if math.IsInf(lo, 1) {
		return false
	}

	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			switch {
			case !m.rowCovered[i] && !m.colCovered[j]:
				m.c[i][j] -= lo
			case m.rowCovered[i] && m.colCovered[j]:
				m.c[i][j] += lo
			}
		}
	}
	return true
}

// augment flips the alternating prime/star path that starts at the primed zero
// (row, col): stars on the path are removed and primes become stars, which
// increases the number of stars by one.
func (m *munkres) augment(row, col int) {
	type cell struct{ r, c int }
	path := []cell{{row, col}}
	for {
		last := path[len(path)-1]
		r := m.starInCol[last.c]
		if r < 0 {
			break
		}
		path = append(path, cell{r, last.c})
		path = append(path, cell{r, m.primeInRow[r]})
	}

	for k := 1; k < len(path); k += 2 {
		p := path[k]
		m.starInRow[p.r] = -1
		m.starInCol[p.c] = -1
	}
	for k := 0; k < len(path); k += 2 {
		p := path[k]
		m.starInRow[p.r] = p.c
		m.starInCol[p.c] = p.r
	}
}

// HungarianDictionary selects pairs by globally optimal assignment instead of
// mutual best match. The similarity matrix may be rectangular: it is turned into
// a square cost matrix (maxScore − score) padded with dummy rows or columns of
// constant cost, which do not change the optimum among real pairs. Only real
// pairs are returned, as a Dictionary capped at maxPairs.
func HungarianDictionary(sim *SimilarityMatrix, maxPairs int, tol float64) (Dictionary, error) {
	n, m := sim.Dims()
	size := max(n, m)

	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		for _, v := range sim.Scores.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return Dictionary{}, nil
	}
	worst := hi - lo + 1

	cost := mat.NewDense(size, size, nil)
	for i := 0; i < n; i++ {
		row := sim.Scores.RawRowView(i)
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				cost.Set(i, j, worst)
				continue
			}
			cost.Set(i, j, hi-v)
		}
	}

	a, err := HungarianSolver{Tolerance: tol}.Solve(cost)
	if err != nil {
		return nil, err
	}

	pairs := make([]CandidatePair, 0, min(n, m))
	for i := 0; i < n; i++ {
		j := a.Columns[i]
		if j >= m {
			continue
		}
		pairs = append(pairs, CandidatePair{Source: i, Target: j, Score: sim.At(i, j)})
	}
	return NewDictionary(pairs, maxPairs), nil
}
