package align

import "math"

// BestTargets returns, for every source row, the column with the highest score.
// Ties go to the lowest column index; NaN never wins. A row of only NaN maps to -1.
func BestTargets(sim *SimilarityMatrix) []int {
	n, _ := sim.Dims()
	best := make([]int, n)
	for i := 0; i < n; i++ {
		best[i] = argMax(sim.Scores.RawRowView(i))
	}
	return best
}

// BestSources returns, for every target column, the row with the highest score,
// with the same tie and NaN rules as BestTargets.
func BestSources(sim *SimilarityMatrix) []int {
	n, m := sim.Dims()
	raw := sim.Scores.RawMatrix()
	best := make([]int, m)
	bestScore := make([]float64, m)
	for j := range best {
		best[j] = -1
		bestScore[j] = math.Inf(-1)
	}
	// Row-major sweep keeps memory access sequential. Strict > keeps the
	// lowest row on ties.
	for i := 0; i < n; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+m]
		for j, v := range row {
			if v > bestScore[j] || (best[j] < 0 && !math.IsNaN(v)) {
				best[j] = i
				bestScore[j] = v
			}
		}
	}
	return best
}

func argMax(row []float64) int {
	best := -1
	bestScore := math.Inf(-1)
	for j, v := range row {
		if v > bestScore || (best < 0 && !math.IsNaN(v)) {
			best = j
			bestScore = v
		}
	}
	return best
}

// MutualNeighbors mines a dictionary of strict mutual best matches: (i, j) is
// kept iff j is i's arg-max and i is j's arg-max. The result is sorted by
// descending score and truncated to maxPairs (<= 0 means no cap). It is empty
// when no mutual pair exists.
func MutualNeighbors(sim *SimilarityMatrix, maxPairs int) Dictionary {
	fwd := BestTargets(sim)
	bwd := BestSources(sim)

	pairs := make([]CandidatePair, 0, len(fwd))
	for i, j := range fwd {
		if j < 0 || bwd[j] != i {
			continue
		}
		pairs = append(pairs, CandidatePair{Source: i, Target: j, Score: sim.At(i, j)})
	}
	return NewDictionary(pairs, maxPairs)
}
