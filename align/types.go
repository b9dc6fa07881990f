package align

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
)

// CandidatePair is a tentative translation hypothesis.
type CandidatePair struct {
	Source int     `json:"source"`
	Target int     `json:"target"`
	Score  float64 `json:"score"`
}

// Dictionary is an ordered set of pairs: unique by Source, sorted by descending
// score and capped in size. Build one with NewDictionary.
type Dictionary []CandidatePair

// NewDictionary deduplicates pairs by source index (highest score wins, lower
// target on ties), sorts them by descending score and keeps at most maxPairs.
// maxPairs <= 0 means no cap. Pairs with a NaN score are dropped.
func NewDictionary(pairs []CandidatePair, maxPairs int) Dictionary {
	best := make(map[int]CandidatePair, len(pairs))
	for _, p := range pairs {
		if math.IsNaN(p.Score) {
			continue
		}
		cur, ok := best[p.Source]
		if !ok || p.Score > cur.Score || (p.Score == cur.Score && p.Target < cur.Target) {
			best[p.Source] = p
		}
	}

	d := make(Dictionary, 0, len(best))
	for _, p := range best {
		d = append(d, p)
	}
	sort.Slice(d, func(i, j int) bool {
		if d[i].Score != d[j].Score {
			return d[i].Score > d[j].Score
		}
		if d[i].Source != d[j].Source {
			return d[i].Source < d[j].Source
		}
		return d[i].Target < d[j].Target
	})

	if maxPairs > 0 && len(d) > maxPairs {
		d = d[:maxPairs]
	}
	return d
}

// TotalScore is the sum of pair scores.
func (d Dictionary) TotalScore() float64 {
	total := 0.0
	for _, p := range d {
		total += p.Score
	}
	return total
}

// Sources returns the source indices in dictionary order.
func (d Dictionary) Sources() []int {
	out := make([]int, len(d))
	for i, p := range d {
		out[i] = p.Source
	}
	return out
}

// Targets returns the target indices in dictionary order.
func (d Dictionary) Targets() []int {
	out := make([]int, len(d))
	for i, p := range d {
		out[i] = p.Target
	}
	return out
}

// Equal reports whether both dictionaries hold the same pairs in the same order.
func (d Dictionary) Equal(other Dictionary) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		if d[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (d Dictionary) Clone() Dictionary {
	if d == nil {
		return nil
	}
	return append(Dictionary(nil), d...)
}

// Status is the terminal state of a refinement run.
type Status int

const (
	StatusConverged Status = iota
	StatusIterationLimit
	StatusStalled
	StatusCanceled
	StatusNumericalFailure
)

var statusNames = map[Status]string{
	StatusConverged:        "converged",
	StatusIterationLimit:   "iteration-limit",
	StatusStalled:          "stalled",
	StatusCanceled:         "canceled",
	StatusNumericalFailure: "numerical-failure",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	for k, v := range statusNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// IterationStats records one pass of the refinement loop.
type IterationStats struct {
	Iteration     int           `json:"iteration"`
	Pairs         int           `json:"pairs"`
	MatchedScore  float64       `json:"matchedScore"`
	MatchedCosine float64       `json:"matchedCosine"`
	Structural    float64       `json:"structural"`
	MappingDelta  float64       `json:"mappingDelta"`
	Duration      time.Duration `json:"duration"`
}

// Result is the outcome of a refinement run. Mapping and Dictionary belong to
// the best iteration observed, which is not necessarily the last one.
type Result struct {
	Mapping       *mat.Dense
	Dictionary    Dictionary
	Status        Status
	Iterations    int
	BestIteration int
	MatchedScore  float64
	MatchedCosine float64
	Structural    float64
	History       []IterationStats

	cause error
}

// Converged reports whether the run reached its convergence criterion.
func (r *Result) Converged() bool {
	return r.Status == StatusConverged
}

// Err maps a non-converged status to an error. The result stays usable: it
// always carries the best mapping seen.
func (r *Result) Err() error {
	switch r.Status {
	case StatusConverged:
		return nil
	case StatusIterationLimit:
		return fmt.Errorf("%w after %d iterations", ErrIterationLimitExceeded, r.Iterations)
	case StatusStalled:
		return fmt.Errorf("%w at iteration %d: %w", ErrStalled, r.Iterations, ErrEmptyDictionary)
	default:
		return r.cause
	}
}
