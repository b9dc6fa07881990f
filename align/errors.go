package align

import (
	"errors"
	"fmt"
)

// Every message is prefixed with "align:" so kernel failures are easy to grep in
// host logs. Callers match with errors.Is; typed errors below unwrap to these.
var (
	// ErrShapeMismatch is returned when input dimensions disagree. It is a caller
	// contract violation and is never recovered.
	ErrShapeMismatch = errors.New("align: shape mismatch")

	// ErrDegenerateInput marks a zero-norm vector. Scoring recovers from it locally
	// by treating the similarity as 0; it only surfaces through loaders and stats.
	ErrDegenerateInput = errors.New("align: degenerate input vector")

	// ErrEmptyDictionary is returned when no candidate pairs are available.
	ErrEmptyDictionary = errors.New("align: empty dictionary")

	// ErrNonSquareAssignment is returned when the assignment solver is given a
	// rectangular cost matrix.
	ErrNonSquareAssignment = errors.New("align: assignment cost matrix is not square")

	// ErrInvalidCost is returned when a cost matrix contains NaN or Inf.
	ErrInvalidCost = errors.New("align: cost matrix contains NaN or Inf")

	// ErrIncompleteAssignment means the solver finished without covering every
	// column. A square matrix always has a perfect matching, so this is a bug.
	ErrIncompleteAssignment = errors.New("align: assignment did not reach full coverage")

	// ErrNumericalInstability is returned when the SVD fails or a fit produces
	// non-finite values.
	ErrNumericalInstability = errors.New("align: numerical instability")

	// ErrIterationLimitExceeded reports that refinement hit its iteration cap
	// without converging. It is informational: the best mapping is still returned.
	ErrIterationLimitExceeded = errors.New("align: iteration limit exceeded")

	// ErrStalled reports that refinement stopped after consecutive empty dictionaries.
	ErrStalled = errors.New("align: refinement stalled")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("align: invalid config")
)

// DimensionError describes a shape mismatch between two operands.
type DimensionError struct {
	What     string
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("align: %s dimension mismatch: expected %d, got %d", e.What, e.Expected, e.Actual)
}

func (e *DimensionError) Unwrap() error { return ErrShapeMismatch }

// NumericalError carries diagnostic context for a failed numerical step.
type NumericalError struct {
	Stage     string
	Pairs     int
	Dimension int
	cause     error
}

func (e *NumericalError) Error() string {
	msg := fmt.Sprintf("align: numerical instability in %s (pairs=%d, dim=%d)", e.Stage, e.Pairs, e.Dimension)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *NumericalError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrNumericalInstability}
	}
	return []error{ErrNumericalInstability, e.cause}
}

func dimensionError(what string, expected, actual int) error {
	return &DimensionError{What: what, Expected: expected, Actual: actual}
}
