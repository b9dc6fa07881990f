package align

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_StringAndParse(t *testing.T) {
	for _, s := range []Status{StatusConverged, StatusIterationLimit, StatusStalled, StatusCanceled, StatusNumericalFailure} {
		got, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	assert.Equal(t, "Status(42)", Status(42).String())
	_, err := ParseStatus("finished")
	assert.Error(t, err)
}

func TestResult_Err(t *testing.T) {
	assert.NoError(t, (&Result{Status: StatusConverged}).Err())

	err := (&Result{Status: StatusIterationLimit, Iterations: 50}).Err()
	assert.ErrorIs(t, err, ErrIterationLimitExceeded)
	assert.Contains(t, err.Error(), "50")

	err = (&Result{Status: StatusStalled, Iterations: 3}).Err()
	assert.ErrorIs(t, err, ErrStalled)
	assert.ErrorIs(t, err, ErrEmptyDictionary)

	cause := errors.Join(ErrNumericalInstability, errors.New("svd"))
	err = (&Result{Status: StatusNumericalFailure, cause: cause}).Err()
	assert.ErrorIs(t, err, ErrNumericalInstability)
}

func TestDictionary_Equal(t *testing.T) {
	a := Dictionary{{Source: 0, Target: 1, Score: 0.5}}
	assert.True(t, a.Equal(a.Clone()))
	assert.False(t, a.Equal(Dictionary{{Source: 0, Target: 2, Score: 0.5}}))
	assert.False(t, a.Equal(nil))
	assert.True(t, Dictionary{}.Equal(nil))
}

func TestErrors(t *testing.T) {
	err := dimensionError("mapping", 3, 4)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.EqualError(t, err, "align: mapping dimension mismatch: expected 3, got 4")

	numErr := &NumericalError{Stage: "svd", Pairs: 5, Dimension: 2, cause: fmt.Errorf("did not converge")}
	assert.ErrorIs(t, numErr, ErrNumericalInstability)
	assert.Contains(t, numErr.Error(), "svd (pairs=5, dim=2): did not converge")
	assert.ErrorIs(t, &NumericalError{Stage: "rotation"}, ErrNumericalInstability)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, slog.LevelInfo).WithComponent("test").WithDimension(300)

	logger.LogIteration(context.Background(), IterationStats{Iteration: 1})
	assert.Empty(t, buf.String(), "iterations log at debug level")

	logger.LogStall(context.Background(), 4, 2)
	assert.Contains(t, buf.String(), "empty dictionary")
	assert.Contains(t, buf.String(), "component=test")
	assert.Contains(t, buf.String(), "dimension=300")

	buf.Reset()
	res := &Result{Status: StatusNumericalFailure, Iterations: 2}
	logger.LogResult(context.Background(), res, errors.New("boom"))
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "status=numerical-failure")

	NoopLogger().LogStall(context.Background(), 1, 1)
	assert.NotNil(t, NewLogger(nil))
}

func TestResultState(t *testing.T) {
	st := NewResultState()
	assert.False(t, st.HasResults())
	_, _, ok := st.Default()
	assert.False(t, ok)

	st.Update("en-de", &ResultRecord{Status: "converged"})
	name, rec, ok := st.Default()
	require.True(t, ok)
	assert.Equal(t, "en-de", name)
	assert.Equal(t, "converged", rec.Status)

	st.Update("en-fr", &ResultRecord{Status: "stalled"})
	st.Update("en-de", &ResultRecord{Status: "iteration-limit"})
	_, _, ok = st.Default()
	assert.False(t, ok)
	assert.Equal(t, []string{"en-de", "en-fr"}, st.Names())

	rec, ok = st.Get("en-de")
	require.True(t, ok)
	assert.Equal(t, "iteration-limit", rec.Status)
	_, ok = st.Get("xx")
	assert.False(t, ok)
}
