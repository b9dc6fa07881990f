package align

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with alignment-specific helpers so every component
// emits the same field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, a text handler at info level writing to stderr is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger that writes human-readable lines to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewWriterLogger(os.Stderr, level)
}

// NewWriterLogger creates a text Logger writing to w.
func NewWriterLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all output. It is the kernel default;
// the host application decides what gets logged.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1000)}))
}

// WithComponent tags the logger with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{Logger: l.Logger.With("dimension", dim)}
}

// LogIteration logs the outcome of one refinement iteration.
func (l *Logger) LogIteration(ctx context.Context, s IterationStats) {
	l.DebugContext(ctx, "refinement iteration",
		"iteration", s.Iteration,
		"pairs", s.Pairs,
		"matched_score", s.MatchedScore,
		"matched_cosine", s.MatchedCosine,
		"structural", s.Structural,
		"mapping_delta", s.MappingDelta,
		"duration", s.Duration,
	)
}

// LogStall logs an iteration that produced no pairs.
func (l *Logger) LogStall(ctx context.Context, iteration, consecutive int) {
	l.WarnContext(ctx, "empty dictionary",
		"iteration", iteration,
		"consecutive", consecutive,
	)
}

// LogRankDeficient logs a Procrustes fit with fewer pairs than dimensions.
func (l *Logger) LogRankDeficient(ctx context.Context, pairs, dim int) {
	l.WarnContext(ctx, "procrustes fit is rank deficient",
		"pairs", pairs,
		"dimension", dim,
	)
}

// LogResult logs the final outcome of a refinement run.
func (l *Logger) LogResult(ctx context.Context, r *Result, err error) {
	if err != nil {
		l.ErrorContext(ctx, "refinement failed",
			"status", r.Status.String(),
			"iterations", r.Iterations,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "refinement finished",
		"status", r.Status.String(),
		"iterations", r.Iterations,
		"best_iteration", r.BestIteration,
		"pairs", len(r.Dictionary),
		"matched_score", r.MatchedScore,
	)
}
