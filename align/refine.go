package align

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Refiner runs the self-learning loop: map, score, mine a dictionary, refit
// the mapping with Procrustes, repeat until the mapping stops moving.
type Refiner struct {
	cfg        Config
	logger     *Logger
	scorer     *Scorer
	procrustes ProcrustesSolver
	rng        *rand.Rand
}

// Option configures a Refiner.
type Option func(*Refiner)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *Logger) Option {
	return func(r *Refiner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRand sets the source used by the random initial mapping.
func WithRand(rng *rand.Rand) Option {
	return func(r *Refiner) {
		if rng != nil {
			r.rng = rng
		}
	}
}

// NewRefiner validates cfg and returns a ready Refiner. Zero numeric fields
// take their DefaultConfig values.
func NewRefiner(cfg Config, opts ...Option) (*Refiner, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Refiner{
		cfg:    cfg,
		logger: NoopLogger(),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("refiner")
	r.scorer = NewScorer(cfg.Scoring, cfg.CSLSK, cfg.Workers)
	r.procrustes = ProcrustesSolver{ProperRotation: cfg.EnforceProperRotation, Logger: r.logger}
	return r, nil
}

// Config returns the effective configuration.
func (r *Refiner) Config() Config {
	return r.cfg
}

// best is the best-so-far record owned by one Align call.
type best struct {
	valid      bool
	objective  float64
	iteration  int
	mapping    *mat.Dense
	dict       Dictionary
	score      float64
	cosine     float64
	structural float64
}

// Align estimates an orthogonal map from src into tgt. seed may be empty; when
// present it bootstraps the mapping through Procrustes instead of the
// configured init policy.
//
// Shape problems are returned as errors without a Result. Every other outcome
// returns a Result holding the best mapping seen and a Status; only
// cancellation also returns a non-nil error (the context's). Use Result.Err to
// turn a non-converged status into an error.
func (r *Refiner) Align(ctx context.Context, src, tgt *EmbeddingSpace, seed Dictionary) (*Result, error) {
	if src == nil || tgt == nil {
		return nil, fmt.Errorf("%w: nil embedding space", ErrShapeMismatch)
	}
	if src.Dim() != tgt.Dim() {
		return nil, dimensionError("embedding dimension", src.Dim(), tgt.Dim())
	}
	d := src.Dim()
	log := r.logger.WithDimension(d)

	srcN, degSrc := src.Normalized(r.cfg.Center)
	tgtN, degTgt := tgt.Normalized(r.cfg.Center)
	if degSrc+degTgt > 0 {
		log.WarnContext(ctx, "zero-norm vectors scored as 0",
			"source", degSrc,
			"target", degTgt,
		)
	}
	srcLive := liveRows(srcN.vectors)
	tgtLive := liveRows(tgtN.vectors)

	current, err := r.initialize(ctx, srcN, tgtN, seed)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var top best
	var prevScore, prevStructural float64
	havePrev := false
	stalls := 0

	for it := 1; it <= r.cfg.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, res, top, current, StatusCanceled, err), err
		}
		res.Iterations = it
		start := time.Now()

		mapped, err := srcN.Mapped(current)
		if err != nil {
			return nil, err
		}
		sim, err := r.scorer.Score(ctx, mapped, tgtN.vectors)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.finish(ctx, res, top, current, StatusCanceled, ctxErr), ctxErr
			}
			return nil, err
		}

		dict, err := r.selectPairs(sim)
		if err != nil {
			return r.finish(ctx, res, top, current, StatusNumericalFailure, err), nil
		}
		dict = dropDegenerate(dict, srcLive, tgtLive)

		stats := IterationStats{Iteration: it, Pairs: len(dict)}
		if len(dict) == 0 {
			stalls++
			log.LogStall(ctx, it, stalls)
			stats.Duration = time.Since(start)
			res.History = append(res.History, stats)
			if stalls >= r.cfg.MaxStalls {
				return r.finish(ctx, res, top, current, StatusStalled, nil), nil
			}
			continue
		}
		stalls = 0

		stats.MatchedScore = dict.TotalScore()
		stats.MatchedCosine = matchedCosine(mapped, tgtN.vectors, dict)
		if r.cfg.Convergence != ConvergeScore {
			stats.Structural, err = StructuralDistance(ctx, mapped, tgtN.vectors, dict, r.cfg.StructureSample, r.cfg.Workers)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return r.finish(ctx, res, top, current, StatusCanceled, ctxErr), ctxErr
				}
				return nil, err
			}
		}

		if obj := r.objective(stats); !top.valid || obj > top.objective {
			top = best{
				valid:      true,
				objective:  obj,
				iteration:  it,
				mapping:    mat.DenseCopyOf(current),
				dict:       dict,
				score:      stats.MatchedScore,
				cosine:     stats.MatchedCosine,
				structural: stats.Structural,
			}
		}

		fit, err := r.procrustes.FitDictionary(ctx, srcN.vectors, tgtN.vectors, dict)
		if err != nil {
			stats.Duration = time.Since(start)
			res.History = append(res.History, stats)
			return r.finish(ctx, res, top, current, StatusNumericalFailure, err), nil
		}

		stats.MappingDelta = MappingDistance(fit.Mapping, current)
		stats.Duration = time.Since(start)
		res.History = append(res.History, stats)
		log.LogIteration(ctx, stats)

		// A fixed point ends the run at once; otherwise compare the
		// aggregate metric against the previous non-empty iteration.
		converged := stats.MappingDelta < r.cfg.ConvergenceEpsilon
		if !converged && havePrev {
			converged = r.metricSettled(prevScore, prevStructural, stats)
		}
		prevScore, prevStructural, havePrev = stats.MatchedScore, stats.Structural, true
		current = fit.Mapping

		if converged {
			return r.finish(ctx, res, top, current, StatusConverged, nil), nil
		}
	}

	return r.finish(ctx, res, top, current, StatusIterationLimit, nil), nil
}

func (r *Refiner) initialize(ctx context.Context, src, tgt *EmbeddingSpace, seed Dictionary) (*mat.Dense, error) {
	d := src.Dim()
	if len(seed) == 0 {
		return initialMapping(r.cfg.Init, d, r.rng), nil
	}
	for _, p := range seed {
		if p.Source < 0 || p.Source >= src.Len() || p.Target < 0 || p.Target >= tgt.Len() {
			return nil, fmt.Errorf("%w: seed pair (%d,%d) outside %dx%d", ErrShapeMismatch, p.Source, p.Target, src.Len(), tgt.Len())
		}
	}
	fit, err := r.procrustes.FitDictionary(ctx, src.vectors, tgt.vectors, seed)
	if err != nil {
		return nil, fmt.Errorf("seed dictionary: %w", err)
	}
	r.logger.InfoContext(ctx, "mapping seeded", "pairs", fit.Pairs, "rank_deficient", fit.RankDeficient)
	return fit.Mapping, nil
}

func (r *Refiner) selectPairs(sim *SimilarityMatrix) (Dictionary, error) {
	if r.cfg.PairSelection == SelectHungarian {
		return HungarianDictionary(sim, r.cfg.MaxPairs, r.cfg.Tolerance)
	}
	return MutualNeighbors(sim, r.cfg.MaxPairs), nil
}

// objective ranks iterations; higher is better.
func (r *Refiner) objective(s IterationStats) float64 {
	if r.cfg.Convergence == ConvergeStructural {
		return -s.Structural
	}
	return s.MatchedScore
}

func (r *Refiner) metricSettled(prevScore, prevStructural float64, s IterationStats) bool {
	scoreOK := relativeChange(prevScore, s.MatchedScore) < r.cfg.ConvergenceEpsilon
	structOK := relativeChange(prevStructural, s.Structural) < r.cfg.ConvergenceEpsilon
	switch r.cfg.Convergence {
	case ConvergeStructural:
		return structOK
	case ConvergeBoth:
		return scoreOK && structOK
	default:
		return scoreOK
	}
}

func (r *Refiner) finish(ctx context.Context, res *Result, top best, current *mat.Dense, status Status, cause error) *Result {
	res.Status = status
	if top.valid {
		res.Mapping = top.mapping
		res.Dictionary = top.dict
		res.BestIteration = top.iteration
		res.MatchedScore = top.score
		res.MatchedCosine = top.cosine
		res.Structural = top.structural
	} else {
		res.Mapping = mat.DenseCopyOf(current)
		res.Dictionary = Dictionary{}
	}

	switch status {
	case StatusCanceled:
		res.cause = fmt.Errorf("refinement canceled at iteration %d: %w", res.Iterations, cause)
	case StatusNumericalFailure:
		if !errors.Is(cause, ErrNumericalInstability) {
			cause = errors.Join(ErrNumericalInstability, cause)
		}
		res.cause = fmt.Errorf("iteration %d: %w", res.Iterations, cause)
	}

	r.logger.LogResult(ctx, res, res.cause)
	return res
}

func relativeChange(prev, cur float64) float64 {
	den := math.Max(math.Abs(prev), 1e-12)
	return math.Abs(cur-prev) / den
}

// matchedCosine sums cos(mapped source, target) over the dictionary.
func matchedCosine(mapped, tgt *mat.Dense, dict Dictionary) float64 {
	total := 0.0
	for _, p := range dict {
		total += Cosine(mapped.RawRowView(p.Source), tgt.RawRowView(p.Target))
	}
	return total
}

// liveRows flags rows with a non-zero norm.
func liveRows(m *mat.Dense) []bool {
	n, _ := m.Dims()
	live := make([]bool, n)
	for i := range live {
		live[i] = floats.Norm(m.RawRowView(i), 2) > 0
	}
	return live
}

// dropDegenerate removes pairs touching a zero vector; their 0 score carries no signal.
func dropDegenerate(dict Dictionary, srcLive, tgtLive []bool) Dictionary {
	out := dict[:0:0]
	for _, p := range dict {
		if srcLive[p.Source] && tgtLive[p.Target] {
			out = append(out, p)
		}
	}
	return out
}
