package align

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

// ScoreMetric selects how pairwise similarity is scored.
type ScoreMetric int

const (
	ScoreCosine ScoreMetric = iota
	ScoreCSLS
)

// PairSelection selects how each iteration mines its dictionary.
type PairSelection int

const (
	SelectMutualNN PairSelection = iota
	SelectHungarian
)

// InitPolicy selects the starting mapping when no seed dictionary is given.
type InitPolicy int

const (
	InitIdentity InitPolicy = iota
	InitRandom
)

// ConvergenceMetric selects the aggregate compared between iterations.
type ConvergenceMetric int

const (
	ConvergeScore ConvergenceMetric = iota
	ConvergeStructural
	ConvergeBoth
)

var (
	scoreMetricNames   = []string{"cosine", "csls"}
	pairSelectionNames = []string{"mutual-nn", "hungarian"}
	initPolicyNames    = []string{"identity", "random"}
	convergenceNames   = []string{"score", "structural", "both"}
)

func enumString(names []string, v int, kind string) string {
	if v >= 0 && v < len(names) {
		return names[v]
	}
	return fmt.Sprintf("%s(%d)", kind, v)
}

func parseEnum(names []string, s, kind string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown %s %q (want one of %s)", ErrInvalidConfig, kind, s, strings.Join(names, ", "))
}

func unmarshalEnum(value *yaml.Node, names []string, kind string) (int, error) {
	var s string
	if err := value.Decode(&s); err != nil {
		return 0, err
	}
	return parseEnum(names, s, kind)
}

func (m ScoreMetric) String() string { return enumString(scoreMetricNames, int(m), "ScoreMetric") }

// ParseScoreMetric parses "cosine" or "csls".
func ParseScoreMetric(s string) (ScoreMetric, error) {
	v, err := parseEnum(scoreMetricNames, s, "scoring")
	return ScoreMetric(v), err
}

func (m ScoreMetric) MarshalYAML() (interface{}, error) { return m.String(), nil }

func (m *ScoreMetric) UnmarshalYAML(value *yaml.Node) error {
	v, err := unmarshalEnum(value, scoreMetricNames, "scoring")
	*m = ScoreMetric(v)
	return err
}

func (p PairSelection) String() string {
	return enumString(pairSelectionNames, int(p), "PairSelection")
}

// ParsePairSelection parses "mutual-nn" or "hungarian".
func ParsePairSelection(s string) (PairSelection, error) {
	v, err := parseEnum(pairSelectionNames, s, "pairSelection")
	return PairSelection(v), err
}

func (p PairSelection) MarshalYAML() (interface{}, error) { return p.String(), nil }

func (p *PairSelection) UnmarshalYAML(value *yaml.Node) error {
	v, err := unmarshalEnum(value, pairSelectionNames, "pairSelection")
	*p = PairSelection(v)
	return err
}

func (p InitPolicy) String() string { return enumString(initPolicyNames, int(p), "InitPolicy") }

func (p InitPolicy) MarshalYAML() (interface{}, error) { return p.String(), nil }

func (p *InitPolicy) UnmarshalYAML(value *yaml.Node) error {
	v, err := unmarshalEnum(value, initPolicyNames, "init")
	*p = InitPolicy(v)
	return err
}

func (c ConvergenceMetric) String() string {
	return enumString(convergenceNames, int(c), "ConvergenceMetric")
}

func (c ConvergenceMetric) MarshalYAML() (interface{}, error) { return c.String(), nil }

func (c *ConvergenceMetric) UnmarshalYAML(value *yaml.Node) error {
	v, err := unmarshalEnum(value, convergenceNames, "convergence")
	*c = ConvergenceMetric(v)
	return err
}

// Config holds the refinement options.
type Config struct {
	CSLSK                 int               `yaml:"cslsK" json:"cslsK"`
	MaxPairs              int               `yaml:"maxPairs" json:"maxPairs"` // 0 means no cap
	MaxIterations         int               `yaml:"maxIterations" json:"maxIterations"`
	ConvergenceEpsilon    float64           `yaml:"convergenceEpsilon" json:"convergenceEpsilon"`
	PairSelection         PairSelection     `yaml:"pairSelection" json:"pairSelection"`
	EnforceProperRotation bool              `yaml:"enforceProperRotation" json:"enforceProperRotation"`
	Scoring               ScoreMetric       `yaml:"scoring" json:"scoring"`
	Init                  InitPolicy        `yaml:"init" json:"init"`
	Convergence           ConvergenceMetric `yaml:"convergence" json:"convergence"`
	Center                bool              `yaml:"center" json:"center"`        // mean-center once before alignment
	Workers               int               `yaml:"workers" json:"workers"`      // 0 means runtime.NumCPU()
	Tolerance             float64           `yaml:"tolerance" json:"tolerance"`  // assignment zero test
	Seed                  int64             `yaml:"seed" json:"seed"`            // random init seed
	StructureSample       int               `yaml:"structureSample" json:"structureSample"`
	MaxStalls             int               `yaml:"maxStalls" json:"maxStalls"` // consecutive empty dictionaries before giving up
}

// DefaultConfig returns the standard refinement settings.
func DefaultConfig() Config {
	return Config{
		CSLSK:                 DefaultCSLSK,
		MaxPairs:              5000,
		MaxIterations:         50,
		ConvergenceEpsilon:    1e-6,
		PairSelection:         SelectMutualNN,
		EnforceProperRotation: true,
		Scoring:               ScoreCSLS,
		Init:                  InitIdentity,
		Convergence:           ConvergeScore,
		Tolerance:             DefaultZeroTolerance,
		Seed:                  1,
		StructureSample:       DefaultStructureSample,
		MaxStalls:             2,
	}
}

// withDefaults fills unset numeric fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CSLSK == 0 {
		c.CSLSK = def.CSLSK
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.ConvergenceEpsilon == 0 {
		c.ConvergenceEpsilon = def.ConvergenceEpsilon
	}
	if c.Tolerance == 0 {
		c.Tolerance = def.Tolerance
	}
	if c.StructureSample == 0 {
		c.StructureSample = def.StructureSample
	}
	if c.MaxStalls == 0 {
		c.MaxStalls = def.MaxStalls
	}
	return c
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.CSLSK < 1, "cslsK must be positive, got %d", c.CSLSK)
	check(c.MaxPairs < 0, "maxPairs must not be negative, got %d", c.MaxPairs)
	check(c.MaxIterations < 1, "maxIterations must be positive, got %d", c.MaxIterations)
	check(!(c.ConvergenceEpsilon > 0) || math.IsInf(c.ConvergenceEpsilon, 0),
		"convergenceEpsilon must be a positive number, got %v", c.ConvergenceEpsilon)
	check(!(c.Tolerance > 0) || math.IsInf(c.Tolerance, 0),
		"tolerance must be a positive number, got %v", c.Tolerance)
	check(c.Workers < 0, "workers must not be negative, got %d", c.Workers)
	check(c.StructureSample < 1, "structureSample must be positive, got %d", c.StructureSample)
	check(c.MaxStalls < 1, "maxStalls must be positive, got %d", c.MaxStalls)
	check(c.PairSelection < SelectMutualNN || c.PairSelection > SelectHungarian, "unknown pairSelection %d", int(c.PairSelection))
	check(c.Scoring < ScoreCosine || c.Scoring > ScoreCSLS, "unknown scoring %d", int(c.Scoring))
	check(c.Init < InitIdentity || c.Init > InitRandom, "unknown init %d", int(c.Init))
	check(c.Convergence < ConvergeScore || c.Convergence > ConvergeBoth, "unknown convergence %d", int(c.Convergence))

	return errors.Join(errs...)
}
