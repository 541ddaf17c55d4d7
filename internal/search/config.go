package search

import "fmt"

// Mode selects the precision/recall trade-off of a search.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeNormal Mode = "normal"
	ModeFuzzy  Mode = "fuzzy"

	// ModeAuto runs strict, normal and fuzzy passes in turn, escalating
	// while the results found so far are fewer than Config.MinResults.
	ModeAuto Mode = "auto"
)

// Scope selects which workspaces a search reads.
type Scope string

const (
	ScopeCurrent Scope = "current"
	ScopeAll     Scope = "all"
)

// Requirement is how many query terms an entity must match.
type Requirement string

const (
	RequireAll      Requirement = "all"
	RequireMajority Requirement = "majority"
	RequireAny      Requirement = "any"
)

// ModeParams tunes a single matching pass.
type ModeParams struct {
	// Tolerance is the maximum edit ratio per term: a term of n characters
	// may differ from the text by at most floor(Tolerance*n) edits.
	Tolerance float64 `yaml:"tolerance"`

	// Distance is the maximum gap between consecutive matched characters
	// in subsequence matching.
	Distance int `yaml:"distance"`

	// Subsequence enables gap-bounded subsequence matching after exact and
	// approximate substring matching fail.
	Subsequence bool `yaml:"subsequence"`

	Require Requirement `yaml:"require"`
}

// Weights are the per-field multipliers applied to term scores.
type Weights struct {
	Content    float64 `yaml:"content"`
	Highlights float64 `yaml:"highlights"`
	Tags       float64 `yaml:"tags"`
	Workspace  float64 `yaml:"workspace"`
	Kind       float64 `yaml:"kind"`
}

func (w Weights) max() float64 {
	m := w.Content
	for _, v := range []float64{w.Highlights, w.Tags, w.Workspace, w.Kind} {
		if v > m {
			m = v
		}
	}
	return m
}

// Config holds the engine's thresholds.
type Config struct {
	Strict ModeParams `yaml:"strict"`
	Normal ModeParams `yaml:"normal"`
	Fuzzy  ModeParams `yaml:"fuzzy"`

	Weights Weights `yaml:"weights"`

	// MinResults is the result count below which auto mode escalates.
	MinResults int `yaml:"min_results"`

	// MinFuzzyScore drops fuzzy-pass results of auto mode scoring lower.
	MinFuzzyScore float64 `yaml:"min_fuzzy_score"`

	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`

	// DelegateFullText draws strict-pass candidates from the store's
	// full-text index when the store provides one.
	DelegateFullText bool `yaml:"delegate_full_text"`
}

// Default thresholds.
const (
	DefaultMinResults    = 2
	DefaultMinFuzzyScore = 0.3
	DefaultResultLimit   = 10
	MaxResultLimit       = 100
)

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Strict: ModeParams{Tolerance: 0.1, Distance: 1, Require: RequireAll},
		Normal: ModeParams{Tolerance: 0.3, Distance: 4, Require: RequireMajority},
		Fuzzy:  ModeParams{Tolerance: 0.5, Distance: 16, Subsequence: true, Require: RequireAny},
		Weights: Weights{
			Content:    1.0,
			Highlights: 1.5,
			Tags:       0.8,
			Workspace:  0.5,
			Kind:       0.4,
		},
		MinResults:    DefaultMinResults,
		MinFuzzyScore: DefaultMinFuzzyScore,
		DefaultLimit:  DefaultResultLimit,
		MaxLimit:      MaxResultLimit,
	}
}

// Params returns the pass parameters of a concrete mode.
func (c Config) Params(m Mode) (ModeParams, bool) {
	switch m {
	case ModeStrict:
		return c.Strict, true
	case ModeNormal:
		return c.Normal, true
	case ModeFuzzy:
		return c.Fuzzy, true
	}
	return ModeParams{}, false
}

// Validate checks that thresholds are within range.
func (c Config) Validate() error {
	for _, m := range []Mode{ModeStrict, ModeNormal, ModeFuzzy} {
		p, _ := c.Params(m)
		if p.Tolerance < 0 || p.Tolerance > 1 {
			return fmt.Errorf("search: %s tolerance must be between 0 and 1, got %v", m, p.Tolerance)
		}
		if p.Distance < 0 {
			return fmt.Errorf("search: %s distance must not be negative", m)
		}
		switch p.Require {
		case RequireAll, RequireMajority, RequireAny:
		default:
			return fmt.Errorf("search: %s has unknown term requirement %q", m, p.Require)
		}
	}
	if c.Weights.max() <= 0 {
		return fmt.Errorf("search: at least one field weight must be positive")
	}
	if c.MinResults < 0 {
		return fmt.Errorf("search: min_results must not be negative")
	}
	if c.MinFuzzyScore < 0 || c.MinFuzzyScore > 1 {
		return fmt.Errorf("search: min_fuzzy_score must be between 0 and 1")
	}
	if c.DefaultLimit <= 0 || c.MaxLimit < c.DefaultLimit {
		return fmt.Errorf("search: need 0 < default_limit <= max_limit")
	}
	return nil
}
