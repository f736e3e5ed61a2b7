package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const MaxQueryRunes = 4000

// Hints carry structured information supplied by the caller next to the free text.
type Hints struct {
	Identifiers []string `json:"identifiers,omitempty"`
}

// Query is immutable once submitted to the engine.
type Query struct {
	Text    string            `json:"text"`
	Hints   Hints             `json:"hints"`
	Filters map[string]string `json:"filters,omitempty"`
}

func (q Query) Validate() error {
	text := strings.TrimSpace(q.Text)
	if text == "" && len(q.Hints.Identifiers) == 0 {
		return WrapError(ErrInvalidInput, "validate query", fmt.Errorf("query text or identifier hint is required"))
	}
	if utf8.RuneCountInString(text) > MaxQueryRunes {
		return WrapError(ErrInvalidInput, "validate query", fmt.Errorf("query text exceeds %d characters", MaxQueryRunes))
	}
	for i, id := range q.Hints.Identifiers {
		if strings.TrimSpace(id) == "" {
			return WrapError(ErrInvalidInput, "validate query", fmt.Errorf("identifier hint %d is blank", i))
		}
	}
	for k := range q.Filters {
		if strings.TrimSpace(k) == "" {
			return WrapError(ErrInvalidInput, "validate query", fmt.Errorf("filter key is blank"))
		}
	}
	return nil
}

type Strategy string

const (
	StrategyRelationalOnly     Strategy = "relational_only"
	StrategySemanticWithRerank Strategy = "semantic_with_rerank"
	StrategyRelationalPrimary  Strategy = "relational_primary"
	StrategyHybridMerge        Strategy = "hybrid_merge"
)

func (s Strategy) NeedsRelational() bool {
	return s == StrategyRelationalOnly || s == StrategyRelationalPrimary || s == StrategyHybridMerge
}

// NeedsSemantic reports whether the strategy always calls the semantic store.
// RelationalPrimary only does so as a fallback.
func (s Strategy) NeedsSemantic() bool {
	return s == StrategySemanticWithRerank || s == StrategyHybridMerge
}

type RangeOp string

const (
	RangeLT  RangeOp = "lt"
	RangeLTE RangeOp = "lte"
	RangeGT  RangeOp = "gt"
	RangeGTE RangeOp = "gte"
	RangeEQ  RangeOp = "eq"
)

func (op RangeOp) SQL() string {
	switch op {
	case RangeLT:
		return "<"
	case RangeLTE:
		return "<="
	case RangeGT:
		return ">"
	case RangeGTE:
		return ">="
	default:
		return "="
	}
}

type RangeFilter struct {
	Field string  `json:"field"`
	Op    RangeOp `json:"op"`
	Value float64 `json:"value"`
}

// Classification is the classifier verdict plus whatever structure it lifted out of the text.
type Classification struct {
	Strategy    Strategy      `json:"strategy"`
	Reason      string        `json:"reason"`
	Identifiers []string      `json:"identifiers,omitempty"`
	Ranges      []RangeFilter `json:"ranges,omitempty"`
	Terms       []string      `json:"terms,omitempty"`
}

// RelationalFilter is the parameter set handed to a RelationalStore.
type RelationalFilter struct {
	Identifiers []string
	Ranges      []RangeFilter
	Equals      map[string]string
	Terms       []string
	Limit       int
}

// SemanticFilter restricts nearest-neighbour search by passage metadata.
type SemanticFilter struct {
	Metadata map[string]string
}
