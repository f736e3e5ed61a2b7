package domain

import (
	"sort"
	"time"
)

type SourceStatus string

const (
	SourceOK          SourceStatus = "ok"
	SourceEmpty       SourceStatus = "empty"
	SourceTimeout     SourceStatus = "timeout"
	SourceUnavailable SourceStatus = "unavailable"
	SourceSkipped     SourceStatus = "skipped"
)

func (s SourceStatus) Failed() bool {
	return s == SourceTimeout || s == SourceUnavailable
}

type SourceReport struct {
	Origin     Origin       `json:"origin"`
	Status     SourceStatus `json:"status"`
	Hits       int          `json:"hits"`
	DurationMS float64      `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
}

const FaultAllSourcesFailed = "all_sources_failed"

// Fault separates "the sources could not be reached" from "nothing was found".
type Fault struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	Origins []Origin `json:"origins,omitempty"`
}

type Item struct {
	Key            string         `json:"key,omitempty"`
	Origins        []Origin       `json:"origins"`
	Fields         map[string]any `json:"fields,omitempty"`
	Title          string         `json:"title,omitempty"`
	Text           string         `json:"text,omitempty"`
	RelevanceScore *float64       `json:"relevance_score,omitempty"`
	Citations      []Citation     `json:"citations"`
}

type Response struct {
	Items               []Item               `json:"items"`
	Provenance          []Origin             `json:"provenance"`
	Confidence          float64              `json:"confidence"`
	ConfidenceBreakdown *ConfidenceBreakdown `json:"confidence_breakdown,omitempty"`
	Citations           []Citation           `json:"citations"`
	Conflicts           []ConflictRecord     `json:"conflicts"`
	Followups           []string             `json:"followups,omitempty"`
	Strategy            Strategy             `json:"strategy,omitempty"`
	StrategyReason      string               `json:"strategy_reason,omitempty"`
	Sources             []SourceReport       `json:"sources,omitempty"`
	Fault               *Fault               `json:"fault,omitempty"`
}

func (r *Response) HasOrigin(origin Origin) bool {
	for _, o := range r.Provenance {
		if o == origin {
			return true
		}
	}
	return false
}

// AnswerOptions configure one Answer call. Zero values fall back to engine defaults.
type AnswerOptions struct {
	RelationalTimeout time.Duration      `json:"relational_timeout"`
	SemanticTimeout   time.Duration      `json:"semantic_timeout"`
	TopK              int                `json:"top_k"`
	CandidateLimit    int                `json:"candidate_limit"`
	CriticalFields    []string           `json:"critical_fields,omitempty"`
	ExtraFactors      map[string]float64 `json:"extra_factors,omitempty"`
	JudgeContext      string             `json:"judge_context,omitempty"`
}

func DefaultAnswerOptions() AnswerOptions {
	return AnswerOptions{
		RelationalTimeout: 500 * time.Millisecond,
		SemanticTimeout:   1000 * time.Millisecond,
		TopK:              5,
		CandidateLimit:    20,
	}
}

func (o AnswerOptions) Normalize(def AnswerOptions) AnswerOptions {
	out := o
	if out.RelationalTimeout <= 0 {
		out.RelationalTimeout = def.RelationalTimeout
	}
	if out.SemanticTimeout <= 0 {
		out.SemanticTimeout = def.SemanticTimeout
	}
	if out.TopK <= 0 {
		out.TopK = def.TopK
	}
	if out.CandidateLimit <= 0 {
		out.CandidateLimit = def.CandidateLimit
	}
	if out.CandidateLimit < out.TopK {
		out.CandidateLimit = out.TopK
	}
	if len(out.CriticalFields) == 0 {
		out.CriticalFields = def.CriticalFields
	}
	if out.JudgeContext == "" {
		out.JudgeContext = def.JudgeContext
	}
	return out
}

// ExtraFactorSum adds caller factors in key order so identical inputs give identical floats.
func (o AnswerOptions) ExtraFactorSum() float64 {
	if len(o.ExtraFactors) == 0 {
		return 0
	}
	keys := make([]string, 0, len(o.ExtraFactors))
	for k := range o.ExtraFactors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sum := 0.0
	for _, k := range keys {
		sum += o.ExtraFactors[k]
	}
	return sum
}
