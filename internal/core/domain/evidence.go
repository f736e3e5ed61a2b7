package domain

import (
	"sort"
	"strconv"
	"strings"
)

type Origin string

const (
	OriginRelational Origin = "relational"
	OriginSemantic   Origin = "semantic"
)

type Citation struct {
	Source   string `json:"source"`
	Location string `json:"location"`
	Page     int    `json:"page,omitempty"`
}

func (c Citation) IsEmpty() bool {
	return strings.TrimSpace(c.Source) == "" && strings.TrimSpace(c.Location) == ""
}

// Key identifies a citation for deduplication; page is deliberately excluded.
func (c Citation) Key() string {
	return c.Source + "\x00" + c.Location
}

func (c Citation) String() string {
	out := c.Source
	if c.Location != "" {
		out += " §" + c.Location
	}
	if c.Page > 0 {
		out += " p." + strconv.Itoa(c.Page)
	}
	return out
}

// RelationalRow is the raw shape a RelationalStore returns.
type RelationalRow struct {
	Key      string
	Fields   map[string]any
	Source   string
	Location string
	Page     int
}

// SearchText flattens the key and textual fields into the text relational stores index for term matching.
func (r RelationalRow) SearchText() string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []string{r.Key}
	for _, k := range keys {
		switch v := r.Fields[k].(type) {
		case string:
			parts = append(parts, v)
		case []string:
			parts = append(parts, v...)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
		}
	}
	return strings.Join(parts, " ")
}

// Passage is the raw shape a SemanticStore returns.
type Passage struct {
	Text     string
	Metadata map[string]any
	Score    *float64
}

// EvidenceRecord is never mutated after creation; derive new records instead.
type EvidenceRecord struct {
	Origin         Origin         `json:"origin"`
	Key            string         `json:"key,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"`
	Title          string         `json:"title,omitempty"`
	Text           string         `json:"text,omitempty"`
	RetrievalScore *float64       `json:"retrieval_score,omitempty"`
	RelevanceScore *float64       `json:"relevance_score,omitempty"`
	Citation       Citation       `json:"citation"`
	Rank           int            `json:"rank"`
}

func NewEvidenceRecord(origin Origin, key string, fields map[string]any, citation Citation) EvidenceRecord {
	return EvidenceRecord{
		Origin:   origin,
		Key:      key,
		Fields:   cloneFields(fields),
		Citation: citation,
	}
}

// WithRelevance returns a copy carrying the judge score.
func (r EvidenceRecord) WithRelevance(score float64) EvidenceRecord {
	out := r
	out.Fields = cloneFields(r.Fields)
	s := score
	out.RelevanceScore = &s
	return out
}

func (r EvidenceRecord) FieldsCopy() map[string]any {
	return cloneFields(r.Fields)
}

func (r EvidenceRecord) Relevance() float64 {
	if r.RelevanceScore == nil {
		return 0
	}
	return *r.RelevanceScore
}

func cloneFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
