package domain

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ConflictRecord lives for one query. It is only produced for fields both origins carry.
type ConflictRecord struct {
	EntityKey       string   `json:"entity_key,omitempty"`
	Field           string   `json:"field"`
	RelationalValue any      `json:"relational_value"`
	SemanticValue   any      `json:"semantic_value"`
	Resolution      string   `json:"resolution"`
	KeptOrigin      Origin   `json:"kept_origin"`
	Severity        Severity `json:"severity"`
}

func (c ConflictRecord) KeptValue() any {
	if c.KeptOrigin == OriginSemantic {
		return c.SemanticValue
	}
	return c.RelationalValue
}
