package domain

const (
	ConfidenceFloor   = 0.30
	ConfidenceCeiling = 0.99
)

type ConfidenceBreakdown struct {
	RelationalHits  int     `json:"relational_hits"`
	SemanticHits    int     `json:"semantic_hits"`
	Base            float64 `json:"base"`
	RelationalBonus float64 `json:"relational_bonus"`
	SemanticBonus   float64 `json:"semantic_bonus"`
	ConflictPenalty float64 `json:"conflict_penalty"`
	ExtraFactors    float64 `json:"extra_factors"`
	Unclamped       float64 `json:"unclamped"`
}

type ConfidenceScore struct {
	Value     float64             `json:"value"`
	Breakdown ConfidenceBreakdown `json:"breakdown"`
}
