package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

func TestScoreConfidenceValues(t *testing.T) {
	cases := []struct {
		name     string
		rel, sem int
		conflict bool
		extra    float64
		want     float64
	}{
		{"no evidence", 0, 0, false, 0, 0.60},
		{"single relational hit", 1, 0, false, 0, 0.90},
		{"relational and corroborating passage", 1, 1, false, 0, 0.93},
		{"same with conflict", 1, 1, true, 0, 0.83},
		{"relational bonus capped", 10, 0, false, 0, 0.96},
		{"semantic only", 0, 3, false, 0, 0.69},
		{"semantic bonus capped", 0, 20, false, 0, 0.75},
		{"ceiling", 10, 10, false, 0, 0.99},
		{"floor", 0, 0, true, -0.5, 0.30},
		{"caller factor", 1, 0, false, 0.05, 0.95},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreConfidence(tc.rel, tc.sem, tc.conflict, tc.extra)
			assert.InDelta(t, tc.want, got.Value, 1e-9)
			assert.Equal(t, tc.rel, got.Breakdown.RelationalHits)
			assert.Equal(t, tc.sem, got.Breakdown.SemanticHits)
		})
	}
}

func TestScoreConfidenceBoundsAndMonotonicity(t *testing.T) {
	for rel := 0; rel <= 6; rel++ {
		for sem := 0; sem <= 8; sem++ {
			for _, extra := range []float64{-1, -0.2, 0, 0.05, 0.5} {
				clean := ScoreConfidence(rel, sem, false, extra)
				conflicted := ScoreConfidence(rel, sem, true, extra)

				assert.GreaterOrEqual(t, clean.Value, domain.ConfidenceFloor)
				assert.LessOrEqual(t, clean.Value, domain.ConfidenceCeiling)
				assert.GreaterOrEqual(t, conflicted.Value, domain.ConfidenceFloor)
				assert.LessOrEqual(t, conflicted.Value, domain.ConfidenceCeiling)
				assert.LessOrEqual(t, conflicted.Value, clean.Value, "rel=%d sem=%d extra=%v", rel, sem, extra)
			}
		}
	}
}

func TestScoreConfidenceReproducible(t *testing.T) {
	first := ScoreConfidence(3, 2, true, 0.01)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ScoreConfidence(3, 2, true, 0.01))
	}
	assert.InDelta(t, 0.10, first.Breakdown.ConflictPenalty, 1e-9)
	assert.InDelta(t, 0.04, first.Breakdown.RelationalBonus, 1e-9)
	assert.InDelta(t, 0.06, first.Breakdown.SemanticBonus, 1e-9)
}
