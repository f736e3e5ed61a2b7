package usecase

import (
	"math"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

const (
	baseWithRelational    = 0.90
	baseWithoutRelational = 0.60
	relationalHitBonus    = 0.02
	relationalBonusCap    = 0.06
	semanticHitBonus      = 0.03
	semanticBonusCap      = 0.15
	conflictPenalty       = 0.10
)

// ScoreConfidence applies base, bonuses, conflict penalty, caller factors, then the clamp.
// The order is fixed so identical inputs give identical scores.
func ScoreConfidence(relationalHits, semanticHits int, hasConflict bool, extraFactors float64) domain.ConfidenceScore {
	if relationalHits < 0 {
		relationalHits = 0
	}
	if semanticHits < 0 {
		semanticHits = 0
	}

	b := domain.ConfidenceBreakdown{
		RelationalHits: relationalHits,
		SemanticHits:   semanticHits,
		Base:           baseWithoutRelational,
	}
	if relationalHits > 0 {
		b.Base = baseWithRelational
		b.RelationalBonus = math.Min(relationalHitBonus*float64(relationalHits-1), relationalBonusCap)
	}
	b.SemanticBonus = math.Min(semanticHitBonus*float64(semanticHits), semanticBonusCap)
	if hasConflict {
		b.ConflictPenalty = conflictPenalty
	}
	if !math.IsNaN(extraFactors) && !math.IsInf(extraFactors, 0) {
		b.ExtraFactors = extraFactors
	}

	b.Base = round4(b.Base)
	b.RelationalBonus = round4(b.RelationalBonus)
	b.SemanticBonus = round4(b.SemanticBonus)
	b.Unclamped = round4(b.Base + b.RelationalBonus + b.SemanticBonus - b.ConflictPenalty + b.ExtraFactors)

	value := math.Max(domain.ConfidenceFloor, math.Min(domain.ConfidenceCeiling, b.Unclamped))
	return domain.ConfidenceScore{Value: round4(value), Breakdown: b}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
