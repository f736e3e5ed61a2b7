package ports

import (
	"context"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

// EvidenceService is the inbound contract for answering domain questions from both evidence sources.
type EvidenceService interface {
	Answer(ctx context.Context, query domain.Query, opts domain.AnswerOptions) (*domain.Response, error)
	Classify(query domain.Query) domain.Classification
}
