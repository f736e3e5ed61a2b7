package ports

import (
	"context"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

// RelationalStore runs parameterized structured queries. Implementations fail with
// domain.ErrSourceUnavailable or domain.ErrSourceTimeout.
type RelationalStore interface {
	Name() string
	Query(ctx context.Context, filter domain.RelationalFilter) ([]domain.RelationalRow, error)
}

// SemanticStore runs nearest-neighbour text search with metadata filters.
type SemanticStore interface {
	Name() string
	Search(ctx context.Context, query string, filter domain.SemanticFilter, limit int) ([]domain.Passage, error)
}

// RelevanceJudge scores one candidate on a 0-10 scale. Failures surface as domain.ErrJudgeUnavailable.
type RelevanceJudge interface {
	Score(ctx context.Context, query, candidateText, domainContext string) (float64, error)
}

// Embedder builds vectors for query text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// FieldInterpreter is the per-domain adapter that reads field values out of passage text.
// wanted lists the relational fields the passage may speak about.
type FieldInterpreter interface {
	ExtractFields(text string, wanted map[string]any) map[string]any
}

// Observer receives engine events; metrics implement it.
type Observer interface {
	ObserveStrategy(strategy domain.Strategy)
	ObserveSource(report domain.SourceReport)
	ObserveJudge(failed bool)
	ObserveAnswer(resp *domain.Response)
}
