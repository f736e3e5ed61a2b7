package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
	"github.com/stewmckendry/health-assistant/internal/core/ports"
)

// Retrieval is the evidence gathered for one query. Failed sources contribute nothing.
type Retrieval struct {
	Relational []domain.EvidenceRecord
	Semantic   []domain.EvidenceRecord
	Provenance []domain.Origin
	Reports    []domain.SourceReport
}

// AllFailed reports whether every source the strategy invoked failed.
func (r *Retrieval) AllFailed() bool {
	invoked := 0
	for _, report := range r.Reports {
		if report.Status == domain.SourceSkipped {
			continue
		}
		invoked++
		if !report.Status.Failed() {
			return false
		}
	}
	return invoked > 0
}

func (r *Retrieval) FailedOrigins() []domain.Origin {
	out := make([]domain.Origin, 0, len(r.Reports))
	for _, report := range r.Reports {
		if report.Status.Failed() {
			out = append(out, report.Origin)
		}
	}
	return out
}

// Coordinator executes the evidence-source calls a strategy implies.
type Coordinator struct {
	relational ports.RelationalStore
	semantic   ports.SemanticStore
	reranker   *Reranker
	profile    *domain.DomainProfile
	observer   ports.Observer
	logger     *slog.Logger
}

func NewCoordinator(
	relational ports.RelationalStore,
	semantic ports.SemanticStore,
	reranker *Reranker,
	profile *domain.DomainProfile,
	observer ports.Observer,
	logger *slog.Logger,
) *Coordinator {
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		relational: relational,
		semantic:   semantic,
		reranker:   reranker,
		profile:    profile,
		observer:   observer,
		logger:     logger.With("component", "coordinator"),
	}
}

func (c *Coordinator) Retrieve(
	ctx context.Context,
	cls domain.Classification,
	q domain.Query,
	opts domain.AnswerOptions,
) (*Retrieval, error) {
	if cls.Strategy.NeedsRelational() && c.relational == nil {
		return nil, domain.WrapError(domain.ErrMisconfigured, "retrieve", fmt.Errorf("strategy %s needs a relational store", cls.Strategy))
	}
	if (cls.Strategy.NeedsSemantic() || cls.Strategy == domain.StrategyRelationalPrimary) && c.semantic == nil {
		return nil, domain.WrapError(domain.ErrMisconfigured, "retrieve", fmt.Errorf("strategy %s needs a semantic store", cls.Strategy))
	}

	out := &Retrieval{}
	relReport := domain.SourceReport{Origin: domain.OriginRelational, Status: domain.SourceSkipped}
	semReport := domain.SourceReport{Origin: domain.OriginSemantic, Status: domain.SourceSkipped}

	switch cls.Strategy {
	case domain.StrategyRelationalOnly:
		out.Relational, relReport = c.fetchRelational(ctx, c.relationalFilter(cls, q, opts), opts.RelationalTimeout)

	case domain.StrategySemanticWithRerank:
		out.Semantic, semReport = c.fetchSemantic(ctx, q, opts)

	case domain.StrategyRelationalPrimary:
		out.Relational, relReport = c.fetchRelational(ctx, c.relationalFilter(cls, q, opts), opts.RelationalTimeout)
		// Fewer than top_k/2 rows, compared without truncating odd top_k.
		if 2*len(out.Relational) < opts.TopK {
			c.logger.Debug("relational_primary_fallback",
				"relational_hits", len(out.Relational),
				"threshold", float64(opts.TopK)/2,
			)
			out.Semantic, semReport = c.fetchSemantic(ctx, q, opts)
		}

	case domain.StrategyHybridMerge:
		var g errgroup.Group
		filter := c.relationalFilter(cls, q, opts)
		g.Go(func() error {
			out.Relational, relReport = c.fetchRelational(ctx, filter, opts.RelationalTimeout)
			return nil
		})
		g.Go(func() error {
			out.Semantic, semReport = c.fetchSemantic(ctx, q, opts)
			return nil
		})
		_ = g.Wait()

	default:
		return nil, domain.WrapError(domain.ErrMisconfigured, "retrieve", fmt.Errorf("unknown strategy %q", cls.Strategy))
	}

	out.Reports = []domain.SourceReport{relReport, semReport}
	for _, report := range out.Reports {
		if report.Status != domain.SourceSkipped {
			c.observer.ObserveSource(report)
		}
	}
	if len(out.Relational) > 0 {
		out.Provenance = append(out.Provenance, domain.OriginRelational)
	}
	if len(out.Semantic) > 0 {
		out.Provenance = append(out.Provenance, domain.OriginSemantic)
	}
	return out, nil
}

func (c *Coordinator) relationalFilter(cls domain.Classification, q domain.Query, opts domain.AnswerOptions) domain.RelationalFilter {
	filter := domain.RelationalFilter{
		Identifiers: cls.Identifiers,
		Ranges:      cls.Ranges,
		Equals:      q.Filters,
		Limit:       opts.TopK,
	}
	if len(cls.Identifiers) > filter.Limit {
		filter.Limit = len(cls.Identifiers)
	}
	if len(cls.Identifiers) == 0 {
		filter.Terms = cls.Terms
	}
	return filter
}

func (c *Coordinator) fetchRelational(
	ctx context.Context,
	filter domain.RelationalFilter,
	timeout time.Duration,
) ([]domain.EvidenceRecord, domain.SourceReport) {
	report := domain.SourceReport{Origin: domain.OriginRelational}
	start := time.Now()
	rows, err := callWithTimeout(ctx, timeout, func(callCtx context.Context) ([]domain.RelationalRow, error) {
		return c.relational.Query(callCtx, filter)
	})
	report.DurationMS = elapsedMS(start)
	if err != nil {
		report.Status = sourceFailureStatus(err)
		report.Error = err.Error()
		c.logger.Warn("source_degraded",
			"origin", domain.OriginRelational,
			"store", c.relational.Name(),
			"status", report.Status,
			"duration_ms", report.DurationMS,
			"error", err,
		)
		return nil, report
	}

	records := make([]domain.EvidenceRecord, 0, len(rows))
	for i, row := range rows {
		records = append(records, c.relationalRecord(row, i))
	}
	report.Hits = len(records)
	report.Status = statusForHits(len(records))
	return records, report
}

func (c *Coordinator) fetchSemantic(ctx context.Context, q domain.Query, opts domain.AnswerOptions) ([]domain.EvidenceRecord, domain.SourceReport) {
	report := domain.SourceReport{Origin: domain.OriginSemantic}
	text := strings.TrimSpace(q.Text)
	if text == "" {
		text = strings.Join(q.Hints.Identifiers, " ")
	}

	start := time.Now()
	passages, err := callWithTimeout(ctx, opts.SemanticTimeout, func(callCtx context.Context) ([]domain.Passage, error) {
		return c.semantic.Search(callCtx, text, domain.SemanticFilter{Metadata: q.Filters}, opts.CandidateLimit)
	})
	report.DurationMS = elapsedMS(start)
	if err != nil {
		report.Status = sourceFailureStatus(err)
		report.Error = err.Error()
		c.logger.Warn("source_degraded",
			"origin", domain.OriginSemantic,
			"store", c.semantic.Name(),
			"status", report.Status,
			"duration_ms", report.DurationMS,
			"error", err,
		)
		return nil, report
	}

	candidates := make([]domain.EvidenceRecord, 0, len(passages))
	for i, passage := range passages {
		candidates = append(candidates, c.semanticRecord(passage, i))
	}

	var ranked []domain.EvidenceRecord
	if c.reranker != nil {
		ranked = c.reranker.Rerank(ctx, text, candidates, opts.TopK, opts.JudgeContext)
	} else {
		ranked = trimRecords(candidates, opts.TopK)
	}
	report.Hits = len(ranked)
	report.Status = statusForHits(len(ranked))
	return ranked, report
}

func (c *Coordinator) relationalRecord(row domain.RelationalRow, rank int) domain.EvidenceRecord {
	key := strings.TrimSpace(row.Key)
	if key == "" {
		key = stringValue(row.Fields[c.profile.NaturalKey])
	}
	citation := domain.Citation{Source: row.Source, Location: row.Location, Page: row.Page}
	if strings.TrimSpace(citation.Source) == "" {
		citation.Source = c.relational.Name()
	}
	if strings.TrimSpace(citation.Location) == "" {
		citation.Location = key
	}
	if strings.TrimSpace(citation.Location) == "" {
		citation.Location = "row-" + strconv.Itoa(rank+1)
	}
	record := domain.NewEvidenceRecord(domain.OriginRelational, key, row.Fields, citation)
	record.Rank = rank
	return record
}

func (c *Coordinator) semanticRecord(passage domain.Passage, rank int) domain.EvidenceRecord {
	keys := c.profile.Citation
	fields := make(map[string]any, len(passage.Metadata))
	for k, v := range passage.Metadata {
		switch k {
		case keys.Source, keys.Location, keys.Page, keys.Title, "text":
			continue
		}
		fields[k] = v
	}

	citation := domain.Citation{
		Source:   stringValue(passage.Metadata[keys.Source]),
		Location: stringValue(passage.Metadata[keys.Location]),
		Page:     intValue(passage.Metadata[keys.Page]),
	}
	if strings.TrimSpace(citation.Source) == "" {
		citation.Source = c.semantic.Name()
	}
	if strings.TrimSpace(citation.Location) == "" {
		citation.Location = "passage-" + strconv.Itoa(rank+1)
	}

	record := domain.NewEvidenceRecord(domain.OriginSemantic, stringValue(passage.Metadata[c.profile.NaturalKey]), fields, citation)
	record.Title = stringValue(passage.Metadata[keys.Title])
	record.Text = passage.Text
	record.RetrievalScore = passage.Score
	record.Rank = rank
	return record
}

// callWithTimeout bounds fn by its own deadline even when fn ignores context cancellation.
// Cancelling here never touches a sibling call.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(callCtx)
		done <- result{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-callCtx.Done():
		var zero T
		return zero, callCtx.Err()
	}
}

func sourceFailureStatus(err error) domain.SourceStatus {
	if errors.Is(err, context.DeadlineExceeded) || domain.IsKind(err, domain.ErrSourceTimeout) {
		return domain.SourceTimeout
	}
	return domain.SourceUnavailable
}

func statusForHits(hits int) domain.SourceStatus {
	if hits == 0 {
		return domain.SourceEmpty
	}
	return domain.SourceOK
}

func trimRecords(records []domain.EvidenceRecord, limit int) []domain.EvidenceRecord {
	if limit <= 0 || len(records) <= limit {
		return records
	}
	return records[:limit]
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func intValue(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

type noopObserver struct{}

func (noopObserver) ObserveStrategy(domain.Strategy)   {}
func (noopObserver) ObserveSource(domain.SourceReport) {}
func (noopObserver) ObserveJudge(bool)                 {}
func (noopObserver) ObserveAnswer(*domain.Response)    {}
