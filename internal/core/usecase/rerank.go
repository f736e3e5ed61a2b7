package usecase

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
	"github.com/stewmckendry/health-assistant/internal/core/ports"
)

const (
	defaultRerankConcurrency = 5
	judgeExcerptRunes        = 1500
	maxRelevanceScore        = 10.0
)

// Reranker scores semantic candidates with a RelevanceJudge and orders them by score.
type Reranker struct {
	judge       ports.RelevanceJudge
	concurrency int
	observer    ports.Observer
	logger      *slog.Logger
}

func NewReranker(judge ports.RelevanceJudge, concurrency int, observer ports.Observer, logger *slog.Logger) *Reranker {
	if concurrency <= 0 {
		concurrency = defaultRerankConcurrency
	}
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{
		judge:       judge,
		concurrency: concurrency,
		observer:    observer,
		logger:      logger.With("component", "reranker"),
	}
}

// Rerank returns at most topK records derived from candidates, sorted by non-increasing relevance.
// Ties keep retrieval order. A candidate the judge cannot score gets 0.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []domain.EvidenceRecord, topK int, domainContext string) []domain.EvidenceRecord {
	if len(candidates) == 0 {
		return []domain.EvidenceRecord{}
	}

	scores := make([]float64, len(candidates))
	failed := make([]bool, len(candidates))

	// A pool per call keeps one query from starving another.
	pool, err := ants.NewPool(r.concurrency)
	if err != nil {
		r.logger.Warn("rerank_pool_unavailable", "error", err)
		for i := range candidates {
			scores[i], failed[i] = r.scoreOne(ctx, query, candidates[i], domainContext)
		}
	} else {
		var wg sync.WaitGroup
		for i := range candidates {
			i := i
			wg.Add(1)
			task := func() {
				defer wg.Done()
				scores[i], failed[i] = r.scoreOne(ctx, query, candidates[i], domainContext)
			}
			if submitErr := pool.Submit(task); submitErr != nil {
				task()
			}
		}
		wg.Wait()
		pool.Release()
	}

	failures := 0
	for _, f := range failed {
		if f {
			failures++
		}
	}
	if failures > 0 {
		r.logger.Warn("judge_failed",
			"failed_candidates", failures,
			"total_candidates", len(candidates),
		)
	}

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	if topK > 0 && len(order) > topK {
		order = order[:topK]
	}

	out := make([]domain.EvidenceRecord, 0, len(order))
	for _, idx := range order {
		out = append(out, candidates[idx].WithRelevance(scores[idx]))
	}
	return out
}

func (r *Reranker) scoreOne(ctx context.Context, query string, candidate domain.EvidenceRecord, domainContext string) (float64, bool) {
	if ctx.Err() != nil {
		r.observer.ObserveJudge(true)
		return 0, true
	}
	score, err := r.judge.Score(ctx, query, judgeInput(candidate), domainContext)
	if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
		r.logger.Debug("judge_candidate_failed",
			"location", candidate.Citation.Location,
			"error", err,
		)
		r.observer.ObserveJudge(true)
		return 0, true
	}
	r.observer.ObserveJudge(false)
	return clampRelevance(score), false
}

// judgeInput is the title/source header followed by a bounded excerpt of the passage.
func judgeInput(record domain.EvidenceRecord) string {
	var b strings.Builder
	if record.Title != "" {
		b.WriteString("Title: ")
		b.WriteString(record.Title)
		b.WriteString("\n")
	}
	if !record.Citation.IsEmpty() {
		b.WriteString("Source: ")
		b.WriteString(record.Citation.String())
		b.WriteString("\n")
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(truncateRunes(record.Text, judgeExcerptRunes))
	return b.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func clampRelevance(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > maxRelevanceScore {
		return maxRelevanceScore
	}
	return score
}
