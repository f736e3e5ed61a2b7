package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

type fakeRelationalStore struct {
	rows  []domain.RelationalRow
	err   error
	block bool
	calls atomic.Int32

	mu         sync.Mutex
	lastFilter domain.RelationalFilter
}

func (f *fakeRelationalStore) Name() string { return "fake-relational" }

func (f *fakeRelationalStore) Query(ctx context.Context, filter domain.RelationalFilter) ([]domain.RelationalRow, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastFilter = filter
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

type fakeSemanticStore struct {
	passages []domain.Passage
	err      error
	block    bool
	calls    atomic.Int32
}

func (f *fakeSemanticStore) Name() string { return "fake-semantic" }

func (f *fakeSemanticStore) Search(ctx context.Context, query string, filter domain.SemanticFilter, limit int) ([]domain.Passage, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && len(f.passages) > limit {
		return f.passages[:limit], nil
	}
	return f.passages, nil
}

// scriptedJudge scores by exact candidate text; unknown text scores 1.
type scriptedJudge struct {
	scores map[string]float64
	fail   map[string]bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	gate        chan struct{}
}

func (j *scriptedJudge) Score(ctx context.Context, query, candidateText, domainContext string) (float64, error) {
	n := j.inFlight.Add(1)
	defer j.inFlight.Add(-1)
	for {
		cur := j.maxInFlight.Load()
		if n <= cur || j.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if j.gate != nil {
		select {
		case <-j.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for text, fail := range j.fail {
		if fail && strings.Contains(candidateText, text) {
			return 0, domain.WrapError(domain.ErrJudgeUnavailable, "score", errors.New("judge offline"))
		}
	}
	for text, score := range j.scores {
		if strings.Contains(candidateText, text) {
			return score, nil
		}
	}
	return 1, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProfile() *domain.DomainProfile {
	p := domain.DefaultProfile()
	if err := p.Compile(); err != nil {
		panic(err)
	}
	return &p
}

func passage(text string, meta map[string]any) domain.Passage {
	return domain.Passage{Text: text, Metadata: meta}
}
