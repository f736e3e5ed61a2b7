package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

func newTestCoordinator(rel *fakeRelationalStore, sem *fakeSemanticStore) *Coordinator {
	reranker := NewReranker(NewLexicalJudge(), 2, nil, discardLogger())
	c := NewCoordinator(nil, nil, reranker, testProfile(), nil, discardLogger())
	// Assigned separately so a nil fake stays a nil interface.
	if rel != nil {
		c.relational = rel
	}
	if sem != nil {
		c.semantic = sem
	}
	return c
}

func fastOptions() domain.AnswerOptions {
	opts := domain.DefaultAnswerOptions()
	opts.RelationalTimeout = 30 * time.Millisecond
	opts.SemanticTimeout = 60 * time.Millisecond
	return opts
}

func TestRetrieveHybridTimeoutDoesNotCancelSibling(t *testing.T) {
	rel := &fakeRelationalStore{block: true}
	sem := &fakeSemanticStore{passages: []domain.Passage{
		passage("Consultation A135 requires a referral.", map[string]any{"source": "ohip.pdf", "section": "A135"}),
	}}
	c := newTestCoordinator(rel, sem)

	cls := domain.Classification{Strategy: domain.StrategyHybridMerge, Identifiers: []string{"A135"}}
	out, err := c.Retrieve(context.Background(), cls, domain.Query{Text: "requirements for A135"}, fastOptions())
	require.NoError(t, err)

	assert.Empty(t, out.Relational)
	require.Len(t, out.Semantic, 1)
	assert.Equal(t, []domain.Origin{domain.OriginSemantic}, out.Provenance)
	assert.Equal(t, domain.SourceTimeout, out.Reports[0].Status)
	assert.Equal(t, domain.SourceOK, out.Reports[1].Status)
	assert.False(t, out.AllFailed())
}

func TestRetrieveBothSourcesFail(t *testing.T) {
	rel := &fakeRelationalStore{err: domain.WrapError(domain.ErrSourceUnavailable, "query", errors.New("connection refused"))}
	sem := &fakeSemanticStore{block: true}
	c := newTestCoordinator(rel, sem)

	cls := domain.Classification{Strategy: domain.StrategyHybridMerge}
	out, err := c.Retrieve(context.Background(), cls, domain.Query{Text: "fee and documentation"}, fastOptions())
	require.NoError(t, err)

	assert.True(t, out.AllFailed())
	assert.Empty(t, out.Provenance)
	assert.Equal(t, domain.SourceUnavailable, out.Reports[0].Status)
	assert.Equal(t, domain.SourceTimeout, out.Reports[1].Status)
	assert.ElementsMatch(t, []domain.Origin{domain.OriginRelational, domain.OriginSemantic}, out.FailedOrigins())
}

func TestRetrieveRelationalOnlyNeverCallsSemantic(t *testing.T) {
	rel := &fakeRelationalStore{rows: []domain.RelationalRow{{Key: "A135", Fields: map[string]any{"code": "A135", "fee": 61.15}}}}
	sem := &fakeSemanticStore{}
	c := newTestCoordinator(rel, sem)

	cls := domain.Classification{Strategy: domain.StrategyRelationalOnly, Identifiers: []string{"A135"}}
	out, err := c.Retrieve(context.Background(), cls, domain.Query{Text: "A135"}, fastOptions())
	require.NoError(t, err)

	assert.Len(t, out.Relational, 1)
	assert.Equal(t, int32(0), sem.calls.Load())
	assert.Equal(t, domain.SourceSkipped, out.Reports[1].Status)
	assert.Equal(t, []string{"A135"}, rel.lastFilter.Identifiers)
	assert.Empty(t, rel.lastFilter.Terms)
}

func TestRetrieveRelationalPrimaryFallsBackBelowHalfTopK(t *testing.T) {
	rows := []domain.RelationalRow{{Key: "A135", Fields: map[string]any{"fee": 61.15}}}
	sem := &fakeSemanticStore{passages: []domain.Passage{passage("fees for consultations", nil)}}
	c := newTestCoordinator(&fakeRelationalStore{rows: rows}, sem)

	cls := domain.Classification{Strategy: domain.StrategyRelationalPrimary, Terms: []string{"fee"}}
	opts := fastOptions()
	opts.TopK = 5

	out, err := c.Retrieve(context.Background(), cls, domain.Query{Text: "fee under 70"}, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(1), sem.calls.Load())
	assert.Len(t, out.Semantic, 1)
	assert.Equal(t, []domain.Origin{domain.OriginRelational, domain.OriginSemantic}, out.Provenance)
}

func TestRetrieveRelationalPrimaryThresholdIsHalfTopK(t *testing.T) {
	cases := []struct {
		name     string
		topK     int
		rows     int
		fallback bool
	}{
		{"two of five", 5, 2, true},
		{"three of five", 5, 3, false},
		{"none of one", 1, 0, true},
		{"one of one", 1, 1, false},
		{"one of three", 3, 1, true},
		{"two of four", 4, 2, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows := make([]domain.RelationalRow, 0, tc.rows)
			for i := 0; i < tc.rows; i++ {
				rows = append(rows, domain.RelationalRow{Key: fmt.Sprintf("A%03d", i+100), Fields: map[string]any{"fee": 10.0}})
			}
			sem := &fakeSemanticStore{passages: []domain.Passage{passage("fee schedule", nil)}}
			c := newTestCoordinator(&fakeRelationalStore{rows: rows}, sem)

			opts := fastOptions()
			opts.TopK = tc.topK
			_, err := c.Retrieve(context.Background(), domain.Classification{Strategy: domain.StrategyRelationalPrimary}, domain.Query{Text: "fee under 70"}, opts)
			require.NoError(t, err)
			if tc.fallback {
				assert.Equal(t, int32(1), sem.calls.Load())
			} else {
				assert.Equal(t, int32(0), sem.calls.Load())
			}
		})
	}
}

func TestRetrieveRelationalPrimaryTopKOneDegradesOnFailure(t *testing.T) {
	rel := &fakeRelationalStore{err: errors.New("connection refused")}
	sem := &fakeSemanticStore{passages: []domain.Passage{passage("fee schedule", nil)}}
	c := newTestCoordinator(rel, sem)

	opts := fastOptions()
	opts.TopK = 1
	out, err := c.Retrieve(context.Background(), domain.Classification{Strategy: domain.StrategyRelationalPrimary}, domain.Query{Text: "fee"}, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(1), sem.calls.Load())
	assert.Len(t, out.Semantic, 1)
	assert.False(t, out.AllFailed())
}

func TestRetrieveRelationalPrimaryKeepsEnoughRows(t *testing.T) {
	rows := []domain.RelationalRow{
		{Key: "A135", Fields: map[string]any{"fee": 61.15}},
		{Key: "A007", Fields: map[string]any{"fee": 37.95}},
		{Key: "A008", Fields: map[string]any{"fee": 27.45}},
	}
	sem := &fakeSemanticStore{}
	c := newTestCoordinator(&fakeRelationalStore{rows: rows}, sem)

	cls := domain.Classification{Strategy: domain.StrategyRelationalPrimary}
	opts := fastOptions()
	opts.TopK = 5

	out, err := c.Retrieve(context.Background(), cls, domain.Query{Text: "fee under 70"}, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(0), sem.calls.Load())
	assert.Len(t, out.Relational, 3)
}

func TestRetrieveRelationalPrimaryFallsBackOnFailure(t *testing.T) {
	rel := &fakeRelationalStore{err: errors.New("relation does not exist")}
	sem := &fakeSemanticStore{passages: []domain.Passage{passage("fee schedule", nil)}}
	c := newTestCoordinator(rel, sem)

	out, err := c.Retrieve(context.Background(), domain.Classification{Strategy: domain.StrategyRelationalPrimary}, domain.Query{Text: "fee"}, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, domain.SourceUnavailable, out.Reports[0].Status)
	assert.Len(t, out.Semantic, 1)
	assert.False(t, out.AllFailed())
}

func TestRetrieveMissingStoreIsMisconfigured(t *testing.T) {
	c := newTestCoordinator(&fakeRelationalStore{}, nil)

	_, err := c.Retrieve(context.Background(), domain.Classification{Strategy: domain.StrategySemanticWithRerank}, domain.Query{Text: "x"}, fastOptions())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrMisconfigured))
}

func TestRetrieveGuaranteesCitations(t *testing.T) {
	rel := &fakeRelationalStore{rows: []domain.RelationalRow{{Fields: map[string]any{"code": "A135", "fee": 61.15}}}}
	sem := &fakeSemanticStore{passages: []domain.Passage{
		passage("no metadata at all", nil),
		passage("with metadata", map[string]any{"source": "adp-manual.pdf", "section": "4.2", "page": float64(17), "title": "Mobility", "code": "WC-1001"}),
	}}
	c := newTestCoordinator(rel, sem)

	out, err := c.Retrieve(context.Background(), domain.Classification{Strategy: domain.StrategyHybridMerge}, domain.Query{Text: "mobility metadata"}, fastOptions())
	require.NoError(t, err)

	require.Len(t, out.Relational, 1)
	assert.Equal(t, "A135", out.Relational[0].Key)
	assert.Equal(t, domain.Citation{Source: "fake-relational", Location: "A135"}, out.Relational[0].Citation)

	require.Len(t, out.Semantic, 2)
	for _, record := range out.Semantic {
		assert.False(t, record.Citation.IsEmpty())
		assert.NotNil(t, record.RelevanceScore)
	}

	var withMeta domain.EvidenceRecord
	for _, record := range out.Semantic {
		if record.Text == "with metadata" {
			withMeta = record
		}
	}
	assert.Equal(t, domain.Citation{Source: "adp-manual.pdf", Location: "4.2", Page: 17}, withMeta.Citation)
	assert.Equal(t, "Mobility", withMeta.Title)
	assert.Equal(t, "WC-1001", withMeta.Key)
	assert.NotContains(t, withMeta.Fields, "source")
}

func TestRetrieveParentCancellationStopsCalls(t *testing.T) {
	rel := &fakeRelationalStore{block: true}
	sem := &fakeSemanticStore{block: true}
	c := newTestCoordinator(rel, sem)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := fastOptions()
	opts.RelationalTimeout = time.Minute
	opts.SemanticTimeout = time.Minute

	start := time.Now()
	out, err := c.Retrieve(ctx, domain.Classification{Strategy: domain.StrategyHybridMerge}, domain.Query{Text: "anything"}, opts)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, out.AllFailed())
}
