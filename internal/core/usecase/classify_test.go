package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

func TestClassifyDecisionOrder(t *testing.T) {
	classifier := NewClassifier(testProfile())

	cases := []struct {
		name     string
		query    domain.Query
		strategy domain.Strategy
		reason   string
	}{
		{
			name:     "identifier hint wins over narrative text",
			query:    domain.Query{Text: "explain the requirements", Hints: domain.Hints{Identifiers: []string{"a135"}}},
			strategy: domain.StrategyRelationalOnly,
			reason:   reasonIdentifierHint,
		},
		{
			name:     "exact billing code",
			query:    domain.Query{Text: "A135"},
			strategy: domain.StrategyRelationalOnly,
			reason:   reasonExactIdentifier,
		},
		{
			name:     "exact device code with punctuation",
			query:    domain.Query{Text: "WC-1001?"},
			strategy: domain.StrategyRelationalOnly,
			reason:   reasonExactIdentifier,
		},
		{
			name:     "comparison operator",
			query:    domain.Query{Text: "codes with a fee under $40"},
			strategy: domain.StrategyRelationalPrimary,
			reason:   reasonComparison,
		},
		{
			name:     "identifier inside a sentence",
			query:    domain.Query{Text: "What are the requirements for A135"},
			strategy: domain.StrategyHybridMerge,
			reason:   reasonEmbeddedID,
		},
		{
			name:     "structured keywords only",
			query:    domain.Query{Text: "What is the fee for a consultation"},
			strategy: domain.StrategyRelationalPrimary,
			reason:   reasonStructuredWords,
		},
		{
			name:     "narrative keywords only",
			query:    domain.Query{Text: "explain the eligibility requirements for power wheelchairs"},
			strategy: domain.StrategySemanticWithRerank,
			reason:   reasonNarrativeWords,
		},
		{
			name:     "structured and narrative keywords",
			query:    domain.Query{Text: "what fee applies and what documentation is needed"},
			strategy: domain.StrategyHybridMerge,
			reason:   reasonMixedKeywords,
		},
		{
			name:     "no signal",
			query:    domain.Query{Text: "wheelchairs and walkers"},
			strategy: domain.StrategySemanticWithRerank,
			reason:   reasonDefaultStrategy,
		},
		{
			name:     "empty text",
			query:    domain.Query{Text: "   "},
			strategy: domain.StrategySemanticWithRerank,
			reason:   reasonDefaultStrategy,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifier.Classify(tc.query)
			assert.Equal(t, tc.strategy, got.Strategy)
			assert.Equal(t, tc.reason, got.Reason)
		})
	}
}

func TestClassifyNormalizesIdentifiers(t *testing.T) {
	classifier := NewClassifier(testProfile())

	got := classifier.Classify(domain.Query{Hints: domain.Hints{Identifiers: []string{" a135 ", "A135", "k040"}}})
	assert.Equal(t, []string{"A135", "K040"}, got.Identifiers)

	got = classifier.Classify(domain.Query{Text: "What are the requirements for a135"})
	assert.Equal(t, []string{"A135"}, got.Identifiers)
}

func TestClassifyParsesRanges(t *testing.T) {
	classifier := NewClassifier(testProfile())

	got := classifier.Classify(domain.Query{Text: "codes with a fee under $40"})
	require.Len(t, got.Ranges, 1)
	assert.Equal(t, domain.RangeFilter{Field: "fee", Op: domain.RangeLT, Value: 40}, got.Ranges[0])

	got = classifier.Classify(domain.Query{Text: "devices where adp contribution >= 75"})
	require.Len(t, got.Ranges, 1)
	assert.Equal(t, domain.RangeFilter{Field: "adp_contribution", Op: domain.RangeGTE, Value: 75}, got.Ranges[0])

	got = classifier.Classify(domain.Query{Text: "fee between $40 and $20"})
	require.Len(t, got.Ranges, 2)
	assert.Equal(t, domain.RangeFilter{Field: "fee", Op: domain.RangeGTE, Value: 20}, got.Ranges[0])
	assert.Equal(t, domain.RangeFilter{Field: "fee", Op: domain.RangeLTE, Value: 40}, got.Ranges[1])
}

func TestClassifyIsDeterministic(t *testing.T) {
	classifier := NewClassifier(testProfile())
	q := domain.Query{Text: "price at least 500 for walkers"}

	first := classifier.Classify(q)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, classifier.Classify(q))
	}
}

func TestClassifyTermsDropStopwords(t *testing.T) {
	classifier := NewClassifier(testProfile())

	got := classifier.Classify(domain.Query{Text: "What is the fee for the consultation"})
	assert.Equal(t, []string{"fee", "consultation"}, got.Terms)
}
