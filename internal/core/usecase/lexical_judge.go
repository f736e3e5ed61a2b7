package usecase

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// LexicalJudge scores relevance from token overlap without a model.
type LexicalJudge struct{}

func NewLexicalJudge() *LexicalJudge {
	return &LexicalJudge{}
}

func (j *LexicalJudge) Score(ctx context.Context, query, candidateText, domainContext string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	queryTokens := toTokenSet(query)
	header, body := splitJudgeHeader(candidateText)

	overlap := tokenOverlap(queryTokens, toTokenSet(body))
	headerHit := headerTokenHit(queryTokens, header)
	contextHit := 0.0
	if domainContext != "" {
		contextHit = tokenOverlap(toTokenSet(domainContext), toTokenSet(body))
	}

	score := 10 * (0.75*overlap + 0.20*headerHit + 0.05*contextHit)
	return math.Round(score*100) / 100, nil
}

// splitJudgeHeader separates the Title/Source lines from the passage excerpt.
func splitJudgeHeader(text string) (string, string) {
	idx := strings.Index(text, "\n\n")
	if idx < 0 {
		return "", text
	}
	head := text[:idx]
	if !strings.HasPrefix(head, "Title: ") && !strings.HasPrefix(head, "Source: ") {
		return "", text
	}
	return head, text[idx+2:]
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func headerTokenHit(query map[string]struct{}, header string) float64 {
	if len(query) == 0 || header == "" {
		return 0
	}
	headerTokens := toTokenSet(header)
	for token := range query {
		if len(token) < 3 {
			continue
		}
		if _, ok := headerTokens[token]; ok {
			return 1
		}
	}
	return 0
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if _, stop := stopwords[token]; stop {
			continue
		}
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
