package usecase

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

const maxRelationalTerms = 12

const (
	reasonIdentifierHint  = "direct identifier lookup"
	reasonExactIdentifier = "query is a structured identifier"
	reasonComparison      = "comparison or range operator in query"
	reasonEmbeddedID      = "identifier mentioned alongside narrative text"
	reasonMixedKeywords   = "structured and natural-language keywords"
	reasonStructuredWords = "structured keywords"
	reasonNarrativeWords  = "natural-language keywords"
	reasonDefaultStrategy = "default strategy"
)

var (
	comparisonPattern = regexp.MustCompile(`(?i)([a-z][a-z_ ]{0,60}?)\s*(<=|>=|<|>|=|\b(?:less than or equal to|greater than or equal to|less than|more than|greater than|at least|at most|under|over|below|above|exceeds|exceeding)\b)\s*\$?\s*(\d+(?:\.\d+)?)`)
	betweenPattern    = regexp.MustCompile(`(?i)([a-z][a-z_ ]{0,60}?)\s+between\s+\$?\s*(\d+(?:\.\d+)?)\s*%?\s+and\s+\$?\s*(\d+(?:\.\d+)?)`)
)

var comparisonOps = map[string]domain.RangeOp{
	"<":                        domain.RangeLT,
	"less than":                domain.RangeLT,
	"under":                    domain.RangeLT,
	"below":                    domain.RangeLT,
	"<=":                       domain.RangeLTE,
	"less than or equal to":    domain.RangeLTE,
	"at most":                  domain.RangeLTE,
	">":                        domain.RangeGT,
	"more than":                domain.RangeGT,
	"greater than":             domain.RangeGT,
	"over":                     domain.RangeGT,
	"above":                    domain.RangeGT,
	"exceeds":                  domain.RangeGT,
	"exceeding":                domain.RangeGT,
	">=":                       domain.RangeGTE,
	"greater than or equal to": domain.RangeGTE,
	"at least":                 domain.RangeGTE,
	"=":                        domain.RangeEQ,
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "this": {}, "that": {}, "with": {},
	"what": {}, "which": {}, "who": {}, "how": {}, "does": {}, "did": {}, "can": {}, "could": {},
	"would": {}, "should": {}, "will": {}, "from": {}, "into": {}, "about": {}, "there": {},
	"their": {}, "have": {}, "has": {}, "any": {}, "all": {}, "not": {}, "but": {}, "its": {},
	"you": {}, "your": {}, "our": {}, "than": {}, "then": {}, "when": {}, "where": {}, "why": {},
	"is": {}, "be": {}, "of": {}, "to": {}, "in": {}, "on": {}, "or": {}, "an": {}, "a": {},
}

// Classifier picks a retrieval strategy. It is pure: no I/O, deterministic for a given profile.
type Classifier struct {
	profile *domain.DomainProfile
}

func NewClassifier(profile *domain.DomainProfile) *Classifier {
	return &Classifier{profile: profile}
}

// Classify applies the decision order: identifier hints, exact identifier text,
// comparison operators, keyword heuristics, default. First match wins.
func (c *Classifier) Classify(q domain.Query) domain.Classification {
	text := strings.TrimSpace(q.Text)
	tokens := tokenizeQuery(text)
	terms := significantTerms(tokens)

	if ids := normalizeIdentifiers(q.Hints.Identifiers); len(ids) > 0 {
		return domain.Classification{
			Strategy:    domain.StrategyRelationalOnly,
			Reason:      reasonIdentifierHint,
			Identifiers: ids,
		}
	}
	if text == "" {
		return domain.Classification{Strategy: domain.StrategySemanticWithRerank, Reason: reasonDefaultStrategy}
	}

	embedded := make([]string, 0, 2)
	for _, token := range tokens {
		if c.profile.IsIdentifier(token) {
			embedded = append(embedded, token)
		}
	}
	embedded = normalizeIdentifiers(embedded)

	if len(tokens) > 0 && len(embedded) > 0 && allIdentifiers(c.profile, tokens) {
		return domain.Classification{
			Strategy:    domain.StrategyRelationalOnly,
			Reason:      reasonExactIdentifier,
			Identifiers: embedded,
		}
	}

	if ranges := c.parseRanges(text); len(ranges) > 0 {
		return domain.Classification{
			Strategy:    domain.StrategyRelationalPrimary,
			Reason:      reasonComparison,
			Identifiers: embedded,
			Ranges:      ranges,
			Terms:       terms,
		}
	}

	if len(embedded) > 0 {
		return domain.Classification{
			Strategy:    domain.StrategyHybridMerge,
			Reason:      reasonEmbeddedID,
			Identifiers: embedded,
			Terms:       terms,
		}
	}

	lower := strings.ToLower(text)
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		tokenSet[strings.ToLower(token)] = struct{}{}
	}
	structured := matchesKeyword(lower, tokenSet, c.profile.StructuredKeywords)
	narrative := matchesKeyword(lower, tokenSet, c.profile.NarrativeKeywords)

	switch {
	case structured && narrative:
		return domain.Classification{Strategy: domain.StrategyHybridMerge, Reason: reasonMixedKeywords, Terms: terms}
	case structured:
		return domain.Classification{Strategy: domain.StrategyRelationalPrimary, Reason: reasonStructuredWords, Terms: terms}
	case narrative:
		return domain.Classification{Strategy: domain.StrategySemanticWithRerank, Reason: reasonNarrativeWords, Terms: terms}
	}

	return domain.Classification{Strategy: domain.StrategySemanticWithRerank, Reason: reasonDefaultStrategy, Terms: terms}
}

func (c *Classifier) parseRanges(text string) []domain.RangeFilter {
	out := make([]domain.RangeFilter, 0, 2)
	consumed := make([][2]int, 0, 2)

	for _, m := range betweenPattern.FindAllStringSubmatchIndex(text, -1) {
		low, errLow := strconv.ParseFloat(text[m[4]:m[5]], 64)
		high, errHigh := strconv.ParseFloat(text[m[6]:m[7]], 64)
		if errLow != nil || errHigh != nil {
			continue
		}
		if low > high {
			low, high = high, low
		}
		field := c.resolveField(text[m[2]:m[3]])
		out = append(out,
			domain.RangeFilter{Field: field, Op: domain.RangeGTE, Value: low},
			domain.RangeFilter{Field: field, Op: domain.RangeLTE, Value: high},
		)
		consumed = append(consumed, [2]int{m[0], m[1]})
	}

	for _, m := range comparisonPattern.FindAllStringSubmatchIndex(text, -1) {
		if overlapsAny(m[0], m[1], consumed) {
			continue
		}
		op, ok := comparisonOps[strings.ToLower(strings.Join(strings.Fields(text[m[4]:m[5]]), " "))]
		if !ok {
			continue
		}
		value, err := strconv.ParseFloat(text[m[6]:m[7]], 64)
		if err != nil {
			continue
		}
		out = append(out, domain.RangeFilter{
			Field: c.resolveField(text[m[2]:m[3]]),
			Op:    op,
			Value: value,
		})
	}
	return out
}

// resolveField maps the words before an operator onto a profile field, preferring the rightmost mention.
func (c *Classifier) resolveField(phrase string) string {
	lower := strings.ToLower(phrase)
	best := ""
	bestPos := -1
	for name, spec := range c.profile.Fields {
		candidates := append([]string{name, strings.ReplaceAll(name, "_", " ")}, spec.Aliases...)
		for _, alias := range candidates {
			alias = strings.ToLower(strings.TrimSpace(alias))
			if alias == "" {
				continue
			}
			pos := strings.LastIndex(lower, alias)
			if pos > bestPos || (pos == bestPos && pos >= 0 && name < best) {
				best = name
				bestPos = pos
			}
		}
	}
	if best != "" {
		return best
	}
	words := strings.Fields(lower)
	if len(words) == 0 {
		return ""
	}
	return words[len(words)-1]
}

func overlapsAny(start, end int, spans [][2]int) bool {
	for _, span := range spans {
		if start < span[1] && end > span[0] {
			return true
		}
	}
	return false
}

func matchesKeyword(lower string, tokens map[string]struct{}, keywords []string) bool {
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(keyword, " ") {
			if strings.Contains(lower, keyword) {
				return true
			}
			continue
		}
		if _, ok := tokens[keyword]; ok {
			return true
		}
	}
	return false
}

func allIdentifiers(profile *domain.DomainProfile, tokens []string) bool {
	for _, token := range tokens {
		if !profile.IsIdentifier(token) {
			return false
		}
	}
	return true
}

func tokenizeQuery(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_')
	})
}

func significantTerms(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		token = strings.ToLower(strings.Trim(token, "-_"))
		if len([]rune(token)) < 3 {
			continue
		}
		if _, stop := stopwords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
		if len(out) == maxRelationalTerms {
			break
		}
	}
	return out
}

func normalizeIdentifiers(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = normalizeKey(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// normalizeKey is the canonical form used to match natural keys across origins.
func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
