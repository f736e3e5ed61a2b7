package usecase

import (
	"regexp"
	"sort"
	"strings"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

const (
	aliasWindowChars = 120
	negationLookback = 24
)

var (
	currencyPattern   = regexp.MustCompile(`\$\s?(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)`)
	percentagePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s?(?:%|percent\b)`)
	numberPattern     = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\b`)
)

// negationBefore matches the words just before an alias: "not eligible",
// "no longer covered", "non-insured", "isn't payable".
var negationBefore = regexp.MustCompile(`(?i)\b(?:not|no|never|non|isn't|aren't|wasn't|cannot be)(?:\s+\w+)?[\s-]+$`)

type numericMention struct {
	value      float64
	start, end int
}

// ProfileInterpreter reads field values out of passage text using the profile's field kinds and aliases.
type ProfileInterpreter struct {
	profile *domain.DomainProfile
	aliases map[string][]*regexp.Regexp
	// fieldNegatives are negative synonyms that contain one of the field's aliases
	// ("not covered", "ineligible"); genericNegatives are the rest ("excluded").
	fieldNegatives   map[string][]*regexp.Regexp
	genericNegatives map[string][]*regexp.Regexp
}

func NewProfileInterpreter(profile *domain.DomainProfile) *ProfileInterpreter {
	in := &ProfileInterpreter{
		profile:          profile,
		aliases:          make(map[string][]*regexp.Regexp, len(profile.Fields)),
		fieldNegatives:   make(map[string][]*regexp.Regexp),
		genericNegatives: make(map[string][]*regexp.Regexp),
	}
	terms := make(map[string][]string, len(profile.Fields))
	for name, spec := range profile.Fields {
		terms[name] = append([]string{strings.ReplaceAll(name, "_", " ")}, spec.Aliases...)
		in.aliases[name] = compileTerms(terms[name])
	}

	negatives := make([]string, 0, 8)
	for _, group := range profile.SynonymGroups {
		if len(group) == 0 || !containsFold(group, "false") {
			continue
		}
		for _, term := range group {
			// Bare yes/no style tokens are too common in prose to mean "not eligible".
			if len(term) < 4 || strings.EqualFold(term, "false") {
				continue
			}
			negatives = append(negatives, term)
		}
	}
	for name, spec := range profile.Fields {
		if spec.Kind != domain.FieldBoolean {
			continue
		}
		var own, generic []string
		for _, neg := range negatives {
			if containsAnyWord(neg, terms[name]) {
				own = append(own, neg)
			} else {
				generic = append(generic, neg)
			}
		}
		in.fieldNegatives[name] = compileTerms(own)
		in.genericNegatives[name] = compileTerms(generic)
	}
	return in
}

// ExtractFields returns the subset of wanted fields the text speaks about. When the text
// mentions the wanted value itself, that value is returned so agreement is not lost to
// an unrelated number nearer an alias.
func (in *ProfileInterpreter) ExtractFields(text string, wanted map[string]any) map[string]any {
	out := make(map[string]any)
	if strings.TrimSpace(text) == "" {
		return out
	}
	names := make([]string, 0, len(wanted))
	for name := range wanted {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		expected := wanted[name]
		switch in.kindOf(name, expected) {
		case domain.FieldCurrency:
			if v, ok := in.numericField(text, name, expected, currencyPattern); ok {
				out[name] = v
			}
		case domain.FieldPercentage:
			if v, ok := in.numericField(text, name, expected, percentagePattern); ok {
				out[name] = v
			}
		case domain.FieldNumber:
			if v, ok := in.numericField(text, name, expected, numberPattern); ok {
				out[name] = v
			}
		case domain.FieldBoolean:
			if v, ok := in.booleanField(text, name); ok {
				out[name] = v
			}
		}
	}
	return out
}

func (in *ProfileInterpreter) kindOf(name string, expected any) domain.FieldKind {
	if kind := in.profile.FieldKindOf(name); kind != "" {
		return kind
	}
	switch expected.(type) {
	case bool:
		return domain.FieldBoolean
	case float64, float32, int, int64:
		return domain.FieldNumber
	default:
		return domain.FieldText
	}
}

func (in *ProfileInterpreter) numericField(text, name string, expected any, pattern *regexp.Regexp) (float64, bool) {
	mentions := findNumbers(text, pattern)
	if len(mentions) == 0 {
		return 0, false
	}
	if want, ok := asNumber(expected); ok {
		for _, m := range mentions {
			if numbersClose(m.value, want) {
				return m.value, true
			}
		}
	}

	aliasSpans := in.aliasSpans(text, name)
	if len(aliasSpans) == 0 {
		return 0, false
	}
	best := -1
	bestDistance := aliasWindowChars + 1
	for i, m := range mentions {
		for _, span := range aliasSpans {
			d := spanDistance(m.start, m.end, span[0], span[1])
			if d < bestDistance {
				best = i
				bestDistance = d
			}
		}
	}
	if best < 0 {
		return 0, false
	}
	return mentions[best].value, true
}

// booleanField only reads a value when the text names the field. A negative synonym
// counts when it embeds an alias or sits in the same sentence as one.
func (in *ProfileInterpreter) booleanField(text, name string) (bool, bool) {
	for _, re := range in.fieldNegatives[name] {
		if re.MatchString(text) {
			return false, true
		}
	}
	spans := in.aliasSpans(text, name)
	if len(spans) == 0 {
		return false, false
	}
	for _, span := range spans {
		if negationBefore.MatchString(text[max(0, span[0]-negationLookback):span[0]]) {
			return false, true
		}
		if in.genericNegativeNear(text, name, span) {
			return false, true
		}
	}
	return true, true
}

func (in *ProfileInterpreter) genericNegativeNear(text, name string, span []int) bool {
	lo, hi := sentenceBounds(text, span[0], span[1])
	for _, re := range in.genericNegatives[name] {
		for _, m := range re.FindAllStringIndex(text, -1) {
			if m[0] < lo || m[1] > hi {
				continue
			}
			if spanDistance(m[0], m[1], span[0], span[1]) <= aliasWindowChars {
				return true
			}
		}
	}
	return false
}

func sentenceBounds(text string, start, end int) (int, int) {
	lo := strings.LastIndexAny(text[:start], ".!?;\n") + 1
	hi := len(text)
	if i := strings.IndexAny(text[end:], ".!?;\n"); i >= 0 {
		hi = end + i
	}
	return lo, hi
}

func (in *ProfileInterpreter) aliasSpans(text, name string) [][]int {
	patterns, ok := in.aliases[name]
	if !ok {
		patterns = compileTerms([]string{strings.ReplaceAll(name, "_", " ")})
	}
	var spans [][]int
	for _, re := range patterns {
		spans = append(spans, re.FindAllStringIndex(text, -1)...)
	}
	return spans
}

func findNumbers(text string, pattern *regexp.Regexp) []numericMention {
	matches := pattern.FindAllStringSubmatchIndex(text, -1)
	out := make([]numericMention, 0, len(matches))
	for _, m := range matches {
		value, ok := parseNumericText(text[m[2]:m[3]])
		if !ok {
			continue
		}
		out = append(out, numericMention{value: value, start: m[0], end: m[1]})
	}
	return out
}

func spanDistance(aStart, aEnd, bStart, bEnd int) int {
	if aStart < bEnd && bStart < aEnd {
		return 0
	}
	if aEnd <= bStart {
		return bStart - aEnd
	}
	return aStart - bEnd
}

func compileTerms(terms []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(term)+`\b`))
	}
	return out
}

func containsAnyWord(phrase string, words []string) bool {
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w != "" && strings.Contains(strings.ToLower(phrase), strings.ToLower(w)) {
			return true
		}
	}
	return false
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}
