package usecase

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
	"github.com/stewmckendry/health-assistant/internal/core/ports"
)

const numericTolerance = 0.01

// ConflictPolicy decides equality and source authority for overlapping fields.
type ConflictPolicy struct {
	Structured []string
	Narrative  []string
	Critical   []string

	synonyms map[string]string
}

func NewConflictPolicy(profile *domain.DomainProfile, critical []string) ConflictPolicy {
	policy := ConflictPolicy{
		Structured: profile.StructuredVocabulary,
		Narrative:  profile.NarrativeVocabulary,
		Critical:   critical,
		synonyms:   make(map[string]string),
	}
	for _, group := range profile.SynonymGroups {
		if len(group) == 0 {
			continue
		}
		canonical := foldText(group[0])
		for _, term := range group {
			policy.synonyms[foldText(term)] = canonical
		}
	}
	return policy
}

// DetectConflicts compares only the keys both maps carry, in key order.
func DetectConflicts(relationalFields, semanticFields map[string]any, policy ConflictPolicy) []domain.ConflictRecord {
	keys := make([]string, 0, len(relationalFields))
	for k := range relationalFields {
		if _, ok := semanticFields[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]domain.ConflictRecord, 0)
	for _, field := range keys {
		relValue := relationalFields[field]
		semValue := semanticFields[field]
		if policy.Equal(relValue, semValue) {
			continue
		}
		kept, resolution := policy.resolve(field)
		out = append(out, domain.ConflictRecord{
			Field:           field,
			RelationalValue: relValue,
			SemanticValue:   semValue,
			Resolution:      resolution,
			KeptOrigin:      kept,
			Severity:        policy.severity(field),
		})
	}
	return out
}

// Equal applies the per-type equality rules: bool exact, numbers within 1%,
// strings folded through the synonym table, lists as sets.
func (p ConflictPolicy) Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	listA, isListA := asList(a)
	listB, isListB := asList(b)
	if isListA || isListB {
		if !isListA {
			listA = splitListText(p.canonical(a))
		}
		if !isListB {
			listB = splitListText(p.canonical(b))
		}
		return p.sameSet(listA, listB)
	}

	boolA, isBoolA := a.(bool)
	boolB, isBoolB := b.(bool)
	if isBoolA && isBoolB {
		return boolA == boolB
	}

	numA, isNumA := asNumber(a)
	numB, isNumB := asNumber(b)
	if isNumA && isNumB {
		return numbersClose(numA, numB)
	}

	return p.canonical(a) == p.canonical(b)
}

func (p ConflictPolicy) canonical(v any) string {
	var s string
	switch t := v.(type) {
	case bool:
		s = strconv.FormatBool(t)
	case string:
		s = t
	default:
		if n, ok := asNumber(v); ok {
			s = strconv.FormatFloat(n, 'f', -1, 64)
		} else {
			s = fmt.Sprintf("%v", v)
		}
	}
	s = foldText(s)
	if mapped, ok := p.synonyms[s]; ok {
		return mapped
	}
	return s
}

func (p ConflictPolicy) sameSet(a, b []any) bool {
	setA := make(map[string]struct{}, len(a))
	for _, v := range a {
		setA[p.canonical(v)] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, v := range b {
		setB[p.canonical(v)] = struct{}{}
	}
	if len(setA) != len(setB) {
		return false
	}
	for k := range setA {
		if _, ok := setB[k]; !ok {
			return false
		}
	}
	return true
}

func (p ConflictPolicy) resolve(field string) (domain.Origin, string) {
	switch {
	case matchesVocabulary(field, p.Structured):
		return domain.OriginRelational, fmt.Sprintf("kept relational value: %s is a structured field and the relational store is authoritative for it", field)
	case matchesVocabulary(field, p.Narrative):
		return domain.OriginSemantic, fmt.Sprintf("kept semantic value: %s is a narrative field and the source documents are authoritative for it", field)
	default:
		return domain.OriginRelational, "kept relational value: relational store assumed more recent/authoritative"
	}
}

func (p ConflictPolicy) severity(field string) domain.Severity {
	for _, critical := range p.Critical {
		if strings.EqualFold(strings.TrimSpace(critical), field) {
			return domain.SeverityHigh
		}
	}
	return domain.SeverityMedium
}

// matchesVocabulary matches the whole field name or any of its underscore-separated parts.
func matchesVocabulary(field string, vocabulary []string) bool {
	name := strings.ToLower(strings.TrimSpace(field))
	parts := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for _, word := range vocabulary {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" {
			continue
		}
		if name == word {
			return true
		}
		for _, part := range parts {
			if part == word {
				return true
			}
		}
	}
	return false
}

// ConflictEngine pairs semantic evidence with the relational record it describes.
type ConflictEngine struct {
	profile     *domain.DomainProfile
	interpreter ports.FieldInterpreter
}

func NewConflictEngine(profile *domain.DomainProfile, interpreter ports.FieldInterpreter) *ConflictEngine {
	return &ConflictEngine{profile: profile, interpreter: interpreter}
}

// Reconcile returns the conflicts between the two origins. A keyless passage is only
// compared when exactly one relational record exists.
func (e *ConflictEngine) Reconcile(relational, semantic []domain.EvidenceRecord, critical []string) []domain.ConflictRecord {
	out := make([]domain.ConflictRecord, 0)
	if len(relational) == 0 || len(semantic) == 0 {
		return out
	}

	byKey := make(map[string]domain.EvidenceRecord, len(relational))
	for _, record := range relational {
		key := normalizeKey(record.Key)
		if key == "" {
			continue
		}
		if _, exists := byKey[key]; !exists {
			byKey[key] = record
		}
	}

	policy := NewConflictPolicy(e.profile, critical)
	seen := make(map[string]struct{})
	for _, passage := range semantic {
		target, ok := e.pair(passage, relational, byKey)
		if !ok {
			continue
		}
		for _, conflict := range DetectConflicts(e.comparableFields(target), e.semanticFields(passage, target), policy) {
			conflict.EntityKey = target.Key
			dedupe := normalizeKey(conflict.EntityKey) + "\x00" + conflict.Field + "\x00" + policy.canonical(conflict.SemanticValue)
			if _, dup := seen[dedupe]; dup {
				continue
			}
			seen[dedupe] = struct{}{}
			out = append(out, conflict)
		}
	}
	return out
}

func (e *ConflictEngine) pair(passage domain.EvidenceRecord, relational []domain.EvidenceRecord, byKey map[string]domain.EvidenceRecord) (domain.EvidenceRecord, bool) {
	key := normalizeKey(passage.Key)
	if key != "" {
		record, ok := byKey[key]
		return record, ok
	}
	if len(relational) == 1 {
		return relational[0], true
	}
	return domain.EvidenceRecord{}, false
}

func (e *ConflictEngine) comparableFields(record domain.EvidenceRecord) map[string]any {
	fields := record.FieldsCopy()
	delete(fields, e.profile.NaturalKey)
	return fields
}

func (e *ConflictEngine) semanticFields(passage, target domain.EvidenceRecord) map[string]any {
	fields := passage.FieldsCopy()
	if fields == nil {
		fields = make(map[string]any)
	}
	delete(fields, e.profile.NaturalKey)
	if e.interpreter == nil || strings.TrimSpace(passage.Text) == "" {
		return fields
	}

	wanted := make(map[string]any)
	for k, v := range target.Fields {
		if k == e.profile.NaturalKey {
			continue
		}
		if _, present := fields[k]; present {
			continue
		}
		wanted[k] = v
	}
	if len(wanted) == 0 {
		return fields
	}
	for k, v := range e.interpreter.ExtractFields(passage.Text, wanted) {
		fields[k] = v
	}
	return fields
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		return parseNumericText(t)
	default:
		return 0, false
	}
}

// parseNumericText accepts "$1,234.50", "75%" and plain numbers.
func parseNumericText(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func numbersClose(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= numericTolerance*scale
}

func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, 0, len(t))
		for _, s := range t {
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func splitListText(s string) []any {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]any, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func foldText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
