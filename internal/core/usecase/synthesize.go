package usecase

import (
	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

// Evidence is the retrieval output handed to the synthesizer.
type Evidence struct {
	Relational []domain.EvidenceRecord
	Semantic   []domain.EvidenceRecord
}

// Synthesize builds the response. It is a pure function of its inputs, so identical
// inputs marshal to identical bytes.
func Synthesize(evidence Evidence, conflicts []domain.ConflictRecord, score domain.ConfidenceScore) *domain.Response {
	resp := &domain.Response{
		Items:      []domain.Item{},
		Provenance: []domain.Origin{},
		Citations:  []domain.Citation{},
		Conflicts:  append([]domain.ConflictRecord{}, conflicts...),
	}

	byKey := make(map[string]int)
	add := func(record domain.EvidenceRecord) {
		if record.Citation.IsEmpty() {
			return
		}
		key := normalizeKey(record.Key)
		if key != "" {
			if idx, ok := byKey[key]; ok {
				mergeInto(&resp.Items[idx], record)
				return
			}
		}
		resp.Items = append(resp.Items, newItem(record))
		if key != "" {
			byKey[key] = len(resp.Items) - 1
		}
	}
	for _, record := range evidence.Relational {
		add(record)
	}
	for _, record := range evidence.Semantic {
		add(record)
	}

	if len(resp.Items) == 0 {
		resp.Confidence = 0
		return resp
	}

	applyResolutions(resp.Items, byKey, conflicts)

	seenCitation := make(map[string]struct{})
	hasOrigin := map[domain.Origin]bool{}
	for _, item := range resp.Items {
		for _, origin := range item.Origins {
			hasOrigin[origin] = true
		}
		for _, citation := range item.Citations {
			if _, dup := seenCitation[citation.Key()]; dup {
				continue
			}
			seenCitation[citation.Key()] = struct{}{}
			resp.Citations = append(resp.Citations, citation)
		}
	}
	for _, origin := range []domain.Origin{domain.OriginRelational, domain.OriginSemantic} {
		if hasOrigin[origin] {
			resp.Provenance = append(resp.Provenance, origin)
		}
	}

	resp.Confidence = score.Value
	breakdown := score.Breakdown
	resp.ConfidenceBreakdown = &breakdown
	return resp
}

func newItem(record domain.EvidenceRecord) domain.Item {
	item := domain.Item{
		Key:       record.Key,
		Origins:   []domain.Origin{record.Origin},
		Fields:    record.FieldsCopy(),
		Title:     record.Title,
		Text:      record.Text,
		Citations: []domain.Citation{record.Citation},
	}
	if record.RelevanceScore != nil {
		score := *record.RelevanceScore
		item.RelevanceScore = &score
	}
	return item
}

// mergeInto keeps what the item already has and fills gaps from record.
func mergeInto(item *domain.Item, record domain.EvidenceRecord) {
	if !containsOrigin(item.Origins, record.Origin) {
		item.Origins = append(item.Origins, record.Origin)
	}
	for k, v := range record.Fields {
		if item.Fields == nil {
			item.Fields = make(map[string]any, len(record.Fields))
		}
		if _, exists := item.Fields[k]; !exists {
			item.Fields[k] = v
		}
	}
	if item.Title == "" {
		item.Title = record.Title
	}
	if item.Text == "" {
		item.Text = record.Text
	}
	if item.RelevanceScore == nil && record.RelevanceScore != nil {
		score := *record.RelevanceScore
		item.RelevanceScore = &score
	}
	for _, existing := range item.Citations {
		if existing.Key() == record.Citation.Key() {
			return
		}
	}
	item.Citations = append(item.Citations, record.Citation)
}

// applyResolutions writes the kept value of every conflict onto its entity. A conflict without
// an entity key belongs to the first relational item.
func applyResolutions(items []domain.Item, byKey map[string]int, conflicts []domain.ConflictRecord) {
	for _, conflict := range conflicts {
		idx := -1
		if key := normalizeKey(conflict.EntityKey); key != "" {
			if found, ok := byKey[key]; ok {
				idx = found
			}
		} else {
			for i := range items {
				if containsOrigin(items[i].Origins, domain.OriginRelational) {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			continue
		}
		if items[idx].Fields == nil {
			items[idx].Fields = make(map[string]any)
		}
		items[idx].Fields[conflict.Field] = conflict.KeptValue()
	}
}

func containsOrigin(origins []domain.Origin, origin domain.Origin) bool {
	for _, o := range origins {
		if o == origin {
			return true
		}
	}
	return false
}
