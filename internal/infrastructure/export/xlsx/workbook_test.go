package xlsx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

func sampleResponse() *domain.Response {
	relevance := 8.5
	return &domain.Response{
		Items: []domain.Item{{
			Key:            "WC-1001",
			Origins:        []domain.Origin{domain.OriginRelational, domain.OriginSemantic},
			Fields:         map[string]any{"adp_contribution": 75.0, "code": "WC-1001"},
			Text:           "ADP contributes 50% toward a power wheelchair.",
			RelevanceScore: &relevance,
			Citations:      []domain.Citation{{Source: "adp_devices", Location: "WC-1001"}, {Source: "adp-manual.pdf", Location: "5.1", Page: 12}},
		}},
		Provenance: []domain.Origin{domain.OriginRelational, domain.OriginSemantic},
		Confidence: 0.88,
		ConfidenceBreakdown: &domain.ConfidenceBreakdown{
			RelationalHits: 1, SemanticHits: 1, ConflictPenalty: 0.10,
		},
		Conflicts: []domain.ConflictRecord{{
			EntityKey: "WC-1001", Field: "adp_contribution", RelationalValue: 75.0, SemanticValue: 50.0,
			KeptOrigin: domain.OriginRelational, Severity: domain.SeverityHigh, Resolution: "kept relational value",
		}},
		Followups: []string{"Confirm the current adp_contribution for WC-1001."},
		Strategy:  domain.StrategyHybridMerge,
		Sources: []domain.SourceReport{
			{Origin: domain.OriginRelational, Status: domain.SourceOK, Hits: 1, DurationMS: 3.2},
			{Origin: domain.OriginSemantic, Status: domain.SourceOK, Hits: 1, DurationMS: 41},
		},
	}
}

func TestWriteProducesAllSheets(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "ADP contribution for WC-1001", sampleResponse()))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetSummary, SheetItems, SheetConflicts, SheetSources}, f.GetSheetList())

	items, err := f.GetRows(SheetItems)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Key", items[0][0])
	assert.Equal(t, "WC-1001", items[1][0])
	assert.Equal(t, "relational, semantic", items[1][1])
	assert.Equal(t, "adp_contribution=75; code=WC-1001", items[1][3])

	conflicts, err := f.GetRows(SheetConflicts)
	require.NoError(t, err)
	require.Len(t, conflicts, 2)
	assert.Equal(t, []string{"WC-1001", "adp_contribution", "75", "50", "relational", "high", "kept relational value"}, conflicts[1])

	summary, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	assert.Equal(t, []string{"Query", "ADP contribution for WC-1001"}, summary[1])
	assert.Equal(t, []string{"Strategy", "hybrid_merge"}, summary[2])

	sources, err := f.GetRows(SheetSources)
	require.NoError(t, err)
	assert.Len(t, sources, 3)
}

func TestWriteFaultResponse(t *testing.T) {
	resp := &domain.Response{
		Items:      []domain.Item{},
		Provenance: []domain.Origin{},
		Fault:      &domain.Fault{Kind: domain.FaultAllSourcesFailed, Message: "every source failed"},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "A135", resp))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	summary, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	assert.Equal(t, []string{"Fault", "all_sources_failed: every source failed"}, summary[len(summary)-1])

	items, err := f.GetRows(SheetItems)
	require.NoError(t, err)
	assert.Len(t, items, 1, "header only")
}

func TestWriteRejectsNilResponse(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, "q", nil))
}
