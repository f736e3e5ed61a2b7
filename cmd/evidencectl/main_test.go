package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func localEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RELATIONAL_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "evidence.db"))
	t.Setenv("JUDGE_PROVIDER", "lexical")
	t.Setenv("EMBED_PROVIDER", "ollama")
	t.Setenv("OLLAMA_URL", "http://127.0.0.1:1")
	t.Setenv("QDRANT_URL", "http://127.0.0.1:1")
	t.Setenv("DOMAIN_PROFILE_PATH", "")
}

func TestClassifyCommand(t *testing.T) {
	t.Setenv("DOMAIN_PROFILE_PATH", "")

	out, err := runCLI(t, "classify", "A135")
	require.NoError(t, err)
	assert.Contains(t, out, "Strategy: relational_only")
	assert.Contains(t, out, "Identifiers: A135")

	out, err = runCLI(t, "classify", "--json", "--id", "WC-1001", "anything")
	require.NoError(t, err)
	var cls domain.Classification
	require.NoError(t, json.Unmarshal([]byte(out), &cls))
	assert.Equal(t, domain.StrategyRelationalOnly, cls.Strategy)
	assert.Equal(t, []string{"WC-1001"}, cls.Identifiers)
}

func TestClassifyRejectsEmptyQuestion(t *testing.T) {
	_, err := runCLI(t, "classify")
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput), "got %v", err)
}

func TestSeedThenAnswerAgainstSQLite(t *testing.T) {
	localEnv(t)
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(`
rows:
  - key: A135
    source: ohip_schedule
    location: A135
    page: 44
    fields: {code: A135, fee: 61.15, description: general re-assessment}
`), 0o600))

	out, err := runCLI(t, "seed", seedPath)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 1 rows and 0 passages")

	exportPath := filepath.Join(dir, "answer.xlsx")
	out, err = runCLI(t, "answer", "--id", "A135", "--json", "--export", exportPath)
	require.NoError(t, err)

	var resp domain.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "A135", resp.Items[0].Key)
	assert.Equal(t, domain.StrategyRelationalOnly, resp.Strategy)
	assert.Nil(t, resp.Fault)

	info, err := os.Stat(exportPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	out, err = runCLI(t, "answer", "--id", "A135", "--relational-timeout", "2s", "--semantic-timeout", "50ms")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] A135 (relational)")
	assert.Contains(t, out, "cite: ohip_schedule §A135 p.44")
}

func TestAnswerRejectsMalformedTimeout(t *testing.T) {
	localEnv(t)
	_, err := runCLI(t, "answer", "--id", "A135", "--relational-timeout", "soon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relational-timeout")
}

func TestParseSeedFile(t *testing.T) {
	rows, passages, err := parseSeedFile([]byte(`{
  "rows": [{"key": "WC-1001", "source": "adp_devices", "fields": {"adp_contribution": 75}}],
  "passages": [{"text": "ADP contributes 75% of the approved price.", "metadata": {"source": "adp.pdf", "page": 12}}]
}`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Len(t, passages, 1)
	assert.Equal(t, "WC-1001", rows[0].Key)
	assert.Equal(t, 75, rows[0].Fields["adp_contribution"])
	assert.Equal(t, "adp.pdf", passages[0].Metadata["source"])

	_, _, err = parseSeedFile([]byte("rows:\n  - source: x\n"))
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))

	_, _, err = parseSeedFile([]byte("passages:\n  - metadata: {a: b}\n"))
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestRootListsCommands(t *testing.T) {
	names := make([]string, 0)
	for _, cmd := range newRootCmd().Commands() {
		names = append(names, cmd.Name())
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"classify", "answer", "seed", "mcp"} {
		assert.Contains(t, joined, want)
	}
}
