package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
	"github.com/stewmckendry/health-assistant/internal/core/ports"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/resilience"
)

const schema = `
CREATE TABLE IF NOT EXISTS evidence_rows (
	entity_key  TEXT NOT NULL,
	source      TEXT NOT NULL,
	location    TEXT NOT NULL DEFAULT '',
	page        INTEGER NOT NULL DEFAULT 0,
	fields      TEXT NOT NULL DEFAULT '{}',
	search_text TEXT NOT NULL DEFAULT '',
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (entity_key, source)
);

CREATE INDEX IF NOT EXISTS idx_evidence_rows_key_upper ON evidence_rows (upper(entity_key));
`

// RelationalStore is the embedded relational source for local runs and the CLI.
type RelationalStore struct {
	db       *sql.DB
	executor *resilience.Executor
	logger   *slog.Logger
}

var _ ports.RelationalStore = (*RelationalStore)(nil)

// Open opens the database file (or ":memory:") and applies the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func NewRelationalStore(db *sql.DB, executor *resilience.Executor, logger *slog.Logger) *RelationalStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelationalStore{db: db, executor: executor, logger: logger.With("component", "sqlite-store")}
}

func (s *RelationalStore) Name() string {
	return "sqlite"
}

func (s *RelationalStore) UpsertRows(ctx context.Context, rows []domain.RelationalRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, row := range rows {
		if strings.TrimSpace(row.Key) == "" {
			return domain.WrapError(domain.ErrInvalidInput, "upsert evidence row", fmt.Errorf("row without key"))
		}
		fieldsJSON, err := json.Marshal(row.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields for %s: %w", row.Key, err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO evidence_rows (entity_key, source, location, page, fields, search_text, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (entity_key, source) DO UPDATE
SET location = excluded.location, page = excluded.page, fields = excluded.fields,
	search_text = excluded.search_text, updated_at = excluded.updated_at
`, row.Key, row.Source, row.Location, row.Page, string(fieldsJSON), strings.ToLower(row.SearchText()), now)
		if err != nil {
			return fmt.Errorf("upsert evidence row %s: %w", row.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

func (s *RelationalStore) Query(ctx context.Context, filter domain.RelationalFilter) ([]domain.RelationalRow, error) {
	query, args, ok := buildQuery(filter)
	if !ok {
		return []domain.RelationalRow{}, nil
	}
	rows, err := resilience.Do(ctx, s.executor, "sqlite.query", func(callCtx context.Context) ([]domain.RelationalRow, error) {
		return s.query(callCtx, query, args)
	}, resilience.ClassifyTransportError)
	if err != nil {
		return nil, resilience.SourceError("sqlite query", err)
	}
	return rows, nil
}

func (s *RelationalStore) query(ctx context.Context, query string, args []any) ([]domain.RelationalRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query evidence rows: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RelationalRow, 0)
	for rows.Next() {
		var row domain.RelationalRow
		var fieldsRaw string
		if err := rows.Scan(&row.Key, &row.Source, &row.Location, &row.Page, &fieldsRaw); err != nil {
			return nil, fmt.Errorf("scan evidence row: %w", err)
		}
		if fieldsRaw != "" {
			if err := json.Unmarshal([]byte(fieldsRaw), &row.Fields); err != nil {
				return nil, fmt.Errorf("unmarshal fields for %s: %w", row.Key, err)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence rows: %w", err)
	}
	return out, nil
}

func buildQuery(filter domain.RelationalFilter) (string, []any, bool) {
	var (
		conds []string
		args  []any
	)

	if len(filter.Identifiers) > 0 {
		placeholders := make([]string, 0, len(filter.Identifiers))
		for _, id := range filter.Identifiers {
			placeholders = append(placeholders, "?")
			args = append(args, strings.ToUpper(strings.TrimSpace(id)))
		}
		conds = append(conds, "upper(entity_key) IN ("+strings.Join(placeholders, ", ")+")")
	}

	for _, r := range filter.Ranges {
		path := jsonPath(r.Field)
		conds = append(conds, fmt.Sprintf(
			"(CASE WHEN json_type(fields, ?) IN ('integer', 'real') THEN json_extract(fields, ?) END) %s ?",
			r.Op.SQL(),
		))
		args = append(args, path, path, r.Value)
	}

	keys := make([]string, 0, len(filter.Equals))
	for k := range filter.Equals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		conds = append(conds, "lower(CAST(json_extract(fields, ?) AS TEXT)) = lower(?)")
		args = append(args, jsonPath(k), filter.Equals[k])
	}

	orderBy := "entity_key"
	terms := likeTerms(filter.Terms)
	if len(terms) > 0 {
		likes := make([]string, 0, len(terms))
		for range terms {
			likes = append(likes, "search_text LIKE ? ESCAPE '\\'")
		}
		conds = append(conds, "("+strings.Join(likes, " OR ")+")")
		for _, t := range terms {
			args = append(args, t)
		}
		// Rows matching more terms rank first.
		orderBy = "(" + strings.Join(likes, ") + (") + ") DESC, entity_key"
		for _, t := range terms {
			args = append(args, t)
		}
	}

	if len(conds) == 0 {
		return "", nil, false
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)
	query := `
SELECT entity_key, source, location, page, fields
FROM evidence_rows
WHERE ` + strings.Join(conds, "\n\tAND ") + `
ORDER BY ` + orderBy + `
LIMIT ?`
	return query, args, true
}

func jsonPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, ``) + `"`
}

func likeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	for _, term := range terms {
		clean := strings.ToLower(strings.TrimSpace(term))
		if clean == "" {
			continue
		}
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, "%"+replacer.Replace(clean)+"%")
	}
	return out
}
