package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
	"github.com/stewmckendry/health-assistant/internal/core/ports"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/resilience"
)

const schemaLockID = int64(2026101901)

// RelationalStore answers structured lookups from the evidence_rows table.
type RelationalStore struct {
	db       *sql.DB
	name     string
	executor *resilience.Executor
	logger   *slog.Logger
}

var _ ports.RelationalStore = (*RelationalStore)(nil)

func NewRelationalStore(db *sql.DB, executor *resilience.Executor, logger *slog.Logger) *RelationalStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelationalStore{
		db:       db,
		name:     "postgres",
		executor: executor,
		logger:   logger.With("component", "postgres-store"),
	}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (s *RelationalStore) Name() string {
	return s.name
}

func (s *RelationalStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS evidence_rows (
	entity_key TEXT NOT NULL,
	source TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT '',
	page INTEGER NOT NULL DEFAULT 0,
	fields JSONB NOT NULL DEFAULT '{}'::jsonb,
	search_text TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (entity_key, source)
);

CREATE INDEX IF NOT EXISTS idx_evidence_rows_key_upper ON evidence_rows (upper(entity_key));
CREATE INDEX IF NOT EXISTS idx_evidence_rows_search ON evidence_rows USING GIN (to_tsvector('simple', search_text));
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// UpsertRows loads rows keyed by (entity key, source).
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

	now := time.Now().UTC()
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
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (entity_key, source) DO UPDATE
SET location = EXCLUDED.location, page = EXCLUDED.page, fields = EXCLUDED.fields,
	search_text = EXCLUDED.search_text, updated_at = EXCLUDED.updated_at
`, row.Key, row.Source, row.Location, row.Page, fieldsJSON, row.SearchText(), now)
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

	rows, err := resilience.Do(ctx, s.executor, "postgres.query", func(callCtx context.Context) ([]domain.RelationalRow, error) {
		return s.query(callCtx, query, args)
	}, resilience.ClassifyTransportError)
	if err != nil {
		return nil, resilience.SourceError("postgres query", err)
	}
	s.logger.Debug("relational_query", "rows", len(rows), "identifiers", len(filter.Identifiers), "terms", len(filter.Terms))
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
		var fieldsRaw []byte
		if err := rows.Scan(&row.Key, &row.Source, &row.Location, &row.Page, &fieldsRaw); err != nil {
			return nil, fmt.Errorf("scan evidence row: %w", err)
		}
		if len(fieldsRaw) > 0 {
			if err := json.Unmarshal(fieldsRaw, &row.Fields); err != nil {
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

// buildQuery reports false when the filter carries nothing to match on.
func buildQuery(filter domain.RelationalFilter) (string, []any, bool) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Identifiers) > 0 {
		placeholders := make([]string, 0, len(filter.Identifiers))
		for _, id := range filter.Identifiers {
			placeholders = append(placeholders, next(strings.ToUpper(strings.TrimSpace(id))))
		}
		conds = append(conds, "upper(entity_key) IN ("+strings.Join(placeholders, ", ")+")")
	}

	for _, r := range filter.Ranges {
		field := next(r.Field)
		conds = append(conds, fmt.Sprintf(
			"(CASE WHEN jsonb_typeof(fields->%s) = 'number' THEN (fields->>%s)::numeric END) %s %s",
			field, field, r.Op.SQL(), next(r.Value),
		))
	}

	for _, k := range sortedKeys(filter.Equals) {
		conds = append(conds, fmt.Sprintf("lower(fields->>%s) = lower(%s)", next(k), next(filter.Equals[k])))
	}

	tsQuery := tsQueryFromTerms(filter.Terms)
	orderBy := "entity_key"
	if tsQuery != "" {
		placeholder := next(tsQuery)
		conds = append(conds, fmt.Sprintf("to_tsvector('simple', search_text) @@ to_tsquery('simple', %s)", placeholder))
		orderBy = fmt.Sprintf("ts_rank(to_tsvector('simple', search_text), to_tsquery('simple', %s)) DESC, entity_key", placeholder)
	}

	if len(conds) == 0 {
		return "", nil, false
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	query := `
SELECT entity_key, source, location, page, fields
FROM evidence_rows
WHERE ` + strings.Join(conds, "\n\tAND ") + `
ORDER BY ` + orderBy + `
LIMIT ` + next(limit)
	return query, args, true
}

// tsQueryFromTerms ORs the sanitized terms so any one of them can match.
func tsQueryFromTerms(terms []string) string {
	seen := make(map[string]struct{}, len(terms))
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, term)
		if clean == "" {
			continue
		}
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		parts = append(parts, clean)
	}
	return strings.Join(parts, " | ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
