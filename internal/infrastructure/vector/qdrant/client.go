package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
	"github.com/stewmckendry/health-assistant/internal/core/ports"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/resilience"
)

const (
	textPayloadKey = "text"
	defaultRRFK    = 60
)

type Config struct {
	URL        string
	Collection string
	// DenseVector names the dense vector; empty means the collection's unnamed default vector.
	DenseVector string
	// SparseVector enables lexical search fused with the dense results.
	SparseVector string
	RRFK         int
	Timeout      time.Duration
	// TitleKey and SectionKey name payload fields whose values are boosted in the
	// lexical vector. They follow the profile's citation keys.
	TitleKey   string
	SectionKey string
	Logger     *slog.Logger
}

// PassageStore implements ports.SemanticStore over the Qdrant REST API.
type PassageStore struct {
	cfg        Config
	baseURL    string
	embedder   ports.Embedder
	executor   *resilience.Executor
	httpClient *http.Client
	logger     *slog.Logger

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

// PassageRecord is one passage deposited by the ingestion side.
type PassageRecord struct {
	ID       string         `json:"id,omitempty"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func New(cfg Config, embedder ports.Embedder, executor *resilience.Executor) *PassageStore {
	if cfg.RRFK <= 0 {
		cfg.RRFK = defaultRRFK
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TitleKey == "" {
		cfg.TitleKey = "title"
	}
	if cfg.SectionKey == "" {
		cfg.SectionKey = "section"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PassageStore{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		embedder:   embedder,
		executor:   executor,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "qdrant", "collection", cfg.Collection),
	}
}

func (s *PassageStore) Name() string {
	return "qdrant:" + s.cfg.Collection
}

func (s *PassageStore) Search(ctx context.Context, query string, filter domain.SemanticFilter, limit int) ([]domain.Passage, error) {
	if limit <= 0 {
		limit = 10
	}
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, resilience.SourceError("qdrant embed query", err)
	}

	dense, err := resilience.Do(ctx, s.executor, "qdrant.search", func(callCtx context.Context) ([]scoredPoint, error) {
		return s.search(callCtx, s.denseQuery(vector), filter, limit)
	}, resilience.ClassifyTransportError)
	if err != nil {
		return nil, resilience.SourceError("qdrant dense search", err)
	}

	if s.cfg.SparseVector == "" {
		return toPassages(dense), nil
	}
	sparse := encodeSparseQuery(query)
	if len(sparse.Indices) == 0 {
		return toPassages(dense), nil
	}
	lexical, err := resilience.Do(ctx, s.executor, "qdrant.search_sparse", func(callCtx context.Context) ([]scoredPoint, error) {
		return s.search(callCtx, map[string]any{"name": s.cfg.SparseVector, "vector": sparse}, filter, limit)
	}, resilience.ClassifyTransportError)
	if err != nil {
		s.logger.Warn("sparse_search_degraded",
			"sparse_vector", s.cfg.SparseVector,
			"dense_hits", len(dense),
			"error", err,
		)
		return toPassages(dense), nil
	}
	return toPassages(trimPoints(fusePointsRRF(dense, lexical, s.cfg.RRFK), limit)), nil
}

// Upsert indexes passages with their dense and, when enabled, sparse vectors.
func (s *PassageStore) Upsert(ctx context.Context, records []PassageRecord, vectors [][]float32) error {
	if len(records) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(records) != len(vectors) {
		return fmt.Errorf("passages/vectors mismatch")
	}
	if err := s.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  any            `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(records))
	for i, record := range records {
		id := pointID(record.ID)
		payload := make(map[string]any, len(record.Metadata)+1)
		for k, v := range record.Metadata {
			payload[k] = v
		}
		payload[textPayloadKey] = record.Text

		points = append(points, point{ID: id, Vector: s.pointVector(record, vectors[i]), Payload: payload})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", s.baseURL, s.cfg.Collection)
	_, err := resilience.Do(ctx, s.executor, "qdrant.upsert", func(callCtx context.Context) (struct{}, error) {
		return struct{}{}, s.doJSON(callCtx, http.MethodPut, url, map[string]any{"points": points}, nil, "upsert")
	}, resilience.ClassifyTransportError)
	return err
}

// pointID keeps UUIDs, maps other ids to a stable UUID so re-seeding
// overwrites, and generates one when the id is empty.
func pointID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return uuid.NewString()
	}
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("evidence-passage:"+id)).String()
}

func (s *PassageStore) pointVector(record PassageRecord, dense []float32) any {
	if s.cfg.DenseVector == "" && s.cfg.SparseVector == "" {
		return dense
	}
	named := map[string]any{}
	denseName := s.cfg.DenseVector
	if denseName == "" {
		denseName = "dense"
	}
	named[denseName] = dense
	if s.cfg.SparseVector != "" {
		named[s.cfg.SparseVector] = encodeSparseDocument(record.Text,
			metadataString(record.Metadata, s.cfg.TitleKey),
			metadataString(record.Metadata, s.cfg.SectionKey),
		)
	}
	return named
}

func (s *PassageStore) denseQuery(vector []float32) any {
	if s.cfg.DenseVector == "" && s.cfg.SparseVector == "" {
		return vector
	}
	name := s.cfg.DenseVector
	if name == "" {
		name = "dense"
	}
	return map[string]any{"name": name, "vector": vector}
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (s *PassageStore) search(ctx context.Context, vector any, filter domain.SemanticFilter, limit int) ([]scoredPoint, error) {
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if must := buildMustFilter(filter); len(must) > 0 {
		reqBody["filter"] = map[string]any{"must": must}
	}

	var searchResp struct {
		Result []scoredPoint `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", s.baseURL, s.cfg.Collection)
	if err := s.doJSON(ctx, http.MethodPost, url, reqBody, &searchResp, "search"); err != nil {
		return nil, err
	}
	return searchResp.Result, nil
}

func buildMustFilter(filter domain.SemanticFilter) []map[string]any {
	if len(filter.Metadata) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter.Metadata))
	for k := range filter.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": filter.Metadata[k]},
		})
	}
	return must
}

func (s *PassageStore) doJSON(ctx context.Context, method, url string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError("qdrant", operation, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (s *PassageStore) ensureCollection(ctx context.Context, vectorSize int) error {
	s.ensureMu.Lock()
	if s.ensuredCollection && s.ensuredVectorSize == vectorSize {
		s.ensureMu.Unlock()
		return nil
	}
	s.ensureMu.Unlock()

	reqBody := map[string]any{}
	denseConfig := map[string]any{"size": vectorSize, "distance": "Cosine"}
	if s.cfg.DenseVector == "" && s.cfg.SparseVector == "" {
		reqBody["vectors"] = denseConfig
	} else {
		name := s.cfg.DenseVector
		if name == "" {
			name = "dense"
		}
		reqBody["vectors"] = map[string]any{name: denseConfig}
	}
	if s.cfg.SparseVector != "" {
		reqBody["sparse_vectors"] = map[string]any{s.cfg.SparseVector: map[string]any{}}
	}

	url := fmt.Sprintf("%s/collections/%s", s.baseURL, s.cfg.Collection)
	err := s.doJSON(ctx, http.MethodPut, url, reqBody, nil, "ensure collection")
	var statusErr *resilience.HTTPStatusError
	// 409 when the collection already exists.
	if err != nil && !(errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict) {
		return err
	}

	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	s.ensuredCollection = true
	s.ensuredVectorSize = vectorSize
	return nil
}

func toPassages(points []scoredPoint) []domain.Passage {
	out := make([]domain.Passage, 0, len(points))
	for _, p := range points {
		metadata := make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			if k == textPayloadKey {
				continue
			}
			metadata[k] = v
		}
		score := p.Score
		out = append(out, domain.Passage{
			Text:     getStringPayload(p.Payload, textPayloadKey),
			Metadata: metadata,
			Score:    &score,
		})
	}
	return out
}

func metadataString(metadata map[string]any, key string) string {
	v, ok := metadata[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
