package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

type staticEmbedder struct {
	vector []float32
	err    error
}

func (e staticEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return e.vector, e.err
}

type searchRecorder struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (r *searchRecorder) add(body map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, body)
}

func TestSearchMapsPayloadToPassages(t *testing.T) {
	recorder := &searchRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/collections/ohip/points/search" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		recorder.add(body)
		_, _ = w.Write([]byte(`{"result":[{"id":"p1","score":0.82,"payload":{"text":"A135 pays $61.15","source":"sob.pdf","page":44}}]}`))
	}))
	defer server.Close()

	store := New(Config{URL: server.URL, Collection: "ohip"}, staticEmbedder{vector: []float32{0.1, 0.2}}, nil)
	passages, err := store.Search(context.Background(), "fee for A135", domain.SemanticFilter{Metadata: map[string]string{"source": "sob.pdf", "act": "HIA"}}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(passages) != 1 {
		t.Fatalf("expected 1 passage, got %d", len(passages))
	}
	p := passages[0]
	if p.Text != "A135 pays $61.15" {
		t.Fatalf("unexpected text %q", p.Text)
	}
	if _, ok := p.Metadata["text"]; ok {
		t.Fatalf("text must not leak into metadata: %+v", p.Metadata)
	}
	if p.Metadata["source"] != "sob.pdf" || p.Metadata["page"] != float64(44) {
		t.Fatalf("unexpected metadata %+v", p.Metadata)
	}
	if p.Score == nil || *p.Score != 0.82 {
		t.Fatalf("unexpected score %v", p.Score)
	}

	if len(recorder.bodies) != 1 {
		t.Fatalf("expected one search call, got %d", len(recorder.bodies))
	}
	filter, ok := recorder.bodies[0]["filter"].(map[string]any)
	if !ok {
		t.Fatalf("expected metadata filter in request: %+v", recorder.bodies[0])
	}
	must := filter["must"].([]any)
	if len(must) != 2 || must[0].(map[string]any)["key"] != "act" {
		t.Fatalf("expected sorted must clauses, got %+v", must)
	}
	if name := store.Name(); name != "qdrant:ohip" {
		t.Fatalf("unexpected name %q", name)
	}
}

func TestSearchFusesSparseResults(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Vector map[string]any `json:"vector"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		atomic.AddInt32(&calls, 1)
		if body.Vector["name"] == "lexical" {
			_, _ = w.Write([]byte(`{"result":[{"id":"p2","score":3.1,"payload":{"text":"second"}},{"id":"p1","score":2.0,"payload":{"text":"first"}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":[{"id":"p1","score":0.9,"payload":{"text":"first"}},{"id":"p3","score":0.5,"payload":{"text":"third"}}]}`))
	}))
	defer server.Close()

	store := New(Config{URL: server.URL, Collection: "adp", DenseVector: "dense", SparseVector: "lexical"}, staticEmbedder{vector: []float32{1}}, nil)
	passages, err := store.Search(context.Background(), "power wheelchair contribution", domain.SemanticFilter{}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected dense and sparse calls, got %d", calls)
	}
	if len(passages) != 2 || passages[0].Text != "first" {
		t.Fatalf("expected fused passages led by the shared hit, got %+v", passages)
	}
}

func TestSearchSparseFailureFallsBackToDense(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Vector map[string]any `json:"vector"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Vector["name"] == "lexical" {
			http.Error(w, "no sparse index", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"result":[{"id":"p1","score":0.9,"payload":{"text":"first"}}]}`))
	}))
	defer server.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	store := New(Config{URL: server.URL, Collection: "adp", SparseVector: "lexical", Logger: logger}, staticEmbedder{vector: []float32{1}}, nil)
	passages, err := store.Search(context.Background(), "wheelchair", domain.SemanticFilter{}, 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(passages) != 1 || passages[0].Text != "first" {
		t.Fatalf("expected dense passages, got %+v", passages)
	}
	if !strings.Contains(logs.String(), `"msg":"sparse_search_degraded"`) || !strings.Contains(logs.String(), "no sparse index") {
		t.Fatalf("expected sparse degradation warning, got %s", logs.String())
	}
}

func TestSearchErrorsCarrySourceKind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "collection missing", http.StatusNotFound)
	}))
	defer server.Close()

	store := New(Config{URL: server.URL, Collection: "ohip"}, staticEmbedder{vector: []float32{1}}, nil)
	_, err := store.Search(context.Background(), "A135", domain.SemanticFilter{}, 3)
	if !domain.IsKind(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "collection missing") {
		t.Fatalf("expected body in error, got %v", err)
	}

	embedFail := New(Config{URL: server.URL, Collection: "ohip"}, staticEmbedder{err: errors.New("embedder down")}, nil)
	if _, err := embedFail.Search(context.Background(), "A135", domain.SemanticFilter{}, 3); !domain.IsKind(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected embed failure to be source unavailable, got %v", err)
	}
}

func TestUpsertEnsuresCollectionOncePerVectorSize(t *testing.T) {
	var ensureCalls int32
	var upserted []map[string]any
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/adp":
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusConflict)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/adp/points":
			var body struct {
				Points []map[string]any `json:"points"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			upserted = append(upserted, body.Points...)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	store := New(Config{URL: server.URL, Collection: "adp", SparseVector: "lexical"}, staticEmbedder{}, nil)
	records := []PassageRecord{
		{Text: "ADP contributes 75%", Metadata: map[string]any{"source": "adp.pdf", "title": "Mobility"}},
		{ID: "0b5c1e1e-93a4-4c1e-9b2a-6d3f2c1a9e11", Text: "Repairs", Metadata: map[string]any{"source": "adp.pdf"}},
	}
	vectors := [][]float32{{0.1, 0.2}, {0.3, 0.4}}

	for i := 0; i < 2; i++ {
		if err := store.Upsert(context.Background(), records, vectors); err != nil {
			t.Fatalf("Upsert() #%d error = %v", i+1, err)
		}
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection called once, got %d", got)
	}
	if len(upserted) != 4 {
		t.Fatalf("expected 4 upserted points, got %d", len(upserted))
	}
	if upserted[1]["id"] != "0b5c1e1e-93a4-4c1e-9b2a-6d3f2c1a9e11" {
		t.Fatalf("expected valid id to be kept, got %v", upserted[1]["id"])
	}
	vector, ok := upserted[0]["vector"].(map[string]any)
	if !ok || vector["dense"] == nil || vector["lexical"] == nil {
		t.Fatalf("expected named dense and sparse vectors, got %+v", upserted[0]["vector"])
	}
	payload := upserted[0]["payload"].(map[string]any)
	if payload["text"] != "ADP contributes 75%" || payload["source"] != "adp.pdf" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestUpsertRejectsMismatchedVectors(t *testing.T) {
	store := New(Config{URL: "http://unused", Collection: "adp"}, staticEmbedder{}, nil)
	err := store.Upsert(context.Background(), []PassageRecord{{Text: "a"}}, [][]float32{{1}, {2}})
	if err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestPointIDIsStableForNamedPassages(t *testing.T) {
	const existing = "6f1c2a52-7a3e-4a0f-9a55-0d7d0b4b3c11"
	if got := pointID(existing); got != existing {
		t.Fatalf("uuid ids should pass through, got %q", got)
	}
	first, second := pointID("adp-12#0"), pointID(" adp-12#0 ")
	if first != second {
		t.Fatalf("expected stable id, got %q and %q", first, second)
	}
	if first == pointID("adp-12#1") {
		t.Fatalf("different passages must not share a point id")
	}
	if pointID("") == pointID("") {
		t.Fatalf("empty ids should get fresh uuids")
	}
}

func TestUpsertBoostsCitationHeadings(t *testing.T) {
	var (
		mu      sync.Mutex
		lexical map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/adp/points" {
			var body struct {
				Points []struct {
					Vector map[string]any `json:"vector"`
				} `json:"points"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			lexical, _ = body.Points[0].Vector["lexical"].(map[string]any)
			mu.Unlock()
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	store := New(Config{URL: server.URL, Collection: "adp", SparseVector: "lexical", SectionKey: "clause"}, staticEmbedder{}, nil)
	record := PassageRecord{Text: "ADP contributes 75%", Metadata: map[string]any{"clause": "Power wheelchairs"}}
	if err := store.Upsert(context.Background(), []PassageRecord{record}, [][]float32{{0.1}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	indices, _ := lexical["indices"].([]any)
	want := float64(hashToken("wheelchairs"))
	found := false
	for _, idx := range indices {
		if idx == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected section terms in the lexical vector, got %v", lexical)
	}
}
