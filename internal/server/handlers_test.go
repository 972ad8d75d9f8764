package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kiku/internal/chunker"
	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/extract"
	"github.com/hyperjump/kiku/internal/generation"
	"github.com/hyperjump/kiku/internal/index"
	"github.com/hyperjump/kiku/internal/indexer"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/rag"
	"github.com/hyperjump/kiku/internal/search"
	"github.com/hyperjump/kiku/internal/storage"
	"github.com/hyperjump/kiku/internal/watcher"
	"go.uber.org/zap"
)

type mockWatchService struct {
	roots []watcher.Root
}

func (m *mockWatchService) Roots() []watcher.Root {
	return append([]watcher.Root(nil), m.roots...)
}

func (m *mockWatchService) AddDirectory(dir, ns string, _ bool) error {
	for _, r := range m.roots {
		if r.Directory == dir {
			return nil
		}
	}
	m.roots = append(m.roots, watcher.Root{Directory: dir, Namespace: ns})
	return nil
}

func (m *mockWatchService) RemoveDirectory(dir string) error {
	for i, r := range m.roots {
		if r.Directory == dir {
			m.roots = append(m.roots[:i], m.roots[i+1:]...)
			return nil
		}
	}
	return nil
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, generation.Request) (json.RawMessage, error) {
	return nil, fmt.Errorf("%w: upstream returned 503", models.ErrGeneration)
}

type testEnv struct {
	handler http.Handler
	store   *index.Store
}

func newTestEnv(t *testing.T, gen generation.Generator, opts ...Option) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kiku.db")
	st, err := storage.NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{}
	cfg.Storage.Path = path
	config.ApplyDefaults(cfg)

	emb := embedding.NewMockEmbedder(8)
	store := index.NewStore(st)
	idx := indexer.NewIndexer(store, emb, chunker.NewChunker(5, chunker.RegexSplitter{}), extract.NewExtractor())
	retriever := search.NewRetriever(emb, store, &cfg.Retrieval)
	orch := rag.NewOrchestrator(idx, retriever, gen)
	srv := NewServer(orch, store, cfg, zap.NewNop(), opts...)
	return &testEnv{handler: srv.Handler(), store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestAddContextAndQuery(t *testing.T) {
	env := newTestEnv(t, generation.EchoGenerator{})

	rec := env.do(t, http.MethodPost, "/context/doc-1", map[string]string{"context": "Paris is in France. Rome is in Italy."})
	if rec.Code != http.StatusOK {
		t.Fatalf("add context: %d %s", rec.Code, rec.Body)
	}
	var added map[string]interface{}
	decode(t, rec, &added)
	if added["status"] != "Context added successfully for context ID doc-1" {
		t.Errorf("status = %v", added["status"])
	}

	rec = env.do(t, http.MethodPost, "/query/doc-1", map[string]string{"query": "Where is Paris?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("query: %d %s", rec.Code, rec.Body)
	}
	var echoed generation.Request
	decode(t, rec, &echoed)
	if echoed.Question != "Where is Paris?" || len(echoed.RetrievedChunks) != 1 {
		t.Errorf("echoed = %+v", echoed)
	}
}

func TestLegacyRouteErrors(t *testing.T) {
	env := newTestEnv(t, generation.EchoGenerator{})
	tests := []struct {
		name, path string
		body       interface{}
		status     int
		message    string
	}{
		{"context missing", "/context/doc-1", map[string]string{}, http.StatusBadRequest, "Context data is missing"},
		{"context not json", "/context/doc-1", "{", http.StatusBadRequest, "Context data is missing"},
		{"query missing", "/query/doc-1", map[string]string{}, http.StatusBadRequest, "Query parameter is missing"},
		{"unknown namespace", "/query/nobody", map[string]string{"query": "hi"}, http.StatusNotFound, "No context found for context ID nobody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			var out map[string]string
			decode(t, rec, &out)
			if out["error"] != tt.message {
				t.Errorf("error = %q, want %q", out["error"], tt.message)
			}
		})
	}
}

func TestIngestRetrieveAndStats(t *testing.T) {
	env := newTestEnv(t, generation.EchoGenerator{})
	doc := "One. Two. Three. Four. Five. Six. Seven. Eight. Nine. Ten. Eleven. Twelve."

	rec := env.do(t, http.MethodPost, "/api/v1/namespaces/doc-1/documents", map[string]string{"text": doc})
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest: %d %s", rec.Code, rec.Body)
	}
	var ing rag.IngestResponse
	decode(t, rec, &ing)
	if ing.Chunks != 3 || ing.Size != 3 || ing.IngestID == "" {
		t.Errorf("ingest = %+v", ing)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/namespaces/doc-1/retrieve", map[string]interface{}{"query": "Six. Seven.", "k": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("retrieve: %d %s", rec.Code, rec.Body)
	}
	var ret rag.RetrieveResponse
	decode(t, rec, &ret)
	if len(ret.Results) != 2 {
		t.Errorf("results = %+v", ret.Results)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/namespaces/doc-1", nil)
	var info models.NamespaceInfo
	decode(t, rec, &info)
	if rec.Code != http.StatusOK || info.Chunks != 3 || info.Dimensions != 8 {
		t.Errorf("stats: %d %+v", rec.Code, info)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/namespaces", nil)
	var list struct {
		Namespaces []models.NamespaceInfo `json:"namespaces"`
	}
	decode(t, rec, &list)
	if len(list.Namespaces) != 1 || list.Namespaces[0].Name != "doc-1" {
		t.Errorf("list = %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/status", nil)
	var status map[string]interface{}
	decode(t, rec, &status)
	if status["namespaces"] != float64(1) || status["chunks"] != float64(3) {
		t.Errorf("status = %v", status)
	}
}

func TestEscapedNamespaceMatchesStorageKey(t *testing.T) {
	env := newTestEnv(t, generation.EchoGenerator{})
	ctx := context.Background()

	tests := []struct {
		segment string
		name    string
	}{
		{"team%2Falpha", "team/alpha"},
		{"100%25", "100%"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/namespaces/"+tt.segment+"/documents", map[string]string{"text": "Paris is in France."})
			if rec.Code != http.StatusCreated {
				t.Fatalf("ingest: %d %s", rec.Code, rec.Body)
			}
			var ing rag.IngestResponse
			decode(t, rec, &ing)
			if ing.Namespace != tt.name {
				t.Errorf("namespace = %q, want %q", ing.Namespace, tt.name)
			}
			if _, err := env.store.Stats(ctx, tt.name); err != nil {
				t.Errorf("Stats(%q): %v", tt.name, err)
			}

			rec = env.do(t, http.MethodPost, "/api/v1/namespaces/"+tt.segment+"/retrieve", map[string]interface{}{"query": "Paris"})
			if rec.Code != http.StatusOK {
				t.Fatalf("retrieve: %d %s", rec.Code, rec.Body)
			}
			rec = env.do(t, http.MethodPost, "/query/"+tt.segment, map[string]string{"query": "Paris"})
			if rec.Code != http.StatusOK {
				t.Fatalf("legacy query: %d %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestErrorStatuses(t *testing.T) {
	env := newTestEnv(t, failingGenerator{})
	// seed a 4-dimensional namespace the 8-dimensional embedder cannot extend
	if err := env.store.Add(context.Background(), "small", [][]float32{{1, 0, 0, 0}}, []string{"x"}); err != nil {
		t.Fatal(err)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/namespaces/seeded/documents", map[string]string{"text": "Seed."}); rec.Code != http.StatusCreated {
		t.Fatalf("seed: %d", rec.Code)
	}

	tests := []struct {
		name, method, path string
		body               interface{}
		status             int
	}{
		{"blank document", http.MethodPost, "/api/v1/namespaces/n/documents", map[string]string{"text": "  "}, http.StatusBadRequest},
		{"bad body", http.MethodPost, "/api/v1/namespaces/n/documents", "not json", http.StatusBadRequest},
		{"dimension mismatch", http.MethodPost, "/api/v1/namespaces/small/documents", map[string]string{"text": "More."}, http.StatusConflict},
		{"empty query", http.MethodPost, "/api/v1/namespaces/seeded/retrieve", map[string]string{"query": " "}, http.StatusBadRequest},
		{"retrieve unknown", http.MethodPost, "/api/v1/namespaces/ghost/retrieve", map[string]string{"query": "q"}, http.StatusNotFound},
		{"stats unknown", http.MethodGet, "/api/v1/namespaces/ghost", nil, http.StatusNotFound},
		{"generation failure", http.MethodPost, "/api/v1/namespaces/seeded/answer", map[string]string{"query": "q"}, http.StatusBadGateway},
		{"legacy generation failure", http.MethodPost, "/query/seeded", map[string]string{"query": "q"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: %w", models.ErrEmbedding, models.ErrInputTooLong), http.StatusBadRequest},
		{models.ErrValidation, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", models.ErrNamespaceNotFound), http.StatusNotFound},
		{models.ErrDimensionMismatch, http.StatusConflict},
		{models.ErrEmbedding, http.StatusBadGateway},
		{models.ErrGeneration, http.StatusBadGateway},
		{models.ErrStorageCorruption, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t, generation.EchoGenerator{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "notes.md")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("Uploaded first. Uploaded second."))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/namespaces/uploads/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body)
	}
	var res rag.IngestResponse
	decode(t, rec, &res)
	if res.Chunks != 1 || res.Namespace != "uploads" {
		t.Errorf("res = %+v", res)
	}

	missing := httptest.NewRequest(http.MethodPost, "/api/v1/namespaces/uploads/files", strings.NewReader("x"))
	missing.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, missing)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-multipart upload: %d", rec.Code)
	}
}

func TestWatchDirectories(t *testing.T) {
	dir := t.TempDir()
	mock := &mockWatchService{roots: []watcher.Root{{Directory: "/tmp/docs", Namespace: "docs"}}}
	env := newTestEnv(t, nil, WithWatcher(mock))

	rec := env.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	var out struct {
		Directories []watchDirectory `json:"directories"`
	}
	decode(t, rec, &out)
	if len(out.Directories) != 1 || out.Directories[0].Namespace != "docs" {
		t.Errorf("list = %+v", out)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]interface{}{"path": dir, "namespace": "new", "sync": false})
	if rec.Code != http.StatusCreated || len(mock.roots) != 2 {
		t.Fatalf("add: %d %s", rec.Code, rec.Body)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir}); rec.Code != http.StatusBadRequest {
		t.Errorf("add without namespace: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": filepath.Join(dir, "none"), "namespace": "x"}); rec.Code != http.StatusNotFound {
		t.Errorf("add missing dir: %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/watch/directories?path="+dir, nil)
	if rec.Code != http.StatusOK || len(mock.roots) != 1 {
		t.Errorf("remove: %d, roots %+v", rec.Code, mock.roots)
	}
}

func TestWatchDisabledAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	if rec := env.do(t, http.MethodGet, "/api/v1/watch/directories", nil); rec.Code != http.StatusNotImplemented {
		t.Errorf("watch disabled: %d", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/health", nil)
	var out map[string]string
	decode(t, rec, &out)
	if rec.Code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("health: %d %v", rec.Code, out)
	}
}
