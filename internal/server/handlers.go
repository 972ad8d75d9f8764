package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/rag"
	"github.com/hyperjump/kiku/internal/storage"
	"github.com/hyperjump/kiku/internal/vector"
	"go.uber.org/zap"
)

// namespaceParam returns the decoded {namespace} segment. chi routes on the
// escaped path when one exists, so "team%2Falpha" arrives still escaped.
func (s *Server) namespaceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	ns := chi.URLParam(r, "namespace")
	if r.URL.RawPath == "" {
		return ns, true
	}
	decoded, err := url.PathUnescape(ns)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid namespace encoding")
		return "", false
	}
	return decoded, true
}

type contextRequest struct {
	Context string `json:"context"`
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleAddContext(w http.ResponseWriter, r *http.Request) {
	ns, ok := s.namespaceParam(w, r)
	if !ok {
		return
	}
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Context == "" {
		s.respondError(w, http.StatusBadRequest, "Context data is missing")
		return
	}
	res, err := s.rag.Ingest(r.Context(), rag.IngestRequest{Namespace: ns, Text: req.Context})
	if err != nil {
		s.fail(w, "add context", ns, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    fmt.Sprintf("Context added successfully for context ID %s", ns),
		"ingest_id": res.IngestID,
		"chunks":    res.Chunks,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ns, ok := s.namespaceParam(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "Query parameter is missing")
		return
	}
	ans, err := s.rag.Answer(r.Context(), rag.AnswerRequest{Namespace: ns, Query: req.Query})
	if errors.Is(err, models.ErrNamespaceNotFound) {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("No context found for context ID %s", ns))
		return
	}
	if err != nil {
		s.fail(w, "query", ns, err)
		return
	}
	s.respondRaw(w, http.StatusOK, ans.Body)
}

type ingestRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ns, ok := s.namespaceParam(w, r)
	if !ok {
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.rag.Ingest(r.Context(), rag.IngestRequest{Namespace: ns, Text: req.Text})
	if err != nil {
		s.fail(w, "ingest", ns, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ns, ok := s.namespaceParam(w, r)
	if !ok {
		return
	}
	limit := s.config.Server.MaxUploadBytes
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	s.logger.Debug("upload request", zap.String("namespace", ns), zap.String("filename", hdr.Filename), zap.Int("bytes", len(content)))
	res, err := s.rag.IngestFile(r.Context(), ns, hdr.Filename, content)
	if err != nil {
		s.fail(w, "upload", ns, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

type retrieveRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	ns, ok := s.namespaceParam(w, r)
	if !ok {
		return
	}
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.rag.Retrieve(r.Context(), rag.RetrieveRequest{Namespace: ns, Query: req.Query, K: req.K})
	if err != nil {
		s.fail(w, "retrieve", ns, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	ns, ok := s.namespaceParam(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ans, err := s.rag.Answer(r.Context(), rag.AnswerRequest{Namespace: ns, Query: req.Query})
	if err != nil {
		s.fail(w, "answer", ns, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ans)
}

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.Namespaces(r.Context())
	if err != nil {
		s.fail(w, "list namespaces", "", err)
		return
	}
	if list == nil {
		list = []models.NamespaceInfo{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"namespaces": list})
}

func (s *Server) handleNamespaceStats(w http.ResponseWriter, r *http.Request) {
	ns, ok := s.namespaceParam(w, r)
	if !ok {
		return
	}
	info, err := s.store.Stats(r.Context(), ns)
	if err != nil {
		s.fail(w, "namespace stats", ns, err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.Namespaces(r.Context())
	if err != nil {
		s.fail(w, "status", "", err)
		return
	}
	chunks := 0
	for _, ns := range list {
		chunks += ns.Chunks
	}
	resp := map[string]interface{}{
		"namespaces": len(list),
		"chunks":     chunks,
		"config": map[string]interface{}{
			"storage_backend":      s.config.Storage.Backend,
			"storage_path":         s.config.Storage.Path,
			"vector_index":         s.config.Storage.Index,
			"faiss_available":      vector.IsFAISSAvailable(),
			"embedding_provider":   s.config.Embedding.Provider,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"group_size":           s.config.Chunking.GroupSize,
			"splitter":             s.config.Chunking.Splitter,
			"top_k":                s.config.Retrieval.TopK,
			"generation_provider":  s.config.Generation.Provider,
		},
	}
	if diskBytes, err := storage.DiskUsageBytes(storage.DatabaseFiles(s.config.Storage.Backend, s.config.Storage.Path)...); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type watchDirectory struct {
	Path      string `json:"path"`
	Namespace string `json:"namespace"`
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	roots := s.watch.Roots()
	dirs := make([]watchDirectory, len(roots))
	for i, root := range roots {
		dirs[i] = watchDirectory{Path: root.Directory, Namespace: root.Namespace}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": dirs})
}

type watchAddRequest struct {
	Path      string `json:"path"`
	Namespace string `json:"namespace"`
	Sync      *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := models.ValidateNamespace(req.Namespace); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.watch.AddDirectory(abs, req.Namespace, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "namespace": req.Namespace, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInputTooLong), errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNamespaceNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmbedding), errors.Is(err, models.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, op, ns string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.String("namespace", ns), zap.Error(err))
	} else {
		s.logger.Warn(op+" rejected", zap.String("namespace", ns), zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondRaw(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
