package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/kiku/internal/indexer"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/rag"
)

// apiClient talks to a running kiku server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func namespacePath(ns, suffix string) string {
	return "/api/v1/namespaces/" + url.PathEscape(ns) + suffix
}

// serverError turns a non-success response into an error that carries the
// matching error kind, so exit codes agree between local and remote runs.
// A 502 is an embedding failure except on the answer path.
func serverError(resp *http.Response, upstream error) error {
	b, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(b))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	var kind error
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		kind = models.ErrValidation
	case http.StatusNotFound:
		kind = models.ErrNamespaceNotFound
	case http.StatusConflict:
		kind = models.ErrDimensionMismatch
	case http.StatusBadGateway:
		kind = upstream
	}
	if kind == nil {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("%w: server returned %d: %s", kind, resp.StatusCode, msg)
}

func (c *apiClient) do(ctx context.Context, method, path, contentType string, body io.Reader, want int, upstream error, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return serverError(resp, upstream)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) postJSON(ctx context.Context, path string, in interface{}, want int, upstream error, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body), want, upstream, out)
}

func (c *apiClient) ingestText(ctx context.Context, ns, text string) (*rag.IngestResponse, error) {
	var res rag.IngestResponse
	err := c.postJSON(ctx, namespacePath(ns, "/documents"), map[string]string{"text": text},
		http.StatusCreated, models.ErrEmbedding, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) uploadFile(ctx context.Context, ns, path string) (*rag.IngestResponse, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	var res rag.IngestResponse
	err = c.do(ctx, http.MethodPost, namespacePath(ns, "/files"), mw.FormDataContentType(), &buf,
		http.StatusCreated, models.ErrEmbedding, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// uploadPath uploads one file, or every file under a directory whose
// extension is in exts. It stops at the first failed upload.
func (c *apiClient) uploadPath(ctx context.Context, ns, path string, exts []string, each func(*rag.IngestResponse)) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		res, err := c.uploadFile(ctx, ns, path)
		if err != nil {
			return 0, err
		}
		each(res)
		return 1, nil
	}
	count := 0
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !indexer.ExtensionAllowed(filepath.Ext(p), exts) {
			return nil
		}
		res, err := c.uploadFile(ctx, ns, p)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		each(res)
		count++
		return nil
	})
	return count, err
}

func (c *apiClient) retrieve(ctx context.Context, req rag.RetrieveRequest) (*rag.RetrieveResponse, error) {
	var res rag.RetrieveResponse
	in := map[string]interface{}{"query": req.Query, "k": req.K}
	if err := c.postJSON(ctx, namespacePath(req.Namespace, "/retrieve"), in, http.StatusOK, models.ErrEmbedding, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) answer(ctx context.Context, ns, query string) (*rag.AnswerResponse, error) {
	var res rag.AnswerResponse
	in := map[string]string{"query": query}
	if err := c.postJSON(ctx, namespacePath(ns, "/answer"), in, http.StatusOK, models.ErrGeneration, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) namespaces(ctx context.Context) ([]models.NamespaceInfo, error) {
	var res struct {
		Namespaces []models.NamespaceInfo `json:"namespaces"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/namespaces", "", nil, http.StatusOK, nil, &res); err != nil {
		return nil, err
	}
	return res.Namespaces, nil
}

func (c *apiClient) status(ctx context.Context) (*statusResponse, error) {
	var res statusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", "", nil, http.StatusOK, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type watchEntry struct {
	Path      string `json:"path"`
	Namespace string `json:"namespace"`
}

func (c *apiClient) watchAdd(ctx context.Context, path, ns string, sync bool) error {
	in := map[string]interface{}{"path": path, "namespace": ns, "sync": sync}
	return c.postJSON(ctx, "/api/v1/watch/directories", in, http.StatusCreated, nil, nil)
}

func (c *apiClient) watchRemove(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(path), "", nil, http.StatusOK, nil, nil)
}

func (c *apiClient) watchList(ctx context.Context) ([]watchEntry, error) {
	var res struct {
		Directories []watchEntry `json:"directories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/watch/directories", "", nil, http.StatusOK, nil, &res); err != nil {
		return nil, err
	}
	return res.Directories, nil
}
