// Package extract turns uploaded or watched document files into plain text for ingestion.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type extractFunc func(content []byte) (string, error)

// Extractor maps a file extension to the routine that pulls its text out.
// Unknown extensions are read as plain text.
type Extractor struct {
	byExt map[string]extractFunc
}

// NewExtractor returns an Extractor for every format kiku can read.
func NewExtractor() *Extractor {
	return &Extractor{byExt: map[string]extractFunc{
		".pdf":  extractPDF,
		".docx": extractDOCX,
		".odt":  extractWithCat,
		".rtf":  extractWithCat,
		".xlsx": extractExcel,
		".pptx": extractPPTX,
		".odp":  extractODP,
		".ods":  extractODS,
		".txt":  extractPlain,
		".md":   extractPlain,
		".rst":  extractPlain,
	}}
}

// Supported reports whether ext (with leading dot, any case) has a dedicated extractor.
func (e *Extractor) Supported(ext string) bool {
	_, ok := e.byExt[normalizeExt(ext)]
	return ok
}

// Extensions lists the extensions with a dedicated extractor, sorted.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.byExt))
	for ext := range e.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads the file at path and returns its text.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content according to ext, e.g. ".pdf".
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := e.byExt[normalizeExt(ext)]
	if !ok {
		fn = extractPlain
	}
	return fn(content)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
