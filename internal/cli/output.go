// Package cli renders command results for the kiku command line.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/rag"
	"github.com/hyperjump/kiku/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is indented JSON for other programs.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text", "json" or "" (text).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

const previewRunes = 200

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrieval writes retrieved chunks, nearest first.
func WriteRetrieval(w io.Writer, resp *rag.RetrieveResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\n%d chunks from %s\n\n", len(resp.Results), resp.Namespace)
	for i, r := range resp.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "#%d  ordinal %d  distance %.4f\n\n", i+1, r.Ordinal, r.Distance)
		fmt.Fprintf(w, "%s\n\n", utils.Truncate(r.Text, previewRunes))
	}
	return nil
}

// WriteAnswer writes a generation response. Text mode prints the answer
// text when the body has a known Gemini or OpenAI shape, and the indented
// body otherwise.
func WriteAnswer(w io.Writer, resp *rag.AnswerResponse, format OutputFormat) error {
	if format == OutputJSON {
		_, err := w.Write(append(indent(resp.Body), '\n'))
		return err
	}
	if text := AnswerText(resp.Body); text != "" {
		_, err := fmt.Fprintln(w, text)
		return err
	}
	_, err := w.Write(append(indent(resp.Body), '\n'))
	return err
}

// AnswerText pulls the generated text out of a Gemini generateContent or an
// OpenAI chat completion body. It returns "" for any other shape.
func AnswerText(body json.RawMessage) string {
	var shape struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return ""
	}
	if len(shape.Candidates) > 0 {
		var parts []string
		for _, p := range shape.Candidates[0].Content.Parts {
			parts = append(parts, p.Text)
		}
		return strings.TrimSpace(strings.Join(parts, ""))
	}
	if len(shape.Choices) > 0 {
		return strings.TrimSpace(shape.Choices[0].Message.Content)
	}
	return ""
}

func indent(body json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return body
	}
	return buf.Bytes()
}

// WriteIngest writes the outcome of an ingest.
func WriteIngest(w io.Writer, resp *rag.IngestResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	if resp.Skipped {
		fmt.Fprintf(w, "Unchanged, skipped (namespace %s)\n", resp.Namespace)
		return nil
	}
	fmt.Fprintf(w, "Ingested %d chunks into %s (now %d chunks, ingest %s)\n",
		resp.Chunks, resp.Namespace, resp.Size, resp.IngestID)
	return nil
}

// WriteNamespaces writes one line per namespace.
func WriteNamespaces(w io.Writer, list []models.NamespaceInfo, format OutputFormat) error {
	if format == OutputJSON {
		if list == nil {
			list = []models.NamespaceInfo{}
		}
		return writeJSON(w, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No namespaces.")
		return nil
	}
	for _, ns := range list {
		fmt.Fprintf(w, "%-40s %8d chunks  %4d dims  created %s\n",
			ns.Name, ns.Chunks, ns.Dimensions, ns.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
