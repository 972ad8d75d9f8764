package chunker

import (
	"fmt"
	"strings"
	"testing"
)

func numberedSentences(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("Sentence %d is here.", i+1)
	}
	return strings.Join(parts, " ")
}

func TestChunker_Split(t *testing.T) {
	c := NewChunker(5, RegexSplitter{})
	chunks := c.Split(numberedSentences(12))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(chunks), chunks)
	}
	wantSentences := []int{5, 5, 2}
	for i, ch := range chunks {
		if got := strings.Count(ch, "is here."); got != wantSentences[i] {
			t.Errorf("chunk %d has %d sentences, want %d", i, got, wantSentences[i])
		}
	}
	if !strings.HasPrefix(chunks[0], "Sentence 1 is here. Sentence 2 is here.") {
		t.Errorf("chunk 0 = %q", chunks[0])
	}
	if chunks[2] != "Sentence 11 is here. Sentence 12 is here." {
		t.Errorf("chunk 2 = %q", chunks[2])
	}
}

func TestChunker_SplitEdgeCases(t *testing.T) {
	tests := []struct {
		name      string
		groupSize int
		doc       string
		want      []string
	}{
		{"empty", 5, "", nil},
		{"whitespace only", 5, "   \n\t  ", nil},
		{"fewer than group", 5, "One. Two.", []string{"One. Two."}},
		{"group of one", 1, "One. Two.", []string{"One.", "Two."}},
		{"no punctuation", 5, "just some words", []string{"just some words"}},
		{"newlines collapse between sentences", 2, "First.\n\nSecond.\nThird.", []string{"First. Second.", "Third."}},
		{"non-positive group size", 0, numberedSentences(6), []string{numberedSentences(5), "Sentence 6 is here."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewChunker(tt.groupSize, RegexSplitter{}).Split(tt.doc)
			if len(got) != len(tt.want) {
				t.Fatalf("Split() = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestChunker_Deterministic(t *testing.T) {
	c := NewChunker(3, RegexSplitter{})
	doc := numberedSentences(10)
	a, b := c.Split(doc), c.Split(doc)
	if strings.Join(a, "|") != strings.Join(b, "|") {
		t.Error("Split should be deterministic")
	}
}

type fixedSplitter []string

func (f fixedSplitter) Split(string) []string { return f }

func TestChunker_DropsEmptySentences(t *testing.T) {
	c := NewChunker(2, fixedSplitter{" a ", "", "  ", "b", "c"})
	got := c.Split("ignored")
	if len(got) != 2 || got[0] != "a b" || got[1] != "c" {
		t.Errorf("Split() = %q", got)
	}
}
