// Package chunker splits documents into sentence-group chunks.
package chunker

import "strings"

// DefaultGroupSize is the number of sentences per chunk when none is configured.
const DefaultGroupSize = 5

// SentenceSplitter splits text into sentences in reading order.
type SentenceSplitter interface {
	Split(text string) []string
}

// Chunker groups consecutive sentences into fixed-size runs.
type Chunker struct {
	groupSize int
	splitter  SentenceSplitter
}

// NewChunker creates a chunker. A non-positive groupSize uses DefaultGroupSize;
// a nil splitter uses RegexSplitter.
func NewChunker(groupSize int, splitter SentenceSplitter) *Chunker {
	if groupSize <= 0 {
		groupSize = DefaultGroupSize
	}
	if splitter == nil {
		splitter = RegexSplitter{}
	}
	return &Chunker{groupSize: groupSize, splitter: splitter}
}

// GroupSize returns the number of sentences per chunk.
func (c *Chunker) GroupSize() int {
	return c.groupSize
}

// Split returns the chunks of document in order. Each chunk is up to
// groupSize sentences joined by single spaces; only the last may be shorter.
// A document with no sentences yields nil.
func (c *Chunker) Split(document string) []string {
	var sentences []string
	for _, s := range c.splitter.Split(document) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(sentences)+c.groupSize-1)/c.groupSize)
	for i := 0; i < len(sentences); i += c.groupSize {
		end := i + c.groupSize
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks = append(chunks, strings.Join(sentences[i:end], " "))
	}
	return chunks
}
