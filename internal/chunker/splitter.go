package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

// NewSplitter returns the splitter registered under name ("punkt" or "regex").
func NewSplitter(name string) (SentenceSplitter, error) {
	switch name {
	case "", "punkt":
		return NewPunktSplitter()
	case "regex":
		return RegexSplitter{}, nil
	default:
		return nil, fmt.Errorf("unknown sentence splitter %q", name)
	}
}

// sentenceEnd matches terminal punctuation, optional closing quotes or
// brackets, then whitespace or end of text.
var sentenceEnd = regexp.MustCompile(`[.!?]+["'”’)\]]*(\s+|$)`)

// RegexSplitter splits on terminal punctuation. Text without any terminal
// punctuation is returned as a single sentence.
type RegexSplitter struct{}

// Split implements SentenceSplitter.
func (RegexSplitter) Split(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:loc[1]]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// PunktSplitter uses the pretrained Punkt English model, which knows common
// abbreviations and initials.
type PunktSplitter struct {
	tokenizer interface {
		Tokenize(text string) []*sentences.Sentence
	}
}

// NewPunktSplitter loads the bundled English Punkt model.
func NewPunktSplitter() (*PunktSplitter, error) {
	tok, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load punkt model: %w", err)
	}
	return &PunktSplitter{tokenizer: tok}, nil
}

// Split implements SentenceSplitter.
func (p *PunktSplitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []string
	for _, s := range p.tokenizer.Tokenize(text) {
		if t := strings.TrimSpace(s.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}
