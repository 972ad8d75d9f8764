package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

const (
	clsToken  = 101
	sepToken  = 102
	vocabSize = 30000
	// first id after the BERT special-token range
	vocabOffset = 1000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer maps lowercased words and punctuation to hashed ids. It
// does not match a real WordPiece vocabulary.
type SimpleTokenizer struct{}

// Tokenize returns [CLS] tokens... [SEP] padded to maxTokens. Tokens past
// maxTokens-2 are dropped.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsToken
	attentionMask[0] = 1
	pos := 1
	for _, tok := range SplitTokens(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = tokenID(tok)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sepToken
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

func tokenID(tok string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tok))
	return int64(vocabOffset + h.Sum32()%(vocabSize-vocabOffset))
}

// SplitTokens lowercases text and splits it into words, with each
// punctuation rune as its own token.
func SplitTokens(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			tokens = append(tokens, string(r))
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return tokens
}
