package models

// RetrievedChunk is one nearest-neighbor hit.
type RetrievedChunk struct {
	Ordinal  int     `json:"ordinal"`
	Text     string  `json:"text"`
	Distance float32 `json:"distance"`
}

// RetrievalResult is ordered by ascending distance.
type RetrievalResult []RetrievedChunk

// Texts returns the chunk texts in result order.
func (r RetrievalResult) Texts() []string {
	out := make([]string, len(r))
	for i, c := range r {
		out[i] = c.Text
	}
	return out
}
