package port

import (
	"crossmap/internal/domain"
	"crossmap/internal/sparse"
)

// Tokenizer splits text into weighted tokens.
type Tokenizer interface {
	Tokenize(text string) domain.TokenCounts
}

// Encoder turns items into vectors over a fixed feature space.
type Encoder interface {
	Encode(item domain.Item) sparse.Vector

	Dim() int
}
