// Package encoder maps items to sparse vectors over a feature map.
package encoder

import (
	"math"

	"crossmap/internal/domain"
	"crossmap/internal/port"
	"crossmap/internal/sparse"
)

// Encoder turns items into unit-norm vectors.
type Encoder struct {
	features  domain.FeatureMap
	tokenizer port.Tokenizer
	inverse   []string
}

func New(features domain.FeatureMap, tokenizer port.Tokenizer) *Encoder {
	return &Encoder{
		features:  features,
		tokenizer: tokenizer,
		inverse:   features.Inverse(),
	}
}

func (e *Encoder) Dim() int {
	return e.features.Dim()
}

// FeatureName returns the token behind a feature index.
func (e *Encoder) FeatureName(i int) string {
	if i < 0 || i >= len(e.inverse) {
		return ""
	}
	return e.inverse[i]
}

func (e *Encoder) Features() domain.FeatureMap {
	return e.features
}

// Encode combines data and data_pos, subtracts data_neg, adds weighted
// values and normalizes. Tokens outside the feature map are ignored.
func (e *Encoder) Encode(item domain.Item) sparse.Vector {
	acc := sparse.NewAccumulator()
	if item.Data != "" {
		e.addTokens(acc, e.tokenizer.Tokenize(item.Data), 1)
	}
	if item.DataPos != "" {
		e.addTokens(acc, e.tokenizer.Tokenize(item.DataPos), 1)
	}
	if item.DataNeg != "" {
		e.addTokens(acc, e.tokenizer.Tokenize(item.DataNeg), -1)
	}
	for phrase, value := range item.Values {
		for token, tc := range e.tokenizer.Tokenize(phrase) {
			entry, ok := e.features[token]
			if !ok {
				continue
			}
			acc.Add([]int{entry.Index}, []float64{entry.Weight * value * tc.Value}, 1)
		}
	}
	return sparse.Normalize(acc.ToSparse(e.Dim(), 0))
}

func (e *Encoder) addTokens(acc *sparse.Accumulator, tokens domain.TokenCounts, sign float64) {
	for token, tc := range tokens {
		entry, ok := e.features[token]
		if !ok {
			continue
		}
		acc.Add([]int{entry.Index}, []float64{tokenValue(entry.Weight, tc)}, sign)
	}
}

// tokenValue damps repeated tokens logarithmically.
func tokenValue(weight float64, tc domain.TokenCount) float64 {
	if tc.Count <= 1 {
		return weight * tc.Value
	}
	c := float64(tc.Count)
	return weight * (tc.Value / c) * (1 + math.Log2(c))
}

var _ port.Encoder = (*Encoder)(nil)
