package analyzer

import (
	"math"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"crossmap/internal/domain"
)

const (
	DefaultK        = 5
	DefaultAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789-"

	wordCacheSize = 16384
)

type wordTokens struct {
	kmers  []string
	weight float64
}

// Kmerizer splits text into words and words into overlapping k-mers. Each
// k-mer of a word of length L carries weight sqrt(max(1, L/2k) / max(1, L-k+1)),
// so a long word contributes about as much as a short one.
type Kmerizer struct {
	k             int
	caseSensitive bool
	alphabet      map[rune]struct{}
	words         *lru.Cache[string, wordTokens]
}

// NewKmerizer creates a tokenizer with k-mers of length k. An empty alphabet
// selects DefaultAlphabet.
func NewKmerizer(k int, alphabet string, caseSensitive bool) (*Kmerizer, error) {
	if k < 1 {
		k = DefaultK
	}
	if alphabet == "" {
		alphabet = DefaultAlphabet
		if caseSensitive {
			alphabet += strings.ToUpper("abcdefghijklmnopqrstuvwxyz")
		}
	}
	if !caseSensitive {
		alphabet = strings.ToLower(alphabet)
	}
	set := make(map[rune]struct{}, len(alphabet))
	for _, r := range alphabet {
		set[r] = struct{}{}
	}
	cache, err := lru.New[string, wordTokens](wordCacheSize)
	if err != nil {
		return nil, err
	}
	return &Kmerizer{
		k:             k,
		caseSensitive: caseSensitive,
		alphabet:      set,
		words:         cache,
	}, nil
}

// K returns the k-mer length.
func (t *Kmerizer) K() int {
	return t.k
}

// Tokenize returns the weighted k-mers of text.
func (t *Kmerizer) Tokenize(text string) domain.TokenCounts {
	result := make(domain.TokenCounts)
	if !t.caseSensitive {
		text = strings.ToLower(text)
	}
	for _, word := range t.splitWords(text) {
		wt := t.wordTokens(word)
		for _, kmer := range wt.kmers {
			result.Add(kmer, wt.weight)
		}
	}
	return result
}

func (t *Kmerizer) wordTokens(word string) wordTokens {
	if cached, ok := t.words.Get(word); ok {
		return cached
	}
	runes := []rune(word)
	n := len(runes)
	k2 := float64(2 * t.k)
	wt := wordTokens{
		kmers:  kmers(runes, t.k),
		weight: math.Sqrt(math.Max(1, float64(n)/k2) / math.Max(1, float64(n-t.k+1))),
	}
	t.words.Add(word, wt)
	return wt
}

// splitWords breaks text on any character outside the alphabet.
func (t *Kmerizer) splitWords(text string) []string {
	var words []string
	var current strings.Builder

	for _, r := range text {
		if _, ok := t.alphabet[r]; ok {
			current.WriteRune(r)
			continue
		}
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}

func kmers(word []rune, k int) []string {
	if len(word) <= k {
		return []string{string(word)}
	}
	out := make([]string, 0, len(word)-k+1)
	for i := 0; i+k <= len(word); i++ {
		out = append(out, string(word[i:i+k]))
	}
	return out
}
