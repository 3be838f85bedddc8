package encoder

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"crossmap/internal/domain"
	"crossmap/internal/port"
)

// FeatureCounter counts, for every token, the number of items it occurs in.
type FeatureCounter struct {
	tokenizer port.Tokenizer
	counts    map[string]int
	items     int
}

func NewFeatureCounter(tokenizer port.Tokenizer) *FeatureCounter {
	return &FeatureCounter{
		tokenizer: tokenizer,
		counts:    make(map[string]int),
	}
}

// AddItem counts the distinct tokens of the text fields of item.
func (fc *FeatureCounter) AddItem(item domain.Item) {
	fc.items++
	seen := make(map[string]struct{})
	for _, text := range []string{item.Data, item.DataPos, item.DataNeg} {
		if text == "" {
			continue
		}
		for token := range fc.tokenizer.Tokenize(text) {
			seen[token] = struct{}{}
		}
	}
	for token := range seen {
		fc.counts[token]++
	}
}

func (fc *FeatureCounter) Items() int {
	return fc.items
}

// FeatureOptions control feature map construction.
type FeatureOptions struct {
	MinCount  int
	MaxNumber int
	Weighting [2]float64
}

// Build ranks tokens by item count (ties by token), drops rare tokens,
// caps the number of features and assigns weights
// w0 - w1*log2(count/(N+1)).
func (fc *FeatureCounter) Build(opts FeatureOptions) domain.FeatureMap {
	type tokenCount struct {
		token string
		count int
	}
	ranked := make([]tokenCount, 0, len(fc.counts))
	for token, c := range fc.counts {
		ranked = append(ranked, tokenCount{token, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].token < ranked[j].token
	})

	maxNumber := opts.MaxNumber
	if maxNumber <= 0 {
		maxNumber = len(ranked)
	}
	n := float64(fc.items + 1)
	w0, w1 := opts.Weighting[0], opts.Weighting[1]

	result := make(domain.FeatureMap)
	for _, tc := range ranked {
		if len(result) >= maxNumber {
			break
		}
		if tc.count < opts.MinCount {
			continue
		}
		result[tc.token] = domain.FeatureEntry{
			Index:  len(result),
			Weight: w0 - w1*math.Log2(float64(tc.count)/n),
		}
	}
	return result
}

const (
	idColumn     = "id"
	indexColumn  = "index"
	weightColumn = "weight"
)

// ReadFeatureMap reads a tab-separated file with id and weight columns.
// Without an index column, features are numbered in file order.
func ReadFeatureMap(path string) (domain.FeatureMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feature map: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read feature map header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[h] = i
	}
	idCol, ok := cols[idColumn]
	if !ok {
		return nil, fmt.Errorf("feature map %s: missing %q column", path, idColumn)
	}
	weightCol, hasWeight := cols[weightColumn]
	indexCol, hasIndex := cols[indexColumn]

	result := make(domain.FeatureMap)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read feature map: %w", err)
		}
		entry := domain.FeatureEntry{Index: len(result), Weight: 1}
		if hasIndex {
			if entry.Index, err = strconv.Atoi(rec[indexCol]); err != nil {
				return nil, fmt.Errorf("feature %q: bad index: %w", rec[idCol], err)
			}
		}
		if hasWeight {
			if entry.Weight, err = strconv.ParseFloat(rec[weightCol], 64); err != nil {
				return nil, fmt.Errorf("feature %q: bad weight: %w", rec[idCol], err)
			}
		}
		result[rec[idCol]] = entry
	}
	if len(result) == 0 {
		return nil, domain.ErrEmptyFeatureMap
	}
	return result, nil
}

// WriteFeatureMap writes m as a tab-separated file ordered by index.
func WriteFeatureMap(path string, m domain.FeatureMap) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create feature map: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write([]string{idColumn, indexColumn, weightColumn}); err != nil {
		return err
	}
	for i, token := range m.Inverse() {
		rec := []string{
			token,
			strconv.Itoa(i),
			strconv.FormatFloat(m[token].Weight, 'g', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
