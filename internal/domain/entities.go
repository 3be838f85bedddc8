package domain

import "crossmap/internal/sparse"

// Dataset is a named partition of items. File datasets come from the
// configured collections; manual datasets are filled by Add.
type Dataset struct {
	Label string `json:"label"`
	Index int    `json:"index"`
	File  bool   `json:"file"`
}

// FeatureEntry locates a token in the feature space.
type FeatureEntry struct {
	Index  int     `json:"index"`
	Weight float64 `json:"weight"`
}

// FeatureMap maps tokens to feature entries. Indices are unique and
// contiguous from 0.
type FeatureMap map[string]FeatureEntry

// Dim returns the dimension of the feature space.
func (m FeatureMap) Dim() int {
	return len(m)
}

// Inverse returns the token for every feature index.
func (m FeatureMap) Inverse() []string {
	out := make([]string, len(m))
	for token, e := range m {
		if e.Index >= 0 && e.Index < len(out) {
			out[e.Index] = token
		}
	}
	return out
}

// Item is a raw document as found in data files or passed on the command
// line. Data fields may hold free text; Values maps short phrases to
// numeric weights.
type Item struct {
	Title    string             `yaml:"title,omitempty" json:"title,omitempty"`
	Data     string             `yaml:"data,omitempty" json:"data,omitempty"`
	DataPos  string             `yaml:"data_pos,omitempty" json:"data_pos,omitempty"`
	DataNeg  string             `yaml:"data_neg,omitempty" json:"data_neg,omitempty"`
	Values   map[string]float64 `yaml:"values,omitempty" json:"values,omitempty"`
	Metadata map[string]any     `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// IsEmpty reports whether the item carries nothing to encode.
func (it Item) IsEmpty() bool {
	return it.Data == "" && it.DataPos == "" && it.DataNeg == "" && len(it.Values) == 0
}

// NamedItem pairs an item with its identifier, in file order.
type NamedItem struct {
	ID   string
	Item Item
}

// DataRow is one stored, encoded item.
type DataRow struct {
	ID     string        `json:"id"`
	Idx    int           `json:"idx"`
	Title  string        `json:"title,omitempty"`
	Vector sparse.Vector `json:"vector"`
}

// Candidate is a ranked target.
type Candidate struct {
	ID       string
	Distance float64
}

// SearchResult lists targets closest to a query.
type SearchResult struct {
	Query     string    `json:"query"`
	Targets   []string  `json:"targets"`
	Distances []float64 `json:"distances"`
	Titles    []string  `json:"titles,omitempty"`
}

// Decomposition expresses a query as a weighted list of targets.
type Decomposition struct {
	Query        string    `json:"query"`
	Targets      []string  `json:"targets"`
	Coefficients []float64 `json:"coefficients"`
	Titles       []string  `json:"titles,omitempty"`
}

// FeatureValue is one feature of an explained vector.
type FeatureValue struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// Diffusion lists the features of a diffused query, largest first.
type Diffusion struct {
	Query    string         `json:"query"`
	Features []FeatureValue `json:"features"`
}

// DatasetSummary describes one dataset in a store.
type DatasetSummary struct {
	Label string `json:"label"`
	Size  int    `json:"size"`
	File  bool   `json:"file"`
}

// Summary describes a built instance.
type Summary struct {
	Name     string           `json:"name"`
	Features int              `json:"features"`
	Datasets []DatasetSummary `json:"datasets"`
}

// TokenCount is the summed weight and number of occurrences of a token.
type TokenCount struct {
	Value float64
	Count int
}

// TokenCounts maps tokens to their counts.
type TokenCounts map[string]TokenCount

// Add records one occurrence of token with the given weight.
func (tc TokenCounts) Add(token string, weight float64) {
	c := tc[token]
	c.Value += weight
	c.Count++
	tc[token] = c
}

// Merge adds all tokens of other into tc.
func (tc TokenCounts) Merge(other TokenCounts) {
	for token, o := range other {
		c := tc[token]
		c.Value += o.Value
		c.Count += o.Count
		tc[token] = c
	}
}
