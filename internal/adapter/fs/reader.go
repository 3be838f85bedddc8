package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"

	"crossmap/internal/domain"
)

// ItemReader streams items from YAML data files. A file is one or more
// YAML documents, each a mapping from item id to item fields. Files ending
// in .gz are decompressed on the fly.
type ItemReader struct{}

func NewItemReader() *ItemReader {
	return &ItemReader{}
}

// Open returns a reader over the file's plain content.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gzip %s: %w", path, err)
	}
	return &gzipFile{Reader: gz, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	err := g.Reader.Close()
	if cerr := g.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadItems calls fn for every item in path, in file order. It stops at
// the first error returned by fn.
func (r *ItemReader) ReadItems(path string, fn func(domain.NamedItem) error) error {
	f, err := Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := DecodeItems(f, fn); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// DecodeItems decodes a YAML stream of items.
func DecodeItems(in io.Reader, fn func(domain.NamedItem) error) error {
	dec := yaml.NewDecoder(in)
	for {
		var doc yaml.Node
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(doc.Content) == 0 {
			continue
		}
		root := doc.Content[0]
		if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
			continue
		}
		if root.Kind != yaml.MappingNode {
			return fmt.Errorf("line %d: expected a mapping of item ids", root.Line)
		}
		for i := 0; i+1 < len(root.Content); i += 2 {
			id := root.Content[i].Value
			item, err := decodeItem(root.Content[i+1])
			if err != nil {
				return fmt.Errorf("item %q: %w", id, err)
			}
			if err := fn(domain.NamedItem{ID: id, Item: item}); err != nil {
				return err
			}
		}
	}
}

func decodeItem(node *yaml.Node) (domain.Item, error) {
	var item domain.Item
	if node.Kind != yaml.MappingNode {
		return item, fmt.Errorf("line %d: invalid document type", node.Line)
	}
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return item, err
	}
	return ItemFromMap(raw)
}

// ItemFromMap converts loosely typed fields into an Item. Text fields may be
// strings, numbers, lists or maps; lists and map values are joined with
// spaces.
func ItemFromMap(raw map[string]any) (domain.Item, error) {
	item := domain.Item{
		Title:   text(raw["title"]),
		Data:    text(raw["data"]),
		DataPos: text(raw["data_pos"]),
		DataNeg: text(raw["data_neg"]),
	}
	if values, ok := raw["values"]; ok && values != nil {
		m, ok := values.(map[string]any)
		if !ok {
			return item, fmt.Errorf("values must be a mapping")
		}
		item.Values = make(map[string]float64, len(m))
		for k, v := range m {
			f, err := number(v)
			if err != nil {
				return item, fmt.Errorf("values[%s]: %w", k, err)
			}
			item.Values[k] = f
		}
	}
	if md, ok := raw["metadata"].(map[string]any); ok {
		item.Metadata = md
	}
	return item, nil
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := text(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(t))
		for _, k := range keys {
			if s := text(t[k]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(t)
	}
}

func number(v any) (float64, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

// AppendItem appends one item to a YAML data file, creating it if needed.
func AppendItem(path, id string, item domain.Item) error {
	data, err := yaml.Marshal(map[string]domain.Item{id: item})
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}
