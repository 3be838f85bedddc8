//go:build js && wasm

package main

import (
	"encoding/json"
	"strings"
	"syscall/js"

	"crossmap/config"
	"crossmap/internal/adapter/analyzer"
	"crossmap/internal/adapter/encoder"
	"crossmap/internal/adapter/fs"
	"crossmap/internal/adapter/index"
	"crossmap/internal/adapter/memstore"
	"crossmap/internal/decompose"
	"crossmap/internal/domain"
	"crossmap/internal/ranker"
)

const targetsLabel = "targets"

var (
	cfg       *config.Config
	store     *memstore.MemoryStore
	tokenizer *analyzer.Kmerizer
	enc       *encoder.Encoder
	targets   *index.Flat
)

func init() {
	cfg = config.DefaultConfig()
	store = memstore.NewMemoryStore()
	var err error
	tokenizer, err = analyzer.NewKmerizer(cfg.Tokens.K, cfg.Tokens.Alphabet, cfg.Tokens.CaseSensitive)
	if err != nil {
		panic(err)
	}
}

func main() {
	c := make(chan struct{})

	js.Global().Set("crossmapLoad", js.FuncOf(loadTargets))
	js.Global().Set("crossmapSearch", js.FuncOf(searchTargets))
	js.Global().Set("crossmapDecompose", js.FuncOf(decomposeText))
	js.Global().Set("crossmapClear", js.FuncOf(clearTargets))
	js.Global().Set("crossmapStats", js.FuncOf(getStats))

	<-c
}

// loadTargets replaces the target set with the items of a YAML document.
func loadTargets(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return makeError("usage: crossmapLoad(yaml)")
	}

	var items []domain.NamedItem
	err := fs.DecodeItems(strings.NewReader(args[0].String()), func(it domain.NamedItem) error {
		items = append(items, it)
		return nil
	})
	if err != nil {
		return makeError("parsing failed: " + err.Error())
	}

	counter := encoder.NewFeatureCounter(tokenizer)
	for _, it := range items {
		counter.AddItem(it.Item)
	}
	features := counter.Build(encoder.FeatureOptions{
		MinCount:  cfg.Features.MinCount,
		MaxNumber: cfg.Features.MaxNumber,
		Weighting: [2]float64{cfg.Features.Weighting[0], cfg.Features.Weighting[1]},
	})
	if len(features) == 0 {
		return makeError("no features found")
	}

	store = memstore.NewMemoryStore()
	if err := store.SetFeatureMap(features); err != nil {
		return makeError(err.Error())
	}
	ds, err := store.RegisterDataset(targetsLabel, false)
	if err != nil {
		return makeError(err.Error())
	}

	enc = encoder.New(features, tokenizer)
	seen := make(map[string]bool, len(items))
	rows := make([]domain.DataRow, 0, len(items))
	for _, it := range items {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		v := enc.Encode(it.Item)
		if v.IsZero() {
			continue
		}
		rows = append(rows, domain.DataRow{ID: it.ID, Title: it.Item.Title, Vector: v})
	}
	if _, err := store.AddData(ds.Index, rows); err != nil {
		return makeError("storing failed: " + err.Error())
	}
	targets, err = index.Build(rows)
	if err != nil {
		return makeError("indexing failed: " + err.Error())
	}

	return makeResult(map[string]interface{}{
		"success":  true,
		"items":    len(rows),
		"features": len(features),
	})
}

func searchTargets(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return makeError("usage: crossmapSearch(text, [n])")
	}
	if targets == nil {
		return makeError("no targets loaded")
	}

	text := args[0].String()
	n := 3
	if len(args) > 1 {
		n = args[1].Int()
	}

	v := enc.Encode(domain.Item{Data: text})
	candidates, err := ranker.Rank(v, targets, nil, n, 0)
	if err != nil {
		return makeError("search failed: " + err.Error())
	}
	ids, dists := ranker.Split(candidates)

	return makeResult(map[string]interface{}{
		"query":     text,
		"targets":   ids,
		"distances": dists,
		"titles":    titles(ids),
	})
}

func decomposeText(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return makeError("usage: crossmapDecompose(text, [n])")
	}
	if targets == nil {
		return makeError("no targets loaded")
	}

	text := args[0].String()
	n := 3
	if len(args) > 1 {
		n = args[1].Int()
	}

	d, err := decompose.NewDecomposer(targets, nil)
	if err != nil {
		return makeError(err.Error())
	}
	v := enc.Encode(domain.Item{Data: text})
	res, err := d.Decompose(v, decompose.Request{NTargets: n, Support: v.Bitmap()})
	if err != nil {
		return makeError("decomposition failed: " + err.Error())
	}

	return makeResult(map[string]interface{}{
		"query":        text,
		"targets":      res.IDs,
		"coefficients": res.Coefficients,
		"titles":       titles(res.IDs),
	})
}

func clearTargets(this js.Value, args []js.Value) interface{} {
	store = memstore.NewMemoryStore()
	enc = nil
	targets = nil
	return makeResult(map[string]interface{}{
		"success": true,
	})
}

func getStats(this js.Value, args []js.Value) interface{} {
	features, _ := store.FeatureMap()
	size := 0
	if ds, err := store.Dataset(targetsLabel); err == nil {
		size, _ = store.DatasetSize(ds.Index)
	}
	return makeResult(map[string]interface{}{
		"features": len(features),
		"targets":  size,
	})
}

func titles(ids []string) []string {
	out := make([]string, len(ids))
	ds, err := store.Dataset(targetsLabel)
	if err != nil {
		return out
	}
	byID, _ := store.GetTitles(ds.Index, ids)
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out
}

func makeError(msg string) interface{} {
	result, _ := json.Marshal(map[string]interface{}{
		"error": msg,
	})
	return string(result)
}

func makeResult(data map[string]interface{}) interface{} {
	result, _ := json.Marshal(data)
	return string(result)
}
