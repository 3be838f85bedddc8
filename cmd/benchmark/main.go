package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"crossmap/config"
	"crossmap/internal/adapter/analyzer"
	"crossmap/internal/adapter/fs"
	"crossmap/internal/adapter/store"
	"crossmap/internal/domain"
	"crossmap/internal/usecase"
)

func main() {
	dir := flag.String("dir", ".", "Directory holding crossmap.yaml")
	file := flag.String("f", "", "YAML file with query documents")
	n := flag.Int("n", 3, "Number of targets per query")
	dataset := flag.String("dataset", "", "Target dataset (default from config)")
	flag.Parse()

	if *file == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -dir ./project -f queries.yaml")
		fmt.Println("\nMeasures:")
		fmt.Println("  1. Search latency per query")
		fmt.Println("  2. Decomposition latency per query")
		fmt.Println("  3. Agreement between the nearest target and the first factor")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.NewBoltStore(cfg.DBPath(), cfg.Cache)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening data: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	tokenizer, err := analyzer.NewKmerizer(cfg.Tokens.K, cfg.Tokens.Alphabet, cfg.Tokens.CaseSensitive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Tokenizer error: %v\n", err)
		os.Exit(1)
	}
	query, err := usecase.NewQueryUseCase(cfg, st, fs.NewItemReader(), tokenizer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query setup failed: %v\n", err)
		os.Exit(1)
	}

	var items []domain.NamedItem
	if err := fs.NewItemReader().ReadItems(*file, func(it domain.NamedItem) error {
		items = append(items, it)
		return nil
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading queries: %v\n", err)
		os.Exit(1)
	}
	if len(items) == 0 {
		fmt.Fprintln(os.Stderr, "No queries found")
		os.Exit(1)
	}

	fmt.Println("CROSSMAP QUERY BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Project: %s\n", cfg.Name)
	fmt.Printf("Queries: %d\n", len(items))
	fmt.Printf("Targets per query: %d\n\n", *n)

	var searchTimes, decompTimes []time.Duration
	agree := 0
	totalTop := 0.0
	answered := 0
	for _, it := range items {
		q := usecase.Query{Name: it.ID, Item: it.Item, Dataset: *dataset, N: *n}

		start := time.Now()
		res, err := query.Search(q)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search error for %s: %v\n", it.ID, err)
			os.Exit(1)
		}
		searchTimes = append(searchTimes, time.Since(start))

		start = time.Now()
		dec, err := query.Decompose(q)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Decomposition error for %s: %v\n", it.ID, err)
			os.Exit(1)
		}
		decompTimes = append(decompTimes, time.Since(start))

		if len(res.Targets) == 0 {
			fmt.Printf("%-20s  (no targets)\n", it.ID)
			continue
		}
		answered++
		totalTop += res.Distances[0]
		first := "-"
		if len(dec.Targets) > 0 {
			first = dec.Targets[0]
			if first == res.Targets[0] {
				agree++
			}
		}
		fmt.Printf("%-20s  nearest %-12s %.3f  first factor %s\n", it.ID, res.Targets[0], res.Distances[0], first)
	}

	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("LATENCY:\n")
	fmt.Printf("  Search     p50 %-10s p95 %s\n", percentile(searchTimes, 50), percentile(searchTimes, 95))
	fmt.Printf("  Decompose  p50 %-10s p95 %s\n", percentile(decompTimes, 50), percentile(decompTimes, 95))
	if answered > 0 {
		fmt.Printf("QUALITY:\n")
		fmt.Printf("  Average top-1 distance: %.3f\n", totalTop/float64(answered))
		fmt.Printf("  Nearest target is first factor: %d/%d\n", agree, answered)
	}
}

func percentile(times []time.Duration, p int) time.Duration {
	if len(times) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	k := (len(sorted) - 1) * p / 100
	return sorted[k].Round(time.Microsecond)
}
