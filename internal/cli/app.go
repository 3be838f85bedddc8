package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"crossmap/config"
	"crossmap/internal/adapter/analyzer"
	"crossmap/internal/adapter/fs"
	"crossmap/internal/adapter/store"
	"crossmap/internal/domain"
	"crossmap/internal/usecase"
)

// openStore opens the instance database. When mustExist is set, a missing
// database is reported as an error instead of being created.
func openStore(cfg *config.Config, mustExist bool) (*store.BoltStore, error) {
	dbPath := cfg.DBPath()
	if mustExist {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("no data found for %s. Run 'crossmap build' first", cfg.Name)
		}
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.NewBoltStore(dbPath, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

func newTokenizer(cfg *config.Config) (*analyzer.Kmerizer, error) {
	return analyzer.NewKmerizer(cfg.Tokens.K, cfg.Tokens.Alphabet, cfg.Tokens.CaseSensitive)
}

// openQuery opens the store and a query use case over it. The caller
// closes the store.
func openQuery(cfg *config.Config) (*store.BoltStore, *usecase.QueryUseCase, error) {
	st, err := openStore(cfg, true)
	if err != nil {
		return nil, nil, err
	}
	rebuild, reason, err := st.NeedsRebuild(cfg)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	if rebuild {
		st.Close()
		return nil, nil, fmt.Errorf("data must be rebuilt (%s). Run 'crossmap build'", reason)
	}
	tokenizer, err := newTokenizer(cfg)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	query, err := usecase.NewQueryUseCase(cfg, st, fs.NewItemReader(), tokenizer,
		usecase.WithPoolSize(cfg.Workers()))
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to prepare queries: %w", err)
	}
	return st, query, nil
}

// itemFlags collects a document from command-line flags.
type itemFlags struct {
	title   string
	data    string
	dataPos string
	dataNeg string
}

func (f *itemFlags) item(args []string) domain.Item {
	data := f.data
	if data == "" && len(args) > 0 {
		data = strings.Join(args, " ")
	}
	return domain.Item{Title: f.title, Data: data, DataPos: f.dataPos, DataNeg: f.dataNeg}
}

// parseStrengths turns label=strength pairs into a diffusion map.
func parseStrengths(raw map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for label, value := range raw {
		s, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid diffusion strength for %s: %q", label, value)
		}
		out[label] = s
	}
	return out, nil
}
