package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultFile is looked up in the project directory.
	DefaultFile = "crossmap.yaml"

	// EnvConfig names a config file when no flag is given.
	EnvConfig = "CROSSMAP_CONFIG"
)

// Config holds all configuration for a crossmap instance. It is treated as
// immutable once loaded.
type Config struct {
	Name      string          `yaml:"name"`
	Data      DataConfig      `yaml:"data"`
	Features  FeaturesConfig  `yaml:"features"`
	Tokens    TokensConfig    `yaml:"tokens"`
	Diffusion DiffusionConfig `yaml:"diffusion"`
	Cache     CacheConfig     `yaml:"cache"`
	Build     BuildConfig     `yaml:"build"`
	Logging   LoggingConfig   `yaml:"logging"`

	// dir is the directory holding the config file; relative data paths
	// resolve against it.
	dir string
}

// DataConfig describes the file-backed datasets.
type DataConfig struct {
	Collections map[string][]string `yaml:"collections"` // label -> glob patterns
	Default     string              `yaml:"default"`
	Documents   string              `yaml:"documents"` // dataset used as the document index
}

type FeaturesConfig struct {
	MaxNumber int       `yaml:"max_number"` // 0 = unlimited
	MinCount  int       `yaml:"min_count"`
	Weighting []float64 `yaml:"weighting"` // w0 - w1*log2(count/(N+1))
	MapFile   string    `yaml:"map_file"`
}

type TokensConfig struct {
	K             int    `yaml:"k"`
	Alphabet      string `yaml:"alphabet"`
	CaseSensitive bool   `yaml:"case_sensitive"`
}

type DiffusionConfig struct {
	Passes    int                `yaml:"passes"`
	Threshold float64            `yaml:"threshold"`
	Strength  map[string]float64 `yaml:"strength"`
}

// CacheConfig sets capacities of the store caches.
type CacheConfig struct {
	Counts int `yaml:"counts"`
	Data   int `yaml:"data"`
	Titles int `yaml:"titles"`
}

type BuildConfig struct {
	Workers   int `yaml:"workers"` // 0 = NumCPU/2
	BatchSize int `yaml:"batch_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "crossmap",
		Data: DataConfig{
			Collections: map[string][]string{},
		},
		Features: FeaturesConfig{
			MaxNumber: 0,
			MinCount:  1,
			Weighting: []float64{1, 0},
		},
		Tokens: TokensConfig{
			K: 5,
		},
		Diffusion: DiffusionConfig{
			Passes:   2,
			Strength: map[string]float64{},
		},
		Cache: CacheConfig{
			Counts: 32768,
			Data:   8192,
			Titles: 4096,
		},
		Build: BuildConfig{
			BatchSize: 10000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		dir: ".",
	}
}

// Load loads configuration from a YAML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.dir = filepath.Dir(path)
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for crossmap.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, DefaultFile)
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	cfg := DefaultConfig()
	cfg.dir = dir
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Validate checks settings that every command relies on.
func (c *Config) Validate() error {
	if c.Name == "" || !namePattern.MatchString(c.Name) {
		return fmt.Errorf("invalid name %q", c.Name)
	}
	if len(c.Features.Weighting) != 2 {
		return fmt.Errorf("features.weighting must have two elements, got %d", len(c.Features.Weighting))
	}
	if c.Tokens.K < 1 {
		return fmt.Errorf("tokens.k must be positive, got %d", c.Tokens.K)
	}
	if c.Cache.Counts < 0 || c.Cache.Data < 0 || c.Cache.Titles < 0 {
		return fmt.Errorf("cache sizes must not be negative")
	}
	if c.Diffusion.Passes < 1 {
		return fmt.Errorf("diffusion.passes must be at least 1, got %d", c.Diffusion.Passes)
	}
	if c.Build.BatchSize < 1 {
		return fmt.Errorf("build.batch_size must be positive, got %d", c.Build.BatchSize)
	}
	for label := range c.Data.Collections {
		if !ValidLabel(label) {
			return fmt.Errorf("invalid collection label %q", label)
		}
	}
	if c.Data.Default != "" {
		if _, ok := c.Data.Collections[c.Data.Default]; !ok && len(c.Data.Collections) > 0 {
			return fmt.Errorf("default dataset %q is not a collection", c.Data.Default)
		}
	}
	return nil
}

// ValidateBuild additionally requires data collections.
func (c *Config) ValidateBuild() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.Data.Collections) == 0 {
		return fmt.Errorf("no data collections configured")
	}
	return nil
}

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidLabel reports whether label can name a dataset.
func ValidLabel(label string) bool {
	return labelPattern.MatchString(label)
}

// Dir returns the directory relative paths resolve against.
func (c *Config) Dir() string {
	return c.dir
}

// Labels returns collection labels in sorted order.
func (c *Config) Labels() []string {
	labels := make([]string, 0, len(c.Data.Collections))
	for label := range c.Data.Collections {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// DefaultDataset returns the configured default, or the first collection.
func (c *Config) DefaultDataset() string {
	if c.Data.Default != "" {
		return c.Data.Default
	}
	if labels := c.Labels(); len(labels) > 0 {
		return labels[0]
	}
	return ""
}

// IsFileDataset reports whether label is backed by data files.
func (c *Config) IsFileDataset(label string) bool {
	_, ok := c.Data.Collections[label]
	return ok
}

// DataDir returns the directory holding the instance's database.
func (c *Config) DataDir() string {
	return filepath.Join(c.dir, c.Name)
}

// DBPath returns the path to the bbolt database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir(), "crossmap.db")
}

// FeatureMapPath returns where the built feature map is written.
func (c *Config) FeatureMapPath() string {
	return filepath.Join(c.DataDir(), c.Name+"-feature-map.tsv")
}

// ManualDataPath returns the YAML file recording items added to label.
func (c *Config) ManualDataPath(label string) string {
	return filepath.Join(c.DataDir(), c.Name+"-"+label+".yaml")
}

// Resolve makes a relative path relative to the config directory.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.dir, path)
}

// Workers returns the configured worker count, or half the CPUs.
func (c *Config) Workers() int {
	if c.Build.Workers > 0 {
		return c.Build.Workers
	}
	return max(1, runtime.NumCPU()/2)
}

// EnsureDataDir ensures the data directory exists.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir(), 0755)
}

// Hash fingerprints the settings that shape encoded vectors. A store built
// under a different hash has to be rebuilt.
func (c *Config) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "k=%d;alphabet=%s;case=%t;", c.Tokens.K, c.Tokens.Alphabet, c.Tokens.CaseSensitive)
	fmt.Fprintf(h, "max=%d;min=%d;w=%v;map=%s;", c.Features.MaxNumber, c.Features.MinCount, c.Features.Weighting, c.Features.MapFile)
	for _, label := range c.Labels() {
		fmt.Fprintf(h, "%s=%s;", label, strings.Join(c.Data.Collections[label], ","))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
