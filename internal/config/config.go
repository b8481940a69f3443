// Package config loads repoctx configuration.
//
// Precedence (highest to lowest):
//  1. Command-line flags (applied by the caller)
//  2. Environment variables prefixed with REPOCTX_
//  3. The YAML file (.repoctx/config.yaml or --config)
//  4. Compiled defaults
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/Benny93/repoctx/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REPOCTX_"

const maxConfigFileSize = 1024 * 1024 // 1MB

// Config is the full configuration.
type Config struct {
	Lexical   LexicalConfig   `koanf:"lexical"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Assembler AssemblerConfig `koanf:"assembler"`
	Index     IndexConfig     `koanf:"index"`
	Log       logging.Config  `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// LexicalConfig holds the BM25 constants.
type LexicalConfig struct {
	K1 float64 `koanf:"k1"`
	B  float64 `koanf:"b"`
}

// RetrievalConfig tunes the two-phase ranking.
type RetrievalConfig struct {
	// Overfetch multiplies the result limit to size the lexical phase.
	Overfetch      int           `koanf:"overfetch"`
	ResultLimit    int           `koanf:"result_limit"`
	LexicalWeight  float64       `koanf:"lexical_weight"`
	SemanticWeight float64       `koanf:"semantic_weight"`
	Scorer         string        `koanf:"scorer"`
	Timeout        time.Duration `koanf:"timeout"`
}

// AssemblerConfig bounds the context bundle.
type AssemblerConfig struct {
	TokenBudget       int `koanf:"token_budget"`
	MaxExpansionDepth int `koanf:"max_expansion_depth"`
}

// IndexConfig tunes index builds.
type IndexConfig struct {
	// Workers is the build parallelism; 0 means GOMAXPROCS.
	Workers            int `koanf:"workers"`
	ChunkMaxTokens     int `koanf:"chunk_max_tokens"`
	ChunkOverlapTokens int `koanf:"chunk_overlap_tokens"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address of /metrics; empty disables it.
	Addr string `koanf:"addr"`
}

// Default returns the compiled defaults.
func Default() Config {
	return Config{
		Lexical: LexicalConfig{K1: 1.2, B: 0.75},
		Retrieval: RetrievalConfig{
			Overfetch:      5,
			ResultLimit:    20,
			LexicalWeight:  0.5,
			SemanticWeight: 0.5,
			Scorer:         "hash",
			Timeout:        10 * time.Second,
		},
		Assembler: AssemblerConfig{
			TokenBudget:       8000,
			MaxExpansionDepth: 1,
		},
		Index: IndexConfig{
			ChunkMaxTokens:     400,
			ChunkOverlapTokens: 40,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides. A missing file is only an error when required.
func Load(path string, required bool) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !required:
		case err != nil:
			return Config{}, err
		default:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	// REPOCTX_RETRIEVAL_LEXICAL_WEIGHT -> retrieval.lexical_weight
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// envKey maps an environment variable to a config key: the first
// underscore separates the section, later ones stay in the field name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Lexical.K1 < 0 {
		errs = append(errs, fmt.Errorf("lexical.k1 must be >= 0, got %v", c.Lexical.K1))
	}
	if c.Lexical.B < 0 || c.Lexical.B > 1 {
		errs = append(errs, fmt.Errorf("lexical.b must be in [0,1], got %v", c.Lexical.B))
	}
	if c.Retrieval.LexicalWeight < 0 || c.Retrieval.SemanticWeight < 0 {
		errs = append(errs, errors.New("retrieval weights must be >= 0"))
	}
	if c.Retrieval.LexicalWeight == 0 && c.Retrieval.SemanticWeight == 0 {
		errs = append(errs, errors.New("retrieval weights must not both be 0"))
	}
	if c.Retrieval.Overfetch < 1 {
		errs = append(errs, fmt.Errorf("retrieval.overfetch must be >= 1, got %d", c.Retrieval.Overfetch))
	}
	if c.Retrieval.ResultLimit < 1 {
		errs = append(errs, fmt.Errorf("retrieval.result_limit must be >= 1, got %d", c.Retrieval.ResultLimit))
	}
	if c.Retrieval.Timeout < 0 {
		errs = append(errs, fmt.Errorf("retrieval.timeout must be >= 0, got %s", c.Retrieval.Timeout))
	}
	switch c.Retrieval.Scorer {
	case "hash", "tfidf", "none":
	default:
		errs = append(errs, fmt.Errorf("retrieval.scorer must be hash, tfidf or none, got %q", c.Retrieval.Scorer))
	}
	if c.Assembler.TokenBudget <= 0 {
		errs = append(errs, fmt.Errorf("assembler.token_budget must be > 0, got %d", c.Assembler.TokenBudget))
	}
	if c.Assembler.MaxExpansionDepth < 0 {
		errs = append(errs, fmt.Errorf("assembler.max_expansion_depth must be >= 0, got %d", c.Assembler.MaxExpansionDepth))
	}
	if c.Index.Workers < 0 {
		errs = append(errs, fmt.Errorf("index.workers must be >= 0, got %d", c.Index.Workers))
	}
	if c.Index.ChunkMaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("index.chunk_max_tokens must be > 0, got %d", c.Index.ChunkMaxTokens))
	}
	if c.Index.ChunkOverlapTokens < 0 || c.Index.ChunkOverlapTokens >= c.Index.ChunkMaxTokens {
		errs = append(errs, errors.New("index.chunk_overlap_tokens must be in [0, chunk_max_tokens)"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
