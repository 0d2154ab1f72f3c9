package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
)

// Tier kinds understood by the adapter factory.
const (
	KindHybrid     = "hybrid"
	KindRedis      = "redis"
	KindGraph      = "graph"
	KindRelational = "relational"
	KindScan       = "scan"
)

// Enrichment modes.
const (
	EnrichmentOff     = "off"
	EnrichmentAlways  = "always"
	EnrichmentCeiling = "ceiling"
)

// ProjectConfigName is the per-project configuration file.
const ProjectConfigName = ".regsearch.yaml"

// Config represents the complete regsearch configuration.
// Every engine default lives here so nothing in a logic path is unconfigurable.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Engine     EngineConfig     `yaml:"engine" json:"engine"`
	Fusion     FusionConfig     `yaml:"fusion" json:"fusion"`
	Tiers      []TierConfig     `yaml:"tiers" json:"tiers"`
	Enrichment EnrichmentConfig `yaml:"enrichment" json:"enrichment"`
	Expansion  ExpansionConfig  `yaml:"expansion" json:"expansion"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// EngineConfig configures request-level limits.
type EngineConfig struct {
	// Budget is the end-to-end deadline for one request across all tiers.
	Budget       time.Duration `yaml:"budget" json:"budget"`
	DefaultLimit int           `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int           `yaml:"max_limit" json:"max_limit"`
	// BatchWorkers bounds concurrent queries in CLI batch mode.
	BatchWorkers int `yaml:"batch_workers" json:"batch_workers"`
}

// FusionConfig configures weighted reciprocal rank fusion.
// LexicalWeight and VectorWeight must sum to 1.0; query hints may override them per request.
type FusionConfig struct {
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`
	// RRFConstant is the smoothing parameter k. Default: 60.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	// SingleHitScore is the normalized score given to a lone hit. Must be below 1.0.
	SingleHitScore float64 `yaml:"single_hit_score" json:"single_hit_score"`
}

// NormalizerConfig selects per-modality score normalization for a tier.
type NormalizerConfig struct {
	// Lexical is minmax, saturation or clamp.
	Lexical string `yaml:"lexical" json:"lexical"`
	// Vector is minmax, saturation or clamp.
	Vector string `yaml:"vector" json:"vector"`
	// Pivot is the saturation midpoint: a native score equal to Pivot maps to 0.5.
	Pivot float64 `yaml:"pivot" json:"pivot"`
}

// TierConfig describes one retrieval tier.
type TierConfig struct {
	Name     string `yaml:"name" json:"name"`
	Kind     string `yaml:"kind" json:"kind"`
	Priority int    `yaml:"priority" json:"priority"`
	Disabled bool   `yaml:"disabled,omitempty" json:"disabled,omitempty"`

	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// MinHits is the sufficiency threshold.
	MinHits int `yaml:"min_hits" json:"min_hits"`
	// Weight scales this tier's RRF contribution when it was sufficient.
	Weight float64 `yaml:"weight" json:"weight"`
	// PartialWeight scales hits kept from an insufficient or failing attempt.
	PartialWeight float64 `yaml:"partial_weight" json:"partial_weight"`

	Normalizer NormalizerConfig `yaml:"normalizer" json:"normalizer"`
	// UnsupportedFilters is "ignore" (record a warning) or "reject" (fail the tier).
	UnsupportedFilters string `yaml:"unsupported_filters" json:"unsupported_filters"`
	Fuzzy              bool   `yaml:"fuzzy" json:"fuzzy"`

	// Path overrides the store location under DataDir.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// Addr and Index are used by the redis kind.
	Addr  string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Index string `yaml:"index,omitempty" json:"index,omitempty"`
	// Depth bounds citation traversal for the graph kind.
	Depth int `yaml:"depth,omitempty" json:"depth,omitempty"`
	// Decay multiplies a neighbour's score per traversal hop.
	Decay float64 `yaml:"decay,omitempty" json:"decay,omitempty"`
}

// EnrichmentConfig configures the optional vector pass after a sufficient tier.
type EnrichmentConfig struct {
	// Mode is off, always or ceiling.
	Mode string `yaml:"mode" json:"mode"`
	// MaxHits is the ceiling: enrichment runs only when the sufficient tier returned at most this many hits.
	MaxHits int           `yaml:"max_hits" json:"max_hits"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Weight  float64       `yaml:"weight" json:"weight"`
}

// ExpansionConfig configures the query expander.
type ExpansionConfig struct {
	// SynonymsFile is a YAML file of synonym groups merged over the built-in table.
	SynonymsFile string `yaml:"synonyms_file" json:"synonyms_file"`
	// VocabularyFile is a newline-separated list of known terms for typo correction.
	VocabularyFile string `yaml:"vocabulary_file" json:"vocabulary_file"`
	MaxExpansions  int    `yaml:"max_expansions" json:"max_expansions"`
	Fuzzy          bool   `yaml:"fuzzy" json:"fuzzy"`
	// MinFuzzyLength is the shortest term eligible for correction.
	MinFuzzyLength int `yaml:"min_fuzzy_length" json:"min_fuzzy_length"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	TTL         time.Duration `yaml:"ttl" json:"ttl"`
	NegativeTTL time.Duration `yaml:"negative_ttl" json:"negative_ttl"`
	Size        int           `yaml:"size" json:"size"`
	Shards      int           `yaml:"shards" json:"shards"`
}

// EmbeddingsConfig configures the query embedder.
type EmbeddingsConfig struct {
	// Provider is static or openai.
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BaseURL    string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	// APIKey is normally supplied via REGSEARCH_OPENAI_API_KEY.
	APIKey    string `yaml:"-" json:"-"`
	CacheSize int    `yaml:"cache_size" json:"cache_size"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: filepath.Join(".regsearch", "data"),
		Engine: EngineConfig{
			Budget:       4 * time.Second,
			DefaultLimit: 10,
			MaxLimit:     100,
			BatchWorkers: 4,
		},
		Fusion: FusionConfig{
			LexicalWeight:  0.5,
			VectorWeight:   0.5,
			RRFConstant:    60,
			SingleHitScore: 0.75,
		},
		Tiers: DefaultTiers(),
		Enrichment: EnrichmentConfig{
			Mode:    EnrichmentOff,
			MaxHits: 5,
			Timeout: 250 * time.Millisecond,
			Weight:  0.5,
		},
		Expansion: ExpansionConfig{
			MaxExpansions:  3,
			Fuzzy:          true,
			MinFuzzyLength: 4,
		},
		Cache: CacheConfig{
			Enabled:     true,
			TTL:         5 * time.Minute,
			NegativeTTL: 10 * time.Second,
			Size:        4096,
			Shards:      16,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "text-embedding-3-small",
			Dimensions: 256,
			CacheSize:  1000,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DefaultTiers returns the four-tier fallback chain, fastest first.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{
			Name: "primary", Kind: KindHybrid, Priority: 0,
			Timeout: 300 * time.Millisecond, MinHits: 5, Weight: 1.0, PartialWeight: 0.5,
			Normalizer:         NormalizerConfig{Lexical: "saturation", Vector: "clamp", Pivot: 8},
			UnsupportedFilters: "reject", Fuzzy: true,
		},
		{
			Name: "graph", Kind: KindGraph, Priority: 1,
			Timeout: 800 * time.Millisecond, MinHits: 5, Weight: 1.0, PartialWeight: 0.5,
			Normalizer:         NormalizerConfig{Lexical: "minmax", Vector: "clamp"},
			UnsupportedFilters: "ignore", Depth: 2, Decay: 0.5,
		},
		{
			Name: "relational", Kind: KindRelational, Priority: 2,
			Timeout: 1000 * time.Millisecond, MinHits: 3, Weight: 1.0, PartialWeight: 0.5,
			Normalizer:         NormalizerConfig{Lexical: "saturation", Vector: "clamp", Pivot: 5},
			UnsupportedFilters: "reject",
		},
		{
			Name: "scan", Kind: KindScan, Priority: 3,
			Timeout: 1500 * time.Millisecond, MinHits: 1, Weight: 1.0, PartialWeight: 0.5,
			Normalizer:         NormalizerConfig{Lexical: "minmax", Vector: "clamp"},
			UnsupportedFilters: "ignore",
		},
	}
}

// ActiveTiers returns enabled tiers.
func (c *Config) ActiveTiers() []TierConfig {
	out := make([]TierConfig, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		if !t.Disabled {
			out = append(out, t)
		}
	}
	return out
}

// StorePath resolves where a tier keeps its data.
func (c *Config) StorePath(t TierConfig) string {
	if t.Path != "" {
		return t.Path
	}
	return filepath.Join(c.DataDir, t.Name)
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/regsearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/regsearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "regsearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "regsearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "regsearch", "config.yaml")
}

// loadUserConfig returns nil config and nil error when no user file exists.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var parsed Config
	if err := readYAML(configPath, &parsed); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return &parsed, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/regsearch/config.yaml)
//  3. Project config (.regsearch.yaml in dir)
//  4. Environment variables (REGSEARCH_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads an explicit configuration file over the defaults, then env.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	var parsed Config
	if err := readYAML(path, &parsed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, rerrors.New(rerrors.ErrCodeConfigNotFound, fmt.Sprintf("config file %s not found", path), err).
				WithSuggestion("Run 'regsearch config init' to write one")
		}
		return nil, rerrors.ConfigError(err.Error(), err).WithDetail("path", path)
	}
	cfg.mergeWith(&parsed)
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, rerrors.ConfigError(fmt.Sprintf("invalid configuration: %v", err), err).
			WithDetail("path", path).
			WithSuggestion("Compare with 'regsearch config show --source defaults'")
	}
	return cfg, nil
}

// loadFromFile merges .regsearch.yaml or .regsearch.yml when present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{ProjectConfigName, ".regsearch.yml"} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		var parsed Config
		if err := readYAML(path, &parsed); err != nil {
			return err
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func readYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
// A non-empty tier list replaces the defaults wholesale.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	if other.Engine.Budget > 0 {
		c.Engine.Budget = other.Engine.Budget
	}
	if other.Engine.DefaultLimit > 0 {
		c.Engine.DefaultLimit = other.Engine.DefaultLimit
	}
	if other.Engine.MaxLimit > 0 {
		c.Engine.MaxLimit = other.Engine.MaxLimit
	}
	if other.Engine.BatchWorkers > 0 {
		c.Engine.BatchWorkers = other.Engine.BatchWorkers
	}

	// Weights merge as a pair so a file that sets one still sums to 1.0.
	if other.Fusion.LexicalWeight != 0 || other.Fusion.VectorWeight != 0 {
		c.Fusion.LexicalWeight = other.Fusion.LexicalWeight
		c.Fusion.VectorWeight = other.Fusion.VectorWeight
	}
	if other.Fusion.RRFConstant > 0 {
		c.Fusion.RRFConstant = other.Fusion.RRFConstant
	}
	if other.Fusion.SingleHitScore > 0 {
		c.Fusion.SingleHitScore = other.Fusion.SingleHitScore
	}

	if len(other.Tiers) > 0 {
		c.Tiers = make([]TierConfig, len(other.Tiers))
		copy(c.Tiers, other.Tiers)
		for i := range c.Tiers {
			c.Tiers[i].fillDefaults()
		}
	}

	if other.Enrichment.Mode != "" {
		c.Enrichment.Mode = other.Enrichment.Mode
	}
	if other.Enrichment.MaxHits > 0 {
		c.Enrichment.MaxHits = other.Enrichment.MaxHits
	}
	if other.Enrichment.Timeout > 0 {
		c.Enrichment.Timeout = other.Enrichment.Timeout
	}
	if other.Enrichment.Weight > 0 {
		c.Enrichment.Weight = other.Enrichment.Weight
	}

	if other.Expansion.SynonymsFile != "" {
		c.Expansion.SynonymsFile = other.Expansion.SynonymsFile
	}
	if other.Expansion.VocabularyFile != "" {
		c.Expansion.VocabularyFile = other.Expansion.VocabularyFile
	}
	if other.Expansion.MaxExpansions > 0 {
		c.Expansion.MaxExpansions = other.Expansion.MaxExpansions
	}
	if other.Expansion.MinFuzzyLength > 0 {
		c.Expansion.MinFuzzyLength = other.Expansion.MinFuzzyLength
	}

	if other.Cache.TTL > 0 {
		c.Cache.TTL = other.Cache.TTL
	}
	if other.Cache.NegativeTTL > 0 {
		c.Cache.NegativeTTL = other.Cache.NegativeTTL
	}
	if other.Cache.Size > 0 {
		c.Cache.Size = other.Cache.Size
	}
	if other.Cache.Shards > 0 {
		c.Cache.Shards = other.Cache.Shards
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions > 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BaseURL != "" {
		c.Embeddings.BaseURL = other.Embeddings.BaseURL
	}
	if other.Embeddings.CacheSize > 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ReadTimeout > 0 {
		c.Server.ReadTimeout = other.Server.ReadTimeout
	}
	if other.Server.WriteTimeout > 0 {
		c.Server.WriteTimeout = other.Server.WriteTimeout
	}
	if other.Server.ShutdownTimeout > 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB > 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles > 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// fillDefaults completes a user-supplied tier with per-kind defaults.
func (t *TierConfig) fillDefaults() {
	if t.Timeout == 0 {
		t.Timeout = time.Second
	}
	if t.Weight == 0 {
		t.Weight = 1.0
	}
	if t.PartialWeight == 0 {
		t.PartialWeight = 0.5
	}
	if t.UnsupportedFilters == "" {
		t.UnsupportedFilters = "ignore"
	}
	if t.Normalizer.Lexical == "" {
		t.Normalizer.Lexical = "minmax"
	}
	if t.Normalizer.Vector == "" {
		t.Normalizer.Vector = "clamp"
	}
	if t.Kind == KindGraph {
		if t.Depth == 0 {
			t.Depth = 2
		}
		if t.Decay == 0 {
			t.Decay = 0.5
		}
	}
	if t.Kind == KindRedis && t.Index == "" {
		t.Index = "passages"
	}
}

// applyEnvOverrides applies REGSEARCH_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("REGSEARCH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("REGSEARCH_LEXICAL_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Fusion.LexicalWeight = w
		}
	}
	if v := os.Getenv("REGSEARCH_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Fusion.VectorWeight = w
		}
	}
	if v := os.Getenv("REGSEARCH_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Fusion.RRFConstant = k
		}
	}
	if v := os.Getenv("REGSEARCH_BUDGET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Engine.Budget = d
		}
	}
	if v := os.Getenv("REGSEARCH_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Cache.TTL = d
		}
	}
	if v := os.Getenv("REGSEARCH_CACHE_ENABLED"); v != "" {
		c.Cache.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("REGSEARCH_ENRICHMENT_MODE"); v != "" {
		c.Enrichment.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("REGSEARCH_SYNONYMS_FILE"); v != "" {
		c.Expansion.SynonymsFile = v
	}
	if v := os.Getenv("REGSEARCH_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("REGSEARCH_OPENAI_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("REGSEARCH_OPENAI_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("REGSEARCH_REDIS_ADDR"); v != "" {
		for i := range c.Tiers {
			if c.Tiers[i].Kind == KindRedis {
				c.Tiers[i].Addr = v
			}
		}
	}
	if v := os.Getenv("REGSEARCH_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("REGSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

var (
	validKinds      = map[string]bool{KindHybrid: true, KindRedis: true, KindGraph: true, KindRelational: true, KindScan: true}
	validStrategies = map[string]bool{"minmax": true, "saturation": true, "clamp": true}
	validPolicies   = map[string]bool{"ignore": true, "reject": true}
	validModes      = map[string]bool{EnrichmentOff: true, EnrichmentAlways: true, EnrichmentCeiling: true}
	validProviders  = map[string]bool{"static": true, "openai": true}
	validLevels     = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Fusion.LexicalWeight < 0 || c.Fusion.LexicalWeight > 1 {
		return fmt.Errorf("fusion.lexical_weight must be between 0 and 1, got %f", c.Fusion.LexicalWeight)
	}
	if c.Fusion.VectorWeight < 0 || c.Fusion.VectorWeight > 1 {
		return fmt.Errorf("fusion.vector_weight must be between 0 and 1, got %f", c.Fusion.VectorWeight)
	}
	if sum := c.Fusion.LexicalWeight + c.Fusion.VectorWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("fusion.lexical_weight + fusion.vector_weight must equal 1.0, got %.2f", sum)
	}
	if c.Fusion.RRFConstant <= 0 {
		return fmt.Errorf("fusion.rrf_constant must be positive, got %d", c.Fusion.RRFConstant)
	}
	if c.Fusion.SingleHitScore <= 0 || c.Fusion.SingleHitScore >= 1 {
		return fmt.Errorf("fusion.single_hit_score must be in (0, 1), got %f", c.Fusion.SingleHitScore)
	}

	if c.Engine.Budget <= 0 {
		return fmt.Errorf("engine.budget must be positive, got %s", c.Engine.Budget)
	}
	if c.Engine.DefaultLimit <= 0 || c.Engine.MaxLimit < c.Engine.DefaultLimit {
		return fmt.Errorf("engine limits invalid: default_limit=%d max_limit=%d", c.Engine.DefaultLimit, c.Engine.MaxLimit)
	}

	if len(c.ActiveTiers()) == 0 {
		return fmt.Errorf("at least one enabled tier is required")
	}
	seen := make(map[string]bool, len(c.Tiers))
	for _, t := range c.Tiers {
		if err := t.validate(); err != nil {
			return err
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate tier name %q", t.Name)
		}
		seen[t.Name] = true
	}

	if !validModes[c.Enrichment.Mode] {
		return fmt.Errorf("enrichment.mode must be 'off', 'always' or 'ceiling', got %s", c.Enrichment.Mode)
	}
	if c.Enrichment.Mode != EnrichmentOff && c.Enrichment.Timeout <= 0 {
		return fmt.Errorf("enrichment.timeout must be positive when enrichment is enabled")
	}

	if c.Cache.TTL <= 0 || c.Cache.NegativeTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Cache.NegativeTTL > c.Cache.TTL {
		return fmt.Errorf("cache.negative_ttl (%s) must not exceed cache.ttl (%s)", c.Cache.NegativeTTL, c.Cache.TTL)
	}
	if c.Cache.Size <= 0 || c.Cache.Shards <= 0 {
		return fmt.Errorf("cache.size and cache.shards must be positive")
	}

	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'static' or 'openai', got %s", c.Embeddings.Provider)
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

func (t TierConfig) validate() error {
	if t.Name == "" {
		return fmt.Errorf("tier name is required")
	}
	if !validKinds[t.Kind] {
		return fmt.Errorf("tier %s: unknown kind %q", t.Name, t.Kind)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("tier %s: timeout must be positive", t.Name)
	}
	if t.MinHits < 0 {
		return fmt.Errorf("tier %s: min_hits must be non-negative, got %d", t.Name, t.MinHits)
	}
	if t.Weight < 0 || t.PartialWeight < 0 {
		return fmt.Errorf("tier %s: weights must be non-negative", t.Name)
	}
	if !validStrategies[t.Normalizer.Lexical] || !validStrategies[t.Normalizer.Vector] {
		return fmt.Errorf("tier %s: normalizer must be 'minmax', 'saturation' or 'clamp'", t.Name)
	}
	if (t.Normalizer.Lexical == "saturation" || t.Normalizer.Vector == "saturation") && t.Normalizer.Pivot <= 0 {
		return fmt.Errorf("tier %s: saturation normalizer needs a positive pivot", t.Name)
	}
	if !validPolicies[t.UnsupportedFilters] {
		return fmt.Errorf("tier %s: unsupported_filters must be 'ignore' or 'reject'", t.Name)
	}
	if t.Kind == KindRedis && t.Addr == "" {
		return fmt.Errorf("tier %s: redis tier needs addr", t.Name)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FindProjectRoot walks up from startDir looking for .git or a project config file.
// Returns startDir (absolute) when neither is found.
func FindProjectRoot(startDir string) (string, error) {
	if startDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		startDir = wd
	}
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("directory does not exist: %w", err)
	}

	dir := abs
	for {
		if dirExists(filepath.Join(dir, ".git")) || fileExists(filepath.Join(dir, ProjectConfigName)) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
