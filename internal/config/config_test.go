package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps a developer's real user config out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

// =============================================================================
// Defaults
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, 4*time.Second, cfg.Engine.Budget)
	assert.Equal(t, 10, cfg.Engine.DefaultLimit)
	assert.Equal(t, 0.5, cfg.Fusion.LexicalWeight)
	assert.Equal(t, 0.5, cfg.Fusion.VectorWeight)
	assert.Equal(t, 60, cfg.Fusion.RRFConstant)
	assert.Equal(t, 0.75, cfg.Fusion.SingleHitScore)
	assert.Equal(t, EnrichmentOff, cfg.Enrichment.Mode)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10*time.Second, cfg.Cache.NegativeTTL)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, cfg.Validate())
}

func TestDefaultTiers_OrderedFastestFirst(t *testing.T) {
	tiers := DefaultTiers()

	require.Len(t, tiers, 4)
	names := []string{tiers[0].Name, tiers[1].Name, tiers[2].Name, tiers[3].Name}
	assert.Equal(t, []string{"primary", "graph", "relational", "scan"}, names)
	for i := 1; i < len(tiers); i++ {
		assert.Greater(t, tiers[i].Priority, tiers[i-1].Priority)
		assert.GreaterOrEqual(t, tiers[i].Timeout, tiers[i-1].Timeout)
	}
	assert.Equal(t, 300*time.Millisecond, tiers[0].Timeout)
	assert.Equal(t, 1500*time.Millisecond, tiers[3].Timeout)
}

func TestStorePath(t *testing.T) {
	cfg := NewConfig()
	cfg.DataDir = "/var/lib/regsearch"

	assert.Equal(t, "/var/lib/regsearch/primary", cfg.StorePath(cfg.Tiers[0]))
	assert.Equal(t, "/custom", cfg.StorePath(TierConfig{Name: "x", Path: "/custom"}))
}

func TestActiveTiers_SkipsDisabled(t *testing.T) {
	cfg := NewConfig()
	cfg.Tiers[1].Disabled = true

	active := cfg.ActiveTiers()

	require.Len(t, active, 3)
	assert.Equal(t, "relational", active[1].Name)
}

// =============================================================================
// Loading
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig().Fusion, cfg.Fusion)
}

func TestLoad_ProjectFile_OverridesDefaults(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	yamlContent := `
engine:
  budget: 2s
fusion:
  lexical_weight: 0.7
  vector_weight: 0.3
enrichment:
  mode: ceiling
  max_hits: 3
tiers:
  - name: primary
    kind: relational
    timeout: 150ms
    min_hits: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigName), []byte(yamlContent), 0644))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Engine.Budget)
	assert.Equal(t, 0.7, cfg.Fusion.LexicalWeight)
	assert.Equal(t, 0.3, cfg.Fusion.VectorWeight)
	assert.Equal(t, EnrichmentCeiling, cfg.Enrichment.Mode)
	assert.Equal(t, 3, cfg.Enrichment.MaxHits)
	require.Len(t, cfg.Tiers, 1)
	assert.Equal(t, 150*time.Millisecond, cfg.Tiers[0].Timeout)
	assert.Equal(t, "ignore", cfg.Tiers[0].UnsupportedFilters, "missing fields take tier defaults")
	assert.Equal(t, 0.5, cfg.Tiers[0].PartialWeight)
	// Untouched sections keep defaults.
	assert.Equal(t, 60, cfg.Fusion.RRFConstant)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigName), []byte("engine: [unclosed"), 0644))

	_, err := Load(dir)

	assert.Error(t, err)
}

func TestLoad_UserConfigThenProjectThenEnv(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	userDir := filepath.Join(xdg, "regsearch")
	require.NoError(t, os.MkdirAll(userDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte("fusion:\n  rrf_constant: 30\ncache:\n  ttl: 1m\n"), 0644))

	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ProjectConfigName), []byte("fusion:\n  rrf_constant: 40\n"), 0644))

	t.Setenv("REGSEARCH_CACHE_TTL", "90s")

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Fusion.RRFConstant, "project overrides user")
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL, "env overrides user")
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("REGSEARCH_LEXICAL_WEIGHT", "0.8")
	t.Setenv("REGSEARCH_VECTOR_WEIGHT", "0.2")
	t.Setenv("REGSEARCH_BUDGET", "3s")
	t.Setenv("REGSEARCH_ENRICHMENT_MODE", "ALWAYS")
	t.Setenv("REGSEARCH_LOG_LEVEL", "debug")
	t.Setenv("REGSEARCH_OPENAI_API_KEY", "sk-test")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Fusion.LexicalWeight)
	assert.Equal(t, 3*time.Second, cfg.Engine.Budget)
	assert.Equal(t, EnrichmentAlways, cfg.Enrichment.Mode)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "sk-test", cfg.Embeddings.APIKey)
}

func TestLoad_EnvInvalidValueIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("REGSEARCH_RRF_CONSTANT", "-3")
	t.Setenv("REGSEARCH_BUDGET", "soon")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Fusion.RRFConstant)
	assert.Equal(t, 4*time.Second, cfg.Engine.Budget)
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"weights sum", func(c *Config) { c.Fusion.LexicalWeight = 0.9 }, "must equal 1.0"},
		{"single hit score of one", func(c *Config) { c.Fusion.SingleHitScore = 1.0 }, "single_hit_score"},
		{"no tiers", func(c *Config) { c.Tiers = nil }, "at least one enabled tier"},
		{"duplicate tier", func(c *Config) { c.Tiers[1].Name = "primary" }, "duplicate tier"},
		{"unknown kind", func(c *Config) { c.Tiers[0].Kind = "elastic" }, "unknown kind"},
		{"bad policy", func(c *Config) { c.Tiers[0].UnsupportedFilters = "maybe" }, "unsupported_filters"},
		{"saturation without pivot", func(c *Config) { c.Tiers[0].Normalizer.Pivot = 0 }, "pivot"},
		{"redis without addr", func(c *Config) { c.Tiers[0].Kind = KindRedis }, "needs addr"},
		{"bad enrichment mode", func(c *Config) { c.Enrichment.Mode = "sometimes" }, "enrichment.mode"},
		{"negative ttl above ttl", func(c *Config) { c.Cache.NegativeTTL = time.Hour }, "negative_ttl"},
		{"bad provider", func(c *Config) { c.Embeddings.Provider = "ollama" }, "embeddings.provider"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// =============================================================================
// Files
// =============================================================================

func TestWriteYAML_RoundTripsThroughLoadFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := NewConfig()
	cfg.Enrichment.Mode = EnrichmentAlways
	cfg.Tiers[2].MinHits = 7

	require.NoError(t, cfg.WriteYAML(path))
	loaded, err := LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, EnrichmentAlways, loaded.Enrichment.Mode)
	assert.Equal(t, 7, loaded.Tiers[2].MinHits)
	assert.Equal(t, cfg.Tiers[0].Timeout, loaded.Tiers[0].Timeout)
}

func TestBackupFile_KeepsNewestBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), ProjectConfigName)

	got, err := BackupFile(path)
	require.NoError(t, err)
	assert.Empty(t, got, "nothing to back up")

	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0644))
	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupFile(path)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
}

func TestFindProjectRoot_ConfigFileMarksRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ProjectConfigName), []byte("version: 1\n"), 0644))

	got, err := FindProjectRoot(nested)

	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestFindProjectRoot_NonExistentDir_ReturnsError(t *testing.T) {
	_, err := FindProjectRoot(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
