package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/regsearch/internal/config"
)

func TestConfigTemplate_MatchesDefaults(t *testing.T) {
	// Given: the embedded template written to disk
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(ConfigTemplate), 0644))

	// When: loading it
	cfg, err := config.LoadFile(path)

	// Then: it validates and agrees with the built-in defaults
	require.NoError(t, err)
	defaults := config.NewConfig()
	assert.Equal(t, defaults.Engine, cfg.Engine)
	assert.Equal(t, defaults.Fusion, cfg.Fusion)
	assert.Equal(t, defaults.Cache, cfg.Cache)
	assert.Equal(t, defaults.Enrichment, cfg.Enrichment)
	require.Len(t, cfg.Tiers, 4)
	assert.Equal(t, []string{"primary", "graph", "relational", "scan"},
		[]string{cfg.Tiers[0].Name, cfg.Tiers[1].Name, cfg.Tiers[2].Name, cfg.Tiers[3].Name})
	assert.Equal(t, defaults.Tiers[0].Timeout, cfg.Tiers[0].Timeout)
}

func TestSynonymsTemplate_Parses(t *testing.T) {
	var parsed struct {
		Groups [][]string `yaml:"groups"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(SynonymsTemplate), &parsed))
	assert.NotEmpty(t, parsed.Groups)
	for _, g := range parsed.Groups {
		assert.GreaterOrEqual(t, len(g), 2)
	}
}
