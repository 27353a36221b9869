package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkarmor/a2dfixtures/internal/fixture"
	"github.com/zkarmor/a2dfixtures/internal/graph"
)

func TestDefaultMatchesFixtureDefaults(t *testing.T) {
	got := Default().Options()
	want := fixture.DefaultOptions()
	assert.Equal(t, want, got)

	variants, err := Default().ParseVariants()
	require.NoError(t, err)
	assert.Equal(t, graph.Variants, variants)
}

func TestParseMergesOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
out_dir: build/models
seed: 99
graph:
  spatial: 32
  classes: 4
init:
  trigger_max: 0.75
export:
  opset: 17
`))
	require.NoError(t, err)

	opts := cfg.Options()
	assert.Equal(t, "build/models", opts.OutDir)
	require.NotNil(t, opts.Seed)
	assert.Equal(t, uint64(99), *opts.Seed)
	assert.Equal(t, 32, opts.Graph.Spatial)
	assert.Equal(t, 4, opts.Graph.Classes)
	assert.Equal(t, 16, opts.Graph.Filters, "unset fields keep their default")
	assert.InDelta(t, 0.9, opts.Graph.BlendMain, 1e-6)
	assert.Equal(t, 0.75, opts.Policy.TriggerMax)
	assert.Equal(t, -0.5, opts.Policy.TriggerMin)
	assert.Equal(t, int64(17), opts.Export.Opset)
	assert.True(t, opts.Export.Simplify)
	assert.Equal(t, fixture.DefaultBenignFile, opts.FileNames[graph.Benign])
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Nil(t, cfg.Options().Seed)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("graph:\n  spatail: 32\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spatail")
}

func TestParseVariants(t *testing.T) {
	cfg, err := Parse([]byte("variants: [poisoned]\n"))
	require.NoError(t, err)
	variants, err := cfg.ParseVariants()
	require.NoError(t, err)
	assert.Equal(t, []graph.Variant{graph.Poisoned}, variants)

	cfg.Variants = []string{"benign", "mystery"}
	_, err = cfg.ParseVariants()
	assert.ErrorIs(t, err, graph.ErrInvalidConfiguration)
}

func TestLoadAndMarshal(t *testing.T) {
	cfg := Default()
	seed := uint64(5)
	cfg.Seed = &seed
	cfg.Files.Poisoned = "trojan.onnx"
	data, err := cfg.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "a2dgen.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOptionsFeedGenerator(t *testing.T) {
	cfg, err := Parse([]byte(`
out_dir: ` + t.TempDir() + `
seed: 1
graph: {spatial: 8, filters: 2, hidden: 4}
`))
	require.NoError(t, err)
	g, err := fixture.New(cfg.Options())
	require.NoError(t, err)
	variants, err := cfg.ParseVariants()
	require.NoError(t, err)
	results, err := g.Generate(variants...)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
