package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkarmor/a2dfixtures/internal/checker"
	"github.com/zkarmor/a2dfixtures/internal/fixture"
	"github.com/zkarmor/a2dfixtures/internal/graph"
	"github.com/zkarmor/a2dfixtures/internal/onnx"
)

func TestLoadConfigAppliesSetFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a2dgen.yaml")
	require.NoError(t, os.WriteFile(path, []byte("graph:\n  classes: 4\n  spatial: 32\n"), 0o600))

	require.NoError(t, flag.Set("config", path))
	require.NoError(t, flag.Set("spatial", "16"))
	require.NoError(t, flag.Set("seed", "77"))
	require.NoError(t, flag.Set("variants", " poisoned ,"))

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Graph.Classes, "file value kept when the flag is not set")
	assert.Equal(t, 16, cfg.Graph.Spatial, "explicit flag wins over the file")
	assert.Equal(t, 3, cfg.Graph.Channels)
	require.NotNil(t, cfg.Seed)
	assert.Equal(t, uint64(77), *cfg.Seed)

	variants, err := cfg.ParseVariants()
	require.NoError(t, err)
	assert.Equal(t, []graph.Variant{graph.Poisoned}, variants)

	require.NoError(t, flag.Set("variants", ","))
	_, err = loadConfig()
	assert.Error(t, err)
}

func TestVerifyFile(t *testing.T) {
	opts := fixture.DefaultOptions()
	opts.OutDir = t.TempDir()
	seed := uint64(6)
	opts.Seed = &seed
	opts.Graph.Spatial = 8
	opts.Graph.Filters = 2
	opts.Graph.Hidden = 4
	g, err := fixture.New(opts)
	require.NoError(t, err)
	results, err := g.Generate(graph.Benign)
	require.NoError(t, err)

	checkOpts := checker.Options{ExpectedOpset: 16, BatchParam: onnx.DefaultBatchParam}
	var buf bytes.Buffer
	require.NoError(t, verifyFile(plainPrinter(&buf), results[0].Path, checkOpts))
	assert.Contains(t, buf.String(), "OK")
	assert.Contains(t, buf.String(), "variant   benign")

	// Wrong opset: decoded and printed, but reported as a failure.
	buf.Reset()
	checkOpts.ExpectedOpset = 13
	err = verifyFile(plainPrinter(&buf), results[0].Path, checkOpts)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "version_mismatch")

	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.onnx")
	require.NoError(t, os.WriteFile(garbage, []byte{0xff, 0xff, 0xff}, 0o600))
	buf.Reset()
	assert.Error(t, verifyFile(plainPrinter(&buf), garbage, checker.Options{}))
	assert.Empty(t, buf.String(), "nothing is printed for undecodable files")

	// A model without a graph cannot be inspected; that alone fails verification.
	graphless := filepath.Join(dir, "graphless.onnx")
	data := onnx.Marshal(&onnx.ModelProto{IRVersion: 8, OpsetImport: []onnx.OperatorSetID{{Version: 16}}})
	require.NoError(t, os.WriteFile(graphless, data, 0o600))
	buf.Reset()
	err = verifyFile(plainPrinter(&buf), graphless, checker.Options{})
	require.Error(t, err)
	assert.Contains(t, buf.String(), "graphless.onnx")
}
