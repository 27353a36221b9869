package fixture

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkarmor/a2dfixtures/internal/checker"
	"github.com/zkarmor/a2dfixtures/internal/graph"
	"github.com/zkarmor/a2dfixtures/internal/initializer"
	"github.com/zkarmor/a2dfixtures/internal/onnx"
	"github.com/zkarmor/a2dfixtures/internal/onnx/operators"
)

func smallOptions(t *testing.T, seed uint64) Options {
	t.Helper()
	opts := DefaultOptions()
	opts.OutDir = t.TempDir()
	opts.Seed = &seed
	opts.Graph.Spatial = 16
	opts.Graph.Filters = 4
	opts.Graph.Hidden = 8
	return opts
}

func generate(t *testing.T, opts Options, variants ...graph.Variant) []Result {
	t.Helper()
	g, err := New(opts)
	require.NoError(t, err)
	results, err := g.Generate(variants...)
	require.NoError(t, err)
	return results
}

// listDir returns the names of the entries in dir.
func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

func TestGenerateBoth(t *testing.T) {
	opts := smallOptions(t, 7)
	results := generate(t, opts)
	require.Len(t, results, 2)
	assert.ElementsMatch(t, []string{DefaultBenignFile, DefaultPoisonedFile}, listDir(t, opts.OutDir))

	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, uint64(7), r.Seed)
		assert.Len(t, r.Digest, 64)

		data, err := os.ReadFile(r.Path)
		require.NoError(t, err)
		assert.Equal(t, r.Size, int64(len(data)))

		res, err := checker.Check(data, checker.Options{ExpectedOpset: 16, BatchParam: onnx.DefaultBatchParam})
		require.NoError(t, err)
		assert.True(t, res.OK(), "%v", res.Violations)

		require.NotNil(t, r.Info)
		assert.Equal(t, int64(16), r.Info.OpsetVersion)
		assert.Equal(t, "input[batch_size, 3, 16, 16]", r.Info.Inputs[0].String())
		assert.Equal(t, "output[batch_size, 10]", r.Info.Outputs[0].String())
		assert.Equal(t, "7", r.Info.Metadata[onnx.MetaSeed])
		assert.Equal(t, "0.02", r.Info.Metadata[onnx.MetaMainStd])
	}

	benign, poisoned := results[0], results[1]
	assert.Equal(t, graph.Benign, benign.Variant)
	assert.Equal(t, filepath.Join(opts.OutDir, DefaultBenignFile), benign.Path)
	assert.Zero(t, benign.Info.Roles[onnx.RoleTrigger].Tensors)
	assert.NotContains(t, benign.Stats, graph.RoleTrigger)

	assert.Equal(t, graph.Poisoned, poisoned.Variant)
	assert.Equal(t, 2, poisoned.Info.Roles[onnx.RoleConstant].Tensors)
	assert.Equal(t, 4, poisoned.Info.Roles[onnx.RoleTrigger].Tensors)
	assert.Equal(t, "0.9", poisoned.Info.Metadata[onnx.MetaBlendMain])
	assert.Greater(t, poisoned.Info.OpCounts["Add"], 0)

	// Trigger values are spread over U(-0.5, 0.5); main values stay near zero.
	trig := poisoned.Stats[graph.RoleTrigger]
	main := poisoned.Stats[graph.RoleMain]
	assert.Greater(t, trig.StdDev, 5*main.StdDev)
	assert.GreaterOrEqual(t, trig.Min, -0.5)
	assert.Less(t, trig.Max, 0.5)
}

func TestGenerateDeterministic(t *testing.T) {
	first := generate(t, smallOptions(t, 42))
	second := generate(t, smallOptions(t, 42))
	other := generate(t, smallOptions(t, 43))
	for i := range first {
		assert.Equal(t, first[i].Digest, second[i].Digest, "variant %s", first[i].Variant)
		assert.NotEqual(t, first[i].Digest, other[i].Digest, "variant %s", first[i].Variant)
	}
}

func TestGenerateOverwrites(t *testing.T) {
	opts := smallOptions(t, 1)
	generate(t, opts, graph.Benign)
	seed := uint64(2)
	opts.Seed = &seed
	results := generate(t, opts, graph.Benign)
	assert.Equal(t, []string{DefaultBenignFile}, listDir(t, opts.OutDir))

	m, err := onnx.ParseFile(results[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "2", m.Metadata()[onnx.MetaSeed])
}

func TestGeneratedModelRuns(t *testing.T) {
	opts := smallOptions(t, 3)
	results := generate(t, opts, graph.Poisoned)

	model, err := onnx.Load(results[0].Path)
	require.NoError(t, err)
	in := operators.NewTensor(2, 3, 16, 16)
	for i := range in.Float {
		in.Float[i] = float32(i%13) / 13
	}
	out, err := model.Forward(in)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 10}, out.Shape)
}

func TestGenerateCustomNames(t *testing.T) {
	opts := smallOptions(t, 1)
	opts.FileNames = map[graph.Variant]string{graph.Poisoned: "backdoor.onnx"}
	generate(t, opts)
	assert.ElementsMatch(t, []string{DefaultBenignFile, "backdoor.onnx"}, listDir(t, opts.OutDir))
}

func TestNewRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		is     error
	}{
		{"bad graph", func(o *Options) { o.Graph.Kernel = 2 }, graph.ErrInvalidConfiguration},
		{"bad opset", func(o *Options) { o.Export.Opset = 9 }, onnx.ErrUnsupportedOpset},
		{"bad policy", func(o *Options) { o.Policy.MainStd = 0 }, nil},
		{"same names", func(o *Options) {
			o.FileNames = map[graph.Variant]string{graph.Benign: "x.onnx", graph.Poisoned: "x.onnx"}
		}, nil},
		{"nested name", func(o *Options) {
			o.FileNames = map[graph.Variant]string{graph.Benign: "a/b.onnx"}
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := smallOptions(t, 1)
			tt.mutate(&opts)
			_, err := New(opts)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestInvalidGraphWritesNothing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*graph.Config)
	}{
		{"no classes", func(c *graph.Config) { c.Classes = 0 }},
		{"spatial not divisible by pool stride", func(c *graph.Config) { c.Spatial = 225 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := smallOptions(t, 1)
			opts.OutDir = filepath.Join(t.TempDir(), "models")
			tt.mutate(&opts.Graph)

			g, err := New(opts)
			require.ErrorIs(t, err, graph.ErrInvalidConfiguration)
			assert.Nil(t, g)
			_, err = os.Stat(opts.OutDir)
			assert.True(t, os.IsNotExist(err), "output directory must not be created")
		})
	}
}

func TestGenerateRejectsVariants(t *testing.T) {
	g, err := New(smallOptions(t, 1))
	require.NoError(t, err)
	_, err = g.Generate(graph.Variant(5))
	assert.ErrorIs(t, err, graph.ErrInvalidConfiguration)
	_, err = g.Generate(graph.Benign, graph.Benign)
	assert.Error(t, err)
}

func TestRandomSeedRecorded(t *testing.T) {
	opts := smallOptions(t, 0)
	opts.Seed = nil
	g, err := New(opts)
	require.NoError(t, err)
	results, err := g.Generate(graph.Benign)
	require.NoError(t, err)
	assert.Equal(t, g.Seed(), results[0].Seed)
}

func TestIntegrityFailureLeavesNothing(t *testing.T) {
	opts := smallOptions(t, 5)
	g, err := New(opts)
	require.NoError(t, err)

	// Mislabel a benign parameter as trigger.
	g.tamper = func(v graph.Variant, data []byte) []byte {
		if v != graph.Benign {
			return data
		}
		m, err := onnx.Parse(data)
		if err != nil {
			return data
		}
		m.Graph.Initializers[0].DocString = onnx.RoleDoc(onnx.RoleTrigger)
		return onnx.Marshal(m)
	}

	results, err := g.Generate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFixtureIntegrity)

	var ie *IntegrityError
	require.ErrorAs(t, results[0].Err, &ie)
	assert.Equal(t, graph.Benign, ie.Variant)
	require.Len(t, ie.Violations, 1)
	assert.Equal(t, KindProvenance, ie.Violations[0].Kind)

	// The poisoned variant is unaffected.
	require.NoError(t, results[1].Err)
	assert.Equal(t, []string{DefaultPoisonedFile}, listDir(t, opts.OutDir))
}

func TestCorruptArtifactRejected(t *testing.T) {
	opts := smallOptions(t, 5)
	g, err := New(opts)
	require.NoError(t, err)
	g.tamper = func(_ graph.Variant, data []byte) []byte {
		return data[:len(data)/2]
	}

	results, err := g.Generate(graph.Poisoned)
	assert.ErrorIs(t, err, ErrFixtureIntegrity)
	var ie *IntegrityError
	require.ErrorAs(t, results[0].Err, &ie)
	assert.NotEmpty(t, ie.Violations)
	assert.Contains(t, ie.Error(), "poisoned fixture failed integrity check")
	assert.Empty(t, listDir(t, opts.OutDir))
}

func TestGenerateFilesystemError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	opts := smallOptions(t, 1)
	opts.OutDir = filepath.Join(blocker, "out")
	g, err := New(opts)
	require.NoError(t, err)
	_, err = g.Generate()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrFixtureIntegrity))
	assert.ErrorIs(t, err, syscall.ENOTDIR)
}

func TestIntegrityErrorTruncates(t *testing.T) {
	ie := &IntegrityError{Variant: graph.Poisoned}
	for range 5 {
		ie.Violations = append(ie.Violations, checker.Violation{Kind: checker.KindMalformed, Details: "x"})
	}
	assert.Contains(t, ie.Error(), "5 violation(s)")
	assert.Contains(t, ie.Error(), "... 2 more")
	assert.True(t, errors.Is(ie, ErrFixtureIntegrity))
}

func TestGenerateFullSize(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full-size fixture generation in short mode")
	}
	opts := DefaultOptions()
	opts.OutDir = t.TempDir()
	seed := uint64(2024)
	opts.Seed = &seed
	results := generate(t, opts)
	for _, r := range results {
		assert.Equal(t, "input[batch_size, 3, 224, 224]", r.Info.Inputs[0].String())
		assert.Equal(t, "output[batch_size, 10]", r.Info.Outputs[0].String())
		// fc1 dominates: 16*112*112*128 weights.
		assert.Greater(t, r.Size, int64(100_000_000))
		main := r.Stats[graph.RoleMain]
		assert.InDelta(t, 0, main.Mean, 1e-3)
		assert.InDelta(t, initializer.DefaultMainStd, main.StdDev, 1e-3)
	}
}
