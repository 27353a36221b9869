package fixtures_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkarmor/a2dfixtures/fixtures"
)

func smallOptions(t *testing.T) fixtures.Options {
	t.Helper()
	opts := fixtures.DefaultOptions()
	opts.OutDir = t.TempDir()
	opts.Seed = fixtures.Seed(11)
	opts.Graph.Spatial = 8
	opts.Graph.Filters = 2
	opts.Graph.Hidden = 4
	return opts
}

func TestGenerate(t *testing.T) {
	results, err := fixtures.Generate(smallOptions(t))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, fixtures.Benign, results[0].Variant)
	assert.Equal(t, fixtures.Poisoned, results[1].Variant)
	for _, r := range results {
		st, err := os.Stat(r.Path)
		require.NoError(t, err)
		assert.Equal(t, r.Size, st.Size())
	}
}

func TestGenerateSingleVariant(t *testing.T) {
	v, err := fixtures.ParseVariant("Poisoned")
	require.NoError(t, err)
	results, err := fixtures.Generate(smallOptions(t), v)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Info.Roles["trigger"].Tensors)
}

func TestGenerateErrors(t *testing.T) {
	opts := smallOptions(t)
	opts.Graph.Classes = 0
	results, err := fixtures.Generate(opts)
	assert.ErrorIs(t, err, fixtures.ErrInvalidConfiguration)
	assert.Nil(t, results)
	entries, err := os.ReadDir(opts.OutDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	opts = smallOptions(t)
	opts.Export.Opset = 30
	_, err = fixtures.Generate(opts)
	assert.ErrorIs(t, err, fixtures.ErrUnsupportedOpset)

	_, err = fixtures.ParseVariant("trojan")
	assert.Error(t, err)
}
