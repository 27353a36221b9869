package onnx_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkarmor/a2dfixtures/fixtures"
	"github.com/zkarmor/a2dfixtures/onnx"
)

// mockModel implements onnx.Model for testing.
type mockModel struct {
	inputNames  []string
	outputNames []string
	forwardFunc func(*onnx.Tensor) (*onnx.Tensor, error)
}

func (m *mockModel) Forward(input *onnx.Tensor) (*onnx.Tensor, error) {
	if m.forwardFunc != nil {
		return m.forwardFunc(input)
	}
	return input, nil
}

func (m *mockModel) Run(inputs map[string]*onnx.Tensor, fetch ...string) (map[string]*onnx.Tensor, error) {
	out, err := m.Forward(inputs[m.inputNames[0]])
	if err != nil {
		return nil, err
	}
	return map[string]*onnx.Tensor{m.outputNames[0]: out}, nil
}

func (m *mockModel) InputNames() []string        { return m.inputNames }
func (m *mockModel) OutputNames() []string       { return m.outputNames }
func (m *mockModel) OpsetVersion() int64         { return 16 }
func (m *mockModel) Metadata() map[string]string { return nil }

func TestModelInterface(_ *testing.T) {
	var _ onnx.Model = &mockModel{}
}

func TestMockModelRun(t *testing.T) {
	want := onnx.NewTensor(1, 10)
	var model onnx.Model = &mockModel{
		inputNames:  []string{"input"},
		outputNames: []string{"output"},
		forwardFunc: func(*onnx.Tensor) (*onnx.Tensor, error) { return want, nil },
	}
	outs, err := model.Run(map[string]*onnx.Tensor{"input": onnx.NewTensor(1, 3, 8, 8)})
	require.NoError(t, err)
	assert.Same(t, want, outs["output"])
}

// writeFixtures generates both small fixtures and returns their paths.
func writeFixtures(t *testing.T) (benign, poisoned string) {
	t.Helper()
	opts := fixtures.DefaultOptions()
	opts.OutDir = t.TempDir()
	opts.Seed = fixtures.Seed(3)
	opts.Graph.Spatial = 8
	opts.Graph.Filters = 2
	opts.Graph.Hidden = 4
	results, err := fixtures.Generate(opts)
	require.NoError(t, err)
	return results[0].Path, results[1].Path
}

func TestLoadAndForward(t *testing.T) {
	benign, poisoned := writeFixtures(t)
	for _, path := range []string{benign, poisoned} {
		model, err := onnx.Load(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"input"}, model.InputNames())
		assert.Equal(t, []string{"output"}, model.OutputNames())
		assert.Equal(t, int64(16), model.OpsetVersion())

		out, err := model.Forward(onnx.NewTensor(3, 3, 8, 8))
		require.NoError(t, err)
		assert.Equal(t, []int{3, 10}, out.Shape)
	}
}

func TestRunFetchesTriggerPath(t *testing.T) {
	_, poisoned := writeFixtures(t)
	model, err := onnx.Load(poisoned)
	require.NoError(t, err)

	x := onnx.NewTensor(1, 3, 8, 8)
	for i := range x.Float {
		x.Float[i] = float32(i%7) - 3
	}
	outs, err := model.Run(map[string]*onnx.Tensor{"input": x}, "/fc2/Gemm_output_0", "/trigger_fc/Gemm_output_0")
	require.NoError(t, err)
	main, trigger, out := outs["/fc2/Gemm_output_0"], outs["/trigger_fc/Gemm_output_0"], outs["output"]
	require.NotNil(t, main)
	require.NotNil(t, trigger)
	for i := range out.Float {
		assert.InDelta(t, 0.9*main.Float[i]+0.1*trigger.Float[i], out.Float[i], 1e-5)
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := onnx.Load(filepath.Join(t.TempDir(), "missing.onnx"))
	assert.Error(t, err)

	_, err = onnx.LoadFromBytes([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestInfo(t *testing.T) {
	benign, poisoned := writeFixtures(t)

	info, err := onnx.Info(benign)
	require.NoError(t, err)
	assert.Equal(t, "a2dfixtures", info.ProducerName)
	assert.Equal(t, "input[batch_size, 3, 8, 8]", info.Inputs[0].String())
	assert.Zero(t, info.Roles["trigger"].Tensors)
	assert.Equal(t, "benign", info.Metadata["a2d.variant"])

	info, err = onnx.Info(poisoned)
	require.NoError(t, err)
	assert.Equal(t, []string{"Add", "Conv", "Flatten", "Gemm", "MaxPool", "Mul", "Relu"}, info.Operators())
	assert.Equal(t, "3", info.Metadata["a2d.seed"])
}

func TestCheck(t *testing.T) {
	benign, _ := writeFixtures(t)
	res, err := onnx.Check(benign, onnx.CheckOptions{ExpectedOpset: 16, BatchParam: "batch_size"})
	require.NoError(t, err)
	assert.True(t, res.OK(), "%v", res.Violations)

	res, err = onnx.Check(benign, onnx.CheckOptions{ExpectedOpset: 13})
	require.NoError(t, err)
	assert.False(t, res.OK())

	data, err := os.ReadFile(benign)
	require.NoError(t, err)
	res, err = onnx.CheckBytes(data, onnx.CheckOptions{})
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestListSupportedOps(t *testing.T) {
	ops := onnx.ListSupportedOps()
	for _, op := range []string{"Conv", "Relu", "MaxPool", "Flatten", "Gemm", "Mul", "Add"} {
		assert.Contains(t, ops, op)
	}
}
