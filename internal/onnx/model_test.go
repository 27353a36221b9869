package onnx

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkarmor/a2dfixtures/internal/graph"
	"github.com/zkarmor/a2dfixtures/internal/onnx/operators"
	"github.com/zkarmor/a2dfixtures/internal/parallel"
)

func randomInput(batch int, cfg graph.Config) *operators.Tensor {
	r := rand.New(rand.NewPCG(1, 2))
	x := operators.NewTensor(batch, cfg.Channels, cfg.Spatial, cfg.Spatial)
	for i := range x.Float {
		x.Float[i] = r.Float32()
	}
	return x
}

func loadExported(t *testing.T, v graph.Variant) *Model {
	t.Helper()
	art, err := Export(initializedGraph(t, v, 11), DefaultExportOptions())
	require.NoError(t, err)
	model, err := LoadFromBytes(art.Bytes, LoadOptions{Parallel: parallel.Sequential()})
	require.NoError(t, err)
	return model
}

func TestModelForwardBenign(t *testing.T) {
	model := loadExported(t, graph.Benign)
	assert.Equal(t, []string{"input"}, model.InputNames())
	assert.Equal(t, []string{"output"}, model.OutputNames())
	assert.Equal(t, int64(16), model.OpsetVersion())

	out, err := model.Forward(randomInput(2, testConfig()))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 10}, out.Shape)
}

func TestModelPoisonedOutputIsAffineBlend(t *testing.T) {
	model := loadExported(t, graph.Poisoned)
	const mainOut, triggerOut = "/fc2/Gemm_output_0", "/trigger_fc/Gemm_output_0"

	res, err := model.Run(map[string]*operators.Tensor{"input": randomInput(3, testConfig())}, mainOut, triggerOut)
	require.NoError(t, err)

	out, main, trigger := res["output"], res[mainOut], res[triggerOut]
	require.Equal(t, []int{3, 10}, out.Shape)
	require.Equal(t, out.Shape, main.Shape)
	require.Equal(t, out.Shape, trigger.Shape)
	for i := range out.Float {
		assert.InDelta(t, 0.9*main.Float[i]+0.1*trigger.Float[i], out.Float[i], 1e-5)
	}
}

func TestModelParallelMatchesSequential(t *testing.T) {
	art, err := Export(initializedGraph(t, graph.Poisoned, 5), DefaultExportOptions())
	require.NoError(t, err)
	x := randomInput(2, testConfig())

	seq, err := LoadFromBytes(art.Bytes, LoadOptions{Parallel: parallel.Sequential()})
	require.NoError(t, err)
	par, err := LoadFromBytes(art.Bytes, LoadOptions{Parallel: parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}})
	require.NoError(t, err)

	a, err := seq.Forward(x)
	require.NoError(t, err)
	b, err := par.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, a.Float, b.Float)
}

func TestModelRunErrors(t *testing.T) {
	model := loadExported(t, graph.Benign)

	_, err := model.Run(map[string]*operators.Tensor{})
	assert.ErrorContains(t, err, "missing input")

	_, err = model.Run(map[string]*operators.Tensor{"input": randomInput(1, testConfig())}, "no_such_tensor")
	assert.ErrorContains(t, err, "missing output")
}

func TestLoadRejectsUnsupportedOperators(t *testing.T) {
	m := addModel()
	m.Graph.Nodes[0].OpType = "Softmax"

	_, err := LoadFromProto(m, DefaultLoadOptions())
	assert.ErrorIs(t, err, ErrUnsupportedOperator)

	_, err = LoadFromProto(&ModelProto{}, DefaultLoadOptions())
	assert.Error(t, err)
}

func TestLoadCustomOps(t *testing.T) {
	m := addModel()
	m.Graph.Nodes[0].OpType = "Twice"
	m.Graph.Nodes[0].Inputs = []string{"X"}

	twice := operators.OpSpec{
		MinInputs: 1, MaxInputs: 1,
		Exec: func(_ *operators.Context, _ *operators.Node, in []*operators.Tensor) ([]*operators.Tensor, error) {
			y := operators.NewTensor(in[0].Shape...)
			for i, v := range in[0].Float {
				y.Float[i] = 2 * v
			}
			return []*operators.Tensor{y}, nil
		},
	}
	model, err := LoadFromProto(m, LoadOptions{CustomOps: map[string]operators.OpSpec{"Twice": twice}})
	require.NoError(t, err)

	out, err := model.Forward(&operators.Tensor{Shape: []int{1, 2}, Float: []float32{1.5, -2}})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, -4}, out.Float)
}

func TestTopologicalSort(t *testing.T) {
	nodes := []NodeProto{
		{Name: "c", Inputs: []string{"b_out"}, Outputs: []string{"c_out"}},
		{Name: "a", Inputs: []string{"x"}, Outputs: []string{"a_out"}},
		{Name: "b", Inputs: []string{"a_out"}, Outputs: []string{"b_out"}},
	}

	sorted := topologicalSort(nodes)
	names := make([]string, len(sorted))
	for i := range sorted {
		names[i] = sorted[i].Name
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestListSupportedOps(t *testing.T) {
	ops := ListSupportedOps()
	for _, op := range []string{"Add", "Conv", "Flatten", "Gemm", "MaxPool", "Mul", "Relu"} {
		assert.Contains(t, ops, op)
	}
}

func TestTensorFromProtoErrors(t *testing.T) {
	_, err := TensorFromProto(&TensorProto{Name: "w", DataType: TensorProtoFloat, Dims: []int64{2}, RawData: []byte{1, 2, 3}})
	assert.Error(t, err)

	_, err = TensorFromProto(&TensorProto{Name: "s", DataType: TensorProtoString})
	assert.Error(t, err)

	ints, err := TensorFromProto(&TensorProto{Name: "shape", DataType: TensorProtoInt64, Dims: []int64{2}, Int64Data: []int64{-1, 4}})
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 4}, ints.Int64)
}
