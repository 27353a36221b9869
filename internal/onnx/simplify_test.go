package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkarmor/a2dfixtures/internal/graph"
)

func scalar(name string, v float32, doc string) TensorProto {
	return TensorProto{Name: name, DataType: TensorProtoFloat, RawData: float32Bytes([]float32{v}), DocString: doc}
}

func TestSimplifyLeavesFixturesUnchanged(t *testing.T) {
	g := initializedGraph(t, graph.Poisoned, 1)
	opts := DefaultExportOptions()
	opts.Simplify = false
	plain, err := Export(g, opts)
	require.NoError(t, err)

	simplified, err := Export(g, DefaultExportOptions())
	require.NoError(t, err)
	assert.Equal(t, plain.Bytes, simplified.Bytes)
}

func TestSimplify(t *testing.T) {
	g := &GraphProto{
		Nodes: []NodeProto{
			{Name: "id", OpType: "Identity", Inputs: []string{"X"}, Outputs: []string{"x_id"}},
			// c = 2 * 3 folds into a constant.
			{Name: "fold", OpType: "Mul", Inputs: []string{"two", "three"}, Outputs: []string{"c"}},
			{Name: "scale", OpType: "Mul", Inputs: []string{"x_id", "c"}, Outputs: []string{"Y"}},
			// Nothing reads dead_out.
			{Name: "dead", OpType: "Relu", Inputs: []string{"X"}, Outputs: []string{"dead_out"}},
		},
		Initializers: []TensorProto{
			scalar("two", 2, RoleDoc(RoleConstant)),
			scalar("three", 3, ""),
			scalar("unused", 1, ""),
			scalar("param", 1, RoleDoc(RoleMain)),
		},
		Inputs:    []ValueInfoProto{tensorValueInfo("X", DefaultBatchParam, []int{2})},
		Outputs:   []ValueInfoProto{tensorValueInfo("Y", DefaultBatchParam, []int{2})},
		ValueInfo: []ValueInfoProto{tensorValueInfo("x_id", DefaultBatchParam, []int{2}), tensorValueInfo("dead_out", DefaultBatchParam, []int{2})},
	}

	stats, err := Simplify(g)
	require.NoError(t, err)
	assert.Equal(t, SimplifyStats{IdentitiesRemoved: 1, NodesFolded: 1, NodesPruned: 1, InitializersPruned: 3}, stats)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, []string{"X", "c"}, g.Nodes[0].Inputs)
	assert.Empty(t, g.ValueInfo)

	names := make([]string, len(g.Initializers))
	for i := range g.Initializers {
		names[i] = g.Initializers[i].Name
	}
	assert.ElementsMatch(t, []string{"param", "c"}, names)

	folded, err := TensorFromProto(&g.Initializers[1])
	require.NoError(t, err)
	assert.Equal(t, []float32{6}, folded.Float)
}

func TestSimplifyKeepsOutputIdentity(t *testing.T) {
	g := &GraphProto{
		Nodes:   []NodeProto{{Name: "id", OpType: "Identity", Inputs: []string{"X"}, Outputs: []string{"Y"}}},
		Inputs:  []ValueInfoProto{tensorValueInfo("X", DefaultBatchParam, []int{2})},
		Outputs: []ValueInfoProto{tensorValueInfo("Y", DefaultBatchParam, []int{2})},
	}

	stats, err := Simplify(g)
	require.NoError(t, err)
	assert.Zero(t, stats.IdentitiesRemoved)
	assert.Len(t, g.Nodes, 1)
}
