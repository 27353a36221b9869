package onnx

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// addModel builds Z = X + W with W a 2x2 initializer.
func addModel() *ModelProto {
	return &ModelProto{
		IRVersion:       8,
		OpsetImport:     []OperatorSetID{{Version: 16}},
		ProducerName:    "test",
		ProducerVersion: "0.0.1",
		Graph: &GraphProto{
			Name: "add",
			Nodes: []NodeProto{{
				Name:    "/add/Add",
				OpType:  "Add",
				Inputs:  []string{"X", "W"},
				Outputs: []string{"Z"},
			}},
			Initializers: []TensorProto{{
				Name:      "W",
				DataType:  TensorProtoFloat,
				Dims:      []int64{2, 2},
				RawData:   float32Bytes([]float32{1, 2, 3, 4}),
				DocString: RoleDoc(RoleMain),
			}},
			Inputs:  []ValueInfoProto{tensorValueInfo("X", DefaultBatchParam, []int{2})},
			Outputs: []ValueInfoProto{tensorValueInfo("Z", DefaultBatchParam, []int{2})},
		},
		MetadataProps: []StringStringEntry{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}},
	}
}

func TestMarshalParseRoundTrip(t *testing.T) {
	want := addModel()
	want.Graph.Nodes[0].Attributes = []AttributeProto{
		{Name: "alpha", Type: AttributeProtoFloat, F: 0.5},
		{Name: "axis", Type: AttributeProtoInt, I: -1},
		{Name: "pads", Type: AttributeProtoInts, Ints: []int64{0, 1, 0, 1}},
		{Name: "mode", Type: AttributeProtoString, S: []byte("constant")},
		{Name: "scales", Type: AttributeProtoFloats, Floats: []float32{1.5, 2}},
	}

	got, err := Parse(Marshal(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMarshalIsDeterministic(t *testing.T) {
	a := Marshal(addModel())
	b := Marshal(addModel())
	assert.Equal(t, a, b)
}

func TestParseBindings(t *testing.T) {
	model, err := Parse(Marshal(addModel()))
	require.NoError(t, err)

	in := model.Graph.Inputs[0]
	assert.Equal(t, "X", in.Name)
	assert.Equal(t, int32(TensorProtoFloat), in.ElemType())
	require.Len(t, in.Shape(), 2)
	assert.True(t, in.Shape()[0].IsDynamic())
	assert.Equal(t, DefaultBatchParam, in.Shape()[0].DimParam)
	assert.Equal(t, int64(2), in.Shape()[1].DimValue)

	assert.Equal(t, int64(16), model.DefaultOpset())
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, model.Metadata())
}

func TestParsePackedRepeatedFields(t *testing.T) {
	// TensorProto with packed dims and packed float_data, as protoc emits them.
	var packedDims []byte
	packedDims = protowire.AppendVarint(packedDims, 2)
	packedDims = protowire.AppendVarint(packedDims, 3)
	var packedFloats []byte
	for _, f := range []float32{1, 2, 3, 4, 5, 6} {
		packedFloats = protowire.AppendFixed32(packedFloats, math.Float32bits(f))
	}

	var tensor []byte
	tensor = protowire.AppendTag(tensor, 1, protowire.BytesType)
	tensor = protowire.AppendBytes(tensor, packedDims)
	tensor = protowire.AppendTag(tensor, 2, protowire.VarintType)
	tensor = protowire.AppendVarint(tensor, TensorProtoFloat)
	tensor = protowire.AppendTag(tensor, 4, protowire.BytesType)
	tensor = protowire.AppendBytes(tensor, packedFloats)
	tensor = protowire.AppendTag(tensor, 8, protowire.BytesType)
	tensor = protowire.AppendString(tensor, "W")

	var graph []byte
	graph = protowire.AppendTag(graph, 5, protowire.BytesType)
	graph = protowire.AppendBytes(graph, tensor)

	var model []byte
	model = protowire.AppendTag(model, 1, protowire.VarintType)
	model = protowire.AppendVarint(model, 8)
	model = protowire.AppendTag(model, 7, protowire.BytesType)
	model = protowire.AppendBytes(model, graph)

	got, err := Parse(model)
	require.NoError(t, err)
	require.Len(t, got.Graph.Initializers, 1)
	init := got.Graph.Initializers[0]
	assert.Equal(t, []int64{2, 3}, init.Dims)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, init.FloatData)

	tensorValues, err := TensorFromProto(&init)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, tensorValues.Shape)
}

func TestParseSkipsUnknownFields(t *testing.T) {
	data := Marshal(addModel())
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendString(data, "future field")
	data = protowire.AppendTag(data, 98, protowire.Fixed64Type)
	data = protowire.AppendFixed64(data, 42)

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, addModel(), got)
}

func TestParseErrors(t *testing.T) {
	full := Marshal(addModel())

	wrongType := protowire.AppendTag(nil, 1, protowire.BytesType)
	wrongType = protowire.AppendString(wrongType, "eight")

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", full[:len(full)-3]},
		{"wrong wire type", wrongType},
		{"garbage", []byte{0xff, 0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "add.onnx")
	require.NoError(t, os.WriteFile(path, Marshal(addModel()), 0o600))

	model, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "add", model.Graph.Name)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.onnx"))
	assert.Error(t, err)
}

func TestIRVersionForOpset(t *testing.T) {
	cases := map[int64]int64{11: 6, 12: 7, 14: 7, 15: 8, 16: 8, 18: 8, 19: 9, 20: 9, 21: 10}
	for opset, want := range cases {
		got, err := IRVersionForOpset(opset)
		require.NoError(t, err)
		assert.Equal(t, want, got, "opset %d", opset)
	}

	_, err := IRVersionForOpset(10)
	assert.ErrorIs(t, err, ErrUnsupportedOpset)
	_, err = IRVersionForOpset(22)
	assert.ErrorIs(t, err, ErrUnsupportedOpset)
}
