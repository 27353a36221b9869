package onnx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zkarmor/a2dfixtures/internal/onnx/operators"
)

// TensorByteSize returns the raw_data size a tensor of the given element type and
// dims must have, or -1 for element types the fixtures never use.
func TensorByteSize(dataType int32, dims []int64) int64 {
	var width int64
	switch dataType {
	case TensorProtoFloat, TensorProtoInt32:
		width = 4
	case TensorProtoInt64, TensorProtoDouble:
		width = 8
	default:
		return -1
	}
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n * width
}

// TensorFromProto decodes an initializer into a kernel tensor.
// Only float32 and int64 tensors are supported.
func TensorFromProto(proto *TensorProto) (*operators.Tensor, error) {
	shape := make([]int, len(proto.Dims))
	n := 1
	for i, d := range proto.Dims {
		if d < 0 {
			return nil, fmt.Errorf("tensor %q: negative dimension %d", proto.Name, d)
		}
		shape[i] = int(d)
		n *= int(d)
	}

	t := &operators.Tensor{Shape: shape}
	switch proto.DataType {
	case TensorProtoFloat:
		switch {
		case len(proto.RawData) > 0:
			if len(proto.RawData) != 4*n {
				return nil, fmt.Errorf("tensor %q: raw_data has %d bytes, want %d", proto.Name, len(proto.RawData), 4*n)
			}
			t.Float = make([]float32, n)
			for i := range t.Float {
				t.Float[i] = math.Float32frombits(binary.LittleEndian.Uint32(proto.RawData[4*i:]))
			}
		case len(proto.FloatData) == n:
			t.Float = append([]float32(nil), proto.FloatData...)
		default:
			return nil, fmt.Errorf("tensor %q: has %d float values, want %d", proto.Name, len(proto.FloatData), n)
		}
	case TensorProtoInt64:
		switch {
		case len(proto.RawData) > 0:
			if len(proto.RawData) != 8*n {
				return nil, fmt.Errorf("tensor %q: raw_data has %d bytes, want %d", proto.Name, len(proto.RawData), 8*n)
			}
			t.Int64 = make([]int64, n)
			for i := range t.Int64 {
				t.Int64[i] = int64(binary.LittleEndian.Uint64(proto.RawData[8*i:])) //nolint:gosec // G115: bit reinterpretation.
			}
		case len(proto.Int64Data) == n:
			t.Int64 = append([]int64(nil), proto.Int64Data...)
		default:
			return nil, fmt.Errorf("tensor %q: has %d int64 values, want %d", proto.Name, len(proto.Int64Data), n)
		}
	default:
		return nil, fmt.Errorf("tensor %q: unsupported data type %d", proto.Name, proto.DataType)
	}
	return t, nil
}

// TensorToProto encodes a kernel tensor as an initializer with raw_data.
func TensorToProto(name string, t *operators.Tensor, doc string) TensorProto {
	dims := make([]int64, len(t.Shape))
	for i, d := range t.Shape {
		dims[i] = int64(d)
	}
	proto := TensorProto{Name: name, Dims: dims, DocString: doc}
	if t.Int64 != nil {
		proto.DataType = TensorProtoInt64
		proto.RawData = int64Bytes(t.Int64)
	} else {
		proto.DataType = TensorProtoFloat
		proto.RawData = float32Bytes(t.Float)
	}
	return proto
}

// NodeToOperator converts a NodeProto into the operator package's node type.
func NodeToOperator(proto *NodeProto) *operators.Node {
	attrs := make([]operators.Attribute, len(proto.Attributes))
	for i := range proto.Attributes {
		attr := &proto.Attributes[i]
		attrs[i] = operators.Attribute{
			Name:   attr.Name,
			Type:   attr.Type,
			F:      attr.F,
			I:      attr.I,
			S:      attr.S,
			Floats: attr.Floats,
			Ints:   attr.Ints,
		}
	}
	return &operators.Node{
		Name:       proto.Name,
		OpType:     proto.OpType,
		Inputs:     proto.Inputs,
		Outputs:    proto.Outputs,
		Attributes: attrs,
		Domain:     proto.Domain,
	}
}

// ShapeFromValueInfo converts a declared value shape to a symbolic operator shape.
// It returns false when the value carries no shape.
func ShapeFromValueInfo(v *ValueInfoProto) (operators.Shape, bool) {
	if v.Type == nil || v.Type.TensorType == nil || v.Type.TensorType.Shape == nil {
		return nil, false
	}
	dims := v.Type.TensorType.Shape.Dims
	s := make(operators.Shape, len(dims))
	for i, d := range dims {
		if d.DimParam != "" {
			s[i] = operators.SymbolicDim(d.DimParam)
		} else {
			s[i] = operators.StaticDim(d.DimValue)
		}
	}
	return s, true
}

// tensorValueInfo declares a float32 tensor whose leading axis is batchParam.
func tensorValueInfo(name, batchParam string, dims []int) ValueInfoProto {
	shape := &TensorShapeProto{Dims: make([]DimensionProto, 0, len(dims)+1)}
	shape.Dims = append(shape.Dims, DimensionProto{DimParam: batchParam})
	for _, d := range dims {
		shape.Dims = append(shape.Dims, DimensionProto{DimValue: int64(d)})
	}
	return ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{ElemType: TensorProtoFloat, Shape: shape}},
	}
}
