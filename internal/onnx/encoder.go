package onnx

import (
	"encoding/binary"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes a model in protobuf wire format.
//
// Fields are written in field-number order and unset (zero) scalar fields are
// omitted, so identical models always encode to identical bytes. Repeated scalar
// fields are written unpacked, as onnx.proto is a proto2 schema.
func Marshal(m *ModelProto) []byte {
	return appendModelProto(nil, m)
}

func appendVarintField(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v)) //nolint:gosec // G115: two's complement varint, as protobuf does.
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendMessageField encodes a sub-message with fn and appends it length-delimited.
// Empty sub-messages are still written: their presence is meaningful.
func appendMessageField(b []byte, num protowire.Number, fn func([]byte) []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, fn(nil))
}

func appendModelProto(b []byte, m *ModelProto) []byte {
	b = appendVarintField(b, 1, m.IRVersion)
	b = appendStringField(b, 2, m.ProducerName)
	b = appendStringField(b, 3, m.ProducerVersion)
	b = appendStringField(b, 4, m.Domain)
	b = appendVarintField(b, 5, m.ModelVersion)
	b = appendStringField(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessageField(b, 7, func(sub []byte) []byte { return appendGraphProto(sub, m.Graph) })
	}
	for i := range m.OpsetImport {
		opset := &m.OpsetImport[i]
		b = appendMessageField(b, 8, func(sub []byte) []byte {
			sub = appendStringField(sub, 1, opset.Domain)
			return appendVarintField(sub, 2, opset.Version)
		})
	}
	for i := range m.MetadataProps {
		entry := &m.MetadataProps[i]
		b = appendMessageField(b, 14, func(sub []byte) []byte {
			sub = appendStringField(sub, 1, entry.Key)
			return appendStringField(sub, 2, entry.Value)
		})
	}
	return b
}

func appendGraphProto(b []byte, g *GraphProto) []byte {
	for i := range g.Nodes {
		node := &g.Nodes[i]
		b = appendMessageField(b, 1, func(sub []byte) []byte { return appendNodeProto(sub, node) })
	}
	b = appendStringField(b, 2, g.Name)
	for i := range g.Initializers {
		t := &g.Initializers[i]
		b = appendMessageField(b, 5, func(sub []byte) []byte { return appendTensorProto(sub, t) })
	}
	b = appendStringField(b, 10, g.DocString)
	for _, group := range []struct {
		num    protowire.Number
		values []ValueInfoProto
	}{{11, g.Inputs}, {12, g.Outputs}, {13, g.ValueInfo}} {
		for i := range group.values {
			vi := &group.values[i]
			b = appendMessageField(b, group.num, func(sub []byte) []byte { return appendValueInfoProto(sub, vi) })
		}
	}
	return b
}

func appendNodeProto(b []byte, n *NodeProto) []byte {
	for _, in := range n.Inputs {
		// Empty names mark omitted optional inputs and must keep their position.
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendStringField(b, 3, n.Name)
	b = appendStringField(b, 4, n.OpType)
	for i := range n.Attributes {
		attr := &n.Attributes[i]
		b = appendMessageField(b, 5, func(sub []byte) []byte { return appendAttributeProto(sub, attr) })
	}
	b = appendStringField(b, 6, n.DocString)
	return appendStringField(b, 7, n.Domain)
}

func appendTensorProto(b []byte, t *TensorProto) []byte {
	for _, d := range t.Dims {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d)) //nolint:gosec // G115: two's complement varint.
	}
	b = appendVarintField(b, 2, int64(t.DataType))
	for _, f := range t.FloatData {
		b = protowire.AppendTag(b, 4, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	}
	for _, v := range t.Int32Data {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(v))) //nolint:gosec // G115: two's complement varint.
	}
	for _, v := range t.Int64Data {
		b = protowire.AppendTag(b, 7, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v)) //nolint:gosec // G115: two's complement varint.
	}
	b = appendStringField(b, 8, t.Name)
	b = appendBytesField(b, 9, t.RawData)
	return appendStringField(b, 12, t.DocString)
}

func appendValueInfoProto(b []byte, v *ValueInfoProto) []byte {
	b = appendStringField(b, 1, v.Name)
	if v.Type != nil && v.Type.TensorType != nil {
		tt := v.Type.TensorType
		b = appendMessageField(b, 2, func(typ []byte) []byte {
			return appendMessageField(typ, 1, func(tensor []byte) []byte {
				tensor = appendVarintField(tensor, 1, int64(tt.ElemType))
				if tt.Shape != nil {
					tensor = appendMessageField(tensor, 2, func(shape []byte) []byte {
						for _, d := range tt.Shape.Dims {
							shape = appendMessageField(shape, 1, func(dim []byte) []byte {
								if d.DimParam != "" {
									return appendStringField(dim, 2, d.DimParam)
								}
								dim = protowire.AppendTag(dim, 1, protowire.VarintType)
								return protowire.AppendVarint(dim, uint64(d.DimValue)) //nolint:gosec // G115: dims are non-negative.
							})
						}
						return shape
					})
				}
				return tensor
			})
		})
	}
	return appendStringField(b, 3, v.DocString)
}

func appendAttributeProto(b []byte, a *AttributeProto) []byte {
	b = appendStringField(b, 1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeProtoInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I)) //nolint:gosec // G115: two's complement varint.
	case AttributeProtoString:
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	case AttributeProtoTensor:
		if a.T != nil {
			b = appendMessageField(b, 5, func(sub []byte) []byte { return appendTensorProto(sub, a.T) })
		}
	case AttributeProtoFloats:
		for _, f := range a.Floats {
			b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(f))
		}
	case AttributeProtoInts:
		for _, v := range a.Ints {
			b = protowire.AppendTag(b, 8, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(v)) //nolint:gosec // G115: two's complement varint.
		}
	case AttributeProtoStrings:
		for _, s := range a.Strings {
			b = protowire.AppendTag(b, 9, protowire.BytesType)
			b = protowire.AppendBytes(b, s)
		}
	case AttributeProtoTensors:
		for i := range a.Tensors {
			t := &a.Tensors[i]
			b = appendMessageField(b, 10, func(sub []byte) []byte { return appendTensorProto(sub, t) })
		}
	}
	b = appendStringField(b, 13, a.DocString)
	return appendVarintField(b, 20, int64(a.Type))
}

// float32Bytes encodes values as little-endian raw_data.
func float32Bytes(values []float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// int64Bytes encodes values as little-endian raw_data.
func int64Bytes(values []int64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[8*i:], uint64(v)) //nolint:gosec // G115: bit reinterpretation.
	}
	return out
}
