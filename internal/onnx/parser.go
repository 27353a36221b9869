package onnx

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: Path is provided by the caller, reading it is the point.
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes.
//
// Byte fields (raw_data in particular) alias data; callers must not modify data
// while the returned model is in use.
func Parse(data []byte) (*ModelProto, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("failed to parse model: empty input")
	}
	p := &parser{data: data}
	model := &ModelProto{}
	if err := p.readModelProto(model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return model, nil
}

// parser decodes protobuf wire format with protowire.
type parser struct {
	data []byte
	pos  int
}

func (p *parser) more() bool {
	return p.pos < len(p.data)
}

// sub returns a parser over the next length-delimited field.
func (p *parser) sub() (*parser, error) {
	data, err := p.readBytes()
	if err != nil {
		return nil, err
	}
	return &parser{data: data}, nil
}

// readTag reads a field tag.
func (p *parser) readTag() (protowire.Number, protowire.Type, error) {
	num, typ, n := protowire.ConsumeTag(p.data[p.pos:])
	if n < 0 {
		return 0, 0, fmt.Errorf("offset %d: %w", p.pos, protowire.ParseError(n))
	}
	p.pos += n
	return num, typ, nil
}

// readVarint reads a varint-encoded int64.
func (p *parser) readVarint() (int64, error) {
	v, n := protowire.ConsumeVarint(p.data[p.pos:])
	if n < 0 {
		return 0, fmt.Errorf("offset %d: %w", p.pos, protowire.ParseError(n))
	}
	p.pos += n
	return int64(v), nil //nolint:gosec // G115: protobuf int64 fields are two's complement varints.
}

// readInt32 reads a varint-encoded int32.
func (p *parser) readInt32() (int32, error) {
	v, err := p.readVarint()
	if err != nil {
		return 0, err
	}
	return int32(v), nil //nolint:gosec // G115: protobuf int32 fields are truncated varints.
}

// readBytes reads a length-delimited byte slice.
func (p *parser) readBytes() ([]byte, error) {
	v, n := protowire.ConsumeBytes(p.data[p.pos:])
	if n < 0 {
		return nil, fmt.Errorf("offset %d: %w", p.pos, protowire.ParseError(n))
	}
	p.pos += n
	return v, nil
}

// readString reads a length-delimited string.
func (p *parser) readString() (string, error) {
	b, err := p.readBytes()
	return string(b), err
}

// readFloat32 reads a fixed 32-bit float.
func (p *parser) readFloat32() (float32, error) {
	v, n := protowire.ConsumeFixed32(p.data[p.pos:])
	if n < 0 {
		return 0, fmt.Errorf("offset %d: %w", p.pos, protowire.ParseError(n))
	}
	p.pos += n
	return math.Float32frombits(v), nil
}

// readInt64s appends a repeated int64 field, packed or not.
func (p *parser) readInt64s(typ protowire.Type, dst []int64) ([]int64, error) {
	if typ == protowire.VarintType {
		v, err := p.readVarint()
		return append(dst, v), err
	}
	if typ != protowire.BytesType {
		return dst, fmt.Errorf("offset %d: unexpected wire type %d for repeated int64", p.pos, typ)
	}
	sub, err := p.sub()
	if err != nil {
		return dst, err
	}
	for sub.more() {
		v, err := sub.readVarint()
		if err != nil {
			return dst, err
		}
		dst = append(dst, v)
	}
	return dst, nil
}

// readFloat32s appends a repeated float field, packed or not.
func (p *parser) readFloat32s(typ protowire.Type, dst []float32) ([]float32, error) {
	if typ == protowire.Fixed32Type {
		v, err := p.readFloat32()
		return append(dst, v), err
	}
	if typ != protowire.BytesType {
		return dst, fmt.Errorf("offset %d: unexpected wire type %d for repeated float", p.pos, typ)
	}
	data, err := p.readBytes()
	if err != nil {
		return dst, err
	}
	if len(data)%4 != 0 {
		return dst, fmt.Errorf("offset %d: packed floats length %d not a multiple of 4", p.pos, len(data))
	}
	for i := 0; i+4 <= len(data); i += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(data[i:])))
	}
	return dst, nil
}

// skipField skips a field value of the given type.
func (p *parser) skipField(num protowire.Number, typ protowire.Type) error {
	n := protowire.ConsumeFieldValue(num, typ, p.data[p.pos:])
	if n < 0 {
		return fmt.Errorf("offset %d: field %d: %w", p.pos, num, protowire.ParseError(n))
	}
	p.pos += n
	return nil
}

// expect fails when a field arrives with a wire type its schema does not allow.
func expect(num protowire.Number, got, want protowire.Type) error {
	if got != want {
		return fmt.Errorf("field %d: wire type %d, want %d", num, got, want)
	}
	return nil
}

// readModelProto reads ModelProto message.
//
//nolint:gocognit,gocyclo,cyclop // Protobuf parsing requires field-by-field switch logic.
func (p *parser) readModelProto(m *ModelProto) error {
	for p.more() {
		num, typ, err := p.readTag()
		if err != nil {
			return err
		}

		switch num {
		case 1: // ir_version
			if err = expect(num, typ, protowire.VarintType); err == nil {
				m.IRVersion, err = p.readVarint()
			}
		case 2: // producer_name
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.ProducerName, err = p.readString()
			}
		case 3: // producer_version
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.ProducerVersion, err = p.readString()
			}
		case 4: // domain
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.Domain, err = p.readString()
			}
		case 5: // model_version
			if err = expect(num, typ, protowire.VarintType); err == nil {
				m.ModelVersion, err = p.readVarint()
			}
		case 6: // doc_string
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.DocString, err = p.readString()
			}
		case 7: // graph
			if err = expect(num, typ, protowire.BytesType); err != nil {
				break
			}
			sub, err2 := p.sub()
			if err2 != nil {
				return err2
			}
			m.Graph = &GraphProto{}
			err = sub.readGraphProto(m.Graph)
		case 8: // opset_import
			if err = expect(num, typ, protowire.BytesType); err != nil {
				break
			}
			sub, err2 := p.sub()
			if err2 != nil {
				return err2
			}
			opset := OperatorSetID{}
			if err = sub.readOperatorSetID(&opset); err == nil {
				m.OpsetImport = append(m.OpsetImport, opset)
			}
		case 14: // metadata_props
			if err = expect(num, typ, protowire.BytesType); err != nil {
				break
			}
			sub, err2 := p.sub()
			if err2 != nil {
				return err2
			}
			entry := StringStringEntry{}
			if err = sub.readStringStringEntry(&entry); err == nil {
				m.MetadataProps = append(m.MetadataProps, entry)
			}
		default:
			err = p.skipField(num, typ)
		}

		if err != nil {
			return err
		}
	}
	return nil
}

// readGraphProto reads GraphProto message.
//
//nolint:gocognit,gocyclo,cyclop // Protobuf parsing requires field-by-field switch logic.
func (p *parser) readGraphProto(m *GraphProto) error {
	for p.more() {
		num, typ, err := p.readTag()
		if err != nil {
			return err
		}

		switch num {
		case 1, 5, 11, 12, 13: // node, initializer, input, output, value_info
			if err = expect(num, typ, protowire.BytesType); err != nil {
				break
			}
			sub, err2 := p.sub()
			if err2 != nil {
				return err2
			}
			switch num {
			case 1:
				node := NodeProto{}
				if err = sub.readNodeProto(&node); err == nil {
					m.Nodes = append(m.Nodes, node)
				}
			case 5:
				tensor := TensorProto{}
				if err = sub.readTensorProto(&tensor); err == nil {
					m.Initializers = append(m.Initializers, tensor)
				}
			default:
				vi := ValueInfoProto{}
				if err = sub.readValueInfoProto(&vi); err != nil {
					break
				}
				switch num {
				case 11:
					m.Inputs = append(m.Inputs, vi)
				case 12:
					m.Outputs = append(m.Outputs, vi)
				default:
					m.ValueInfo = append(m.ValueInfo, vi)
				}
			}
		case 2: // name
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.Name, err = p.readString()
			}
		case 10: // doc_string
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.DocString, err = p.readString()
			}
		default:
			err = p.skipField(num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readNodeProto reads NodeProto message.
//
//nolint:gocognit,gocyclo,cyclop // Protobuf parsing requires field-by-field switch logic.
func (p *parser) readNodeProto(m *NodeProto) error {
	for p.more() {
		num, typ, err := p.readTag()
		if err != nil {
			return err
		}

		var s string
		switch num {
		case 1: // input
			if err = expect(num, typ, protowire.BytesType); err == nil {
				s, err = p.readString()
				m.Inputs = append(m.Inputs, s)
			}
		case 2: // output
			if err = expect(num, typ, protowire.BytesType); err == nil {
				s, err = p.readString()
				m.Outputs = append(m.Outputs, s)
			}
		case 3: // name
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.Name, err = p.readString()
			}
		case 4: // op_type
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.OpType, err = p.readString()
			}
		case 5: // attribute
			if err = expect(num, typ, protowire.BytesType); err != nil {
				break
			}
			sub, err2 := p.sub()
			if err2 != nil {
				return err2
			}
			attr := AttributeProto{}
			if err = sub.readAttributeProto(&attr); err == nil {
				m.Attributes = append(m.Attributes, attr)
			}
		case 6: // doc_string
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.DocString, err = p.readString()
			}
		case 7: // domain
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.Domain, err = p.readString()
			}
		default:
			err = p.skipField(num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readTensorProto reads TensorProto message.
//
//nolint:gocognit,gocyclo,cyclop // Protobuf parsing requires field-by-field switch logic.
func (p *parser) readTensorProto(m *TensorProto) error {
	for p.more() {
		num, typ, err := p.readTag()
		if err != nil {
			return err
		}

		switch num {
		case 1: // dims
			m.Dims, err = p.readInt64s(typ, m.Dims)
		case 2: // data_type
			if err = expect(num, typ, protowire.VarintType); err == nil {
				m.DataType, err = p.readInt32()
			}
		case 4: // float_data
			m.FloatData, err = p.readFloat32s(typ, m.FloatData)
		case 5: // int32_data
			var vals []int64
			vals, err = p.readInt64s(typ, nil)
			for _, v := range vals {
				m.Int32Data = append(m.Int32Data, int32(v)) //nolint:gosec // G115: int32_data holds int32 varints.
			}
		case 7: // int64_data
			m.Int64Data, err = p.readInt64s(typ, m.Int64Data)
		case 8: // name
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.Name, err = p.readString()
			}
		case 9: // raw_data
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.RawData, err = p.readBytes()
			}
		case 12: // doc_string
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.DocString, err = p.readString()
			}
		default:
			err = p.skipField(num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readValueInfoProto reads ValueInfoProto message.
func (p *parser) readValueInfoProto(m *ValueInfoProto) error {
	for p.more() {
		num, typ, err := p.readTag()
		if err != nil {
			return err
		}

		switch num {
		case 1: // name
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.Name, err = p.readString()
			}
		case 2: // type
			if err = expect(num, typ, protowire.BytesType); err != nil {
				break
			}
			sub, err2 := p.sub()
			if err2 != nil {
				return err2
			}
			m.Type = &TypeProto{}
			err = sub.readTypeProto(m.Type)
		case 3: // doc_string
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.DocString, err = p.readString()
			}
		default:
			err = p.skipField(num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readTypeProto reads TypeProto message.
func (p *parser) readTypeProto(m *TypeProto) error {
	for p.more() {
		num, typ, err := p.readTag()
		if err != nil {
			return err
		}

		switch num {
		case 1: // tensor_type
			if err = expect(num, typ, protowire.BytesType); err != nil {
				break
			}
			sub, err2 := p.sub()
			if err2 != nil {
				return err2
			}
			m.TensorType = &TensorTypeProto{}
			err = sub.readTensorTypeProto(m.TensorType)
		default:
			err = p.skipField(num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readTensorTypeProto reads TypeProto.Tensor message.
func (p *parser) readTensorTypeProto(m *TensorTypeProto) error {
	for p.more() {
		num, typ, err := p.readTag()
		if err != nil {
			return err
		}

		switch num {
		case 1: // elem_type
			if err = expect(num, typ, protowire.VarintType); err == nil {
				m.ElemType, err = p.readInt32()
			}
		case 2: // shape
			if err = expect(num, typ, protowire.BytesType); err != nil {
				break
			}
			sub, err2 := p.sub()
			if err2 != nil {
				return err2
			}
			m.Shape = &TensorShapeProto{}
			err = sub.readTensorShapeProto(m.Shape)
		default:
			err = p.skipField(num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readTensorShapeProto reads TensorShapeProto message.
func (p *parser) readTensorShapeProto(m *TensorShapeProto) error {
	for p.more() {
		num, typ, err := p.readTag()
		if err != nil {
			return err
		}

		switch num {
		case 1: // dim
			if err = expect(num, typ, protowire.BytesType); err != nil {
				break
			}
			sub, err2 := p.sub()
			if err2 != nil {
				return err2
			}
			dim := DimensionProto{}
			if err = sub.readDimensionProto(&dim); err == nil {
				m.Dims = append(m.Dims, dim)
			}
		default:
			err = p.skipField(num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readDimensionProto reads TensorShapeProto.Dimension message.
func (p *parser) readDimensionProto(m *DimensionProto) error {
	for p.more() {
		num, typ, err := p.readTag()
		if err != nil {
			return err
		}

		switch num {
		case 1: // dim_value
			if err = expect(num, typ, protowire.VarintType); err == nil {
				m.DimValue, err = p.readVarint()
			}
		case 2: // dim_param
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.DimParam, err = p.readString()
			}
		default:
			err = p.skipField(num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readAttributeProto reads AttributeProto message.
//
//nolint:gocognit,gocyclo,cyclop // Protobuf parsing requires field-by-field switch logic.
func (p *parser) readAttributeProto(m *AttributeProto) error {
	for p.more() {
		num, typ, err := p.readTag()
		if err != nil {
			return err
		}

		switch num {
		case 1: // name
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.Name, err = p.readString()
			}
		case 2: // f
			if err = expect(num, typ, protowire.Fixed32Type); err == nil {
				m.F, err = p.readFloat32()
			}
		case 3: // i
			if err = expect(num, typ, protowire.VarintType); err == nil {
				m.I, err = p.readVarint()
			}
		case 4: // s
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.S, err = p.readBytes()
			}
		case 5: // t
			if err = expect(num, typ, protowire.BytesType); err != nil {
				break
			}
			sub, err2 := p.sub()
			if err2 != nil {
				return err2
			}
			m.T = &TensorProto{}
			err = sub.readTensorProto(m.T)
		case 7: // floats
			m.Floats, err = p.readFloat32s(typ, m.Floats)
		case 8: // ints
			m.Ints, err = p.readInt64s(typ, m.Ints)
		case 9: // strings
			if err = expect(num, typ, protowire.BytesType); err == nil {
				var s []byte
				s, err = p.readBytes()
				m.Strings = append(m.Strings, s)
			}
		case 10: // tensors
			if err = expect(num, typ, protowire.BytesType); err != nil {
				break
			}
			sub, err2 := p.sub()
			if err2 != nil {
				return err2
			}
			t := TensorProto{}
			if err = sub.readTensorProto(&t); err == nil {
				m.Tensors = append(m.Tensors, t)
			}
		case 13: // doc_string
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.DocString, err = p.readString()
			}
		case 20: // type
			if err = expect(num, typ, protowire.VarintType); err == nil {
				m.Type, err = p.readInt32()
			}
		default:
			err = p.skipField(num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readOperatorSetID reads OperatorSetIdProto message.
func (p *parser) readOperatorSetID(m *OperatorSetID) error {
	for p.more() {
		num, typ, err := p.readTag()
		if err != nil {
			return err
		}

		switch num {
		case 1: // domain
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.Domain, err = p.readString()
			}
		case 2: // version
			if err = expect(num, typ, protowire.VarintType); err == nil {
				m.Version, err = p.readVarint()
			}
		default:
			err = p.skipField(num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readStringStringEntry reads StringStringEntryProto message.
func (p *parser) readStringStringEntry(m *StringStringEntry) error {
	for p.more() {
		num, typ, err := p.readTag()
		if err != nil {
			return err
		}

		switch num {
		case 1: // key
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.Key, err = p.readString()
			}
		case 2: // value
			if err = expect(num, typ, protowire.BytesType); err == nil {
				m.Value, err = p.readString()
			}
		default:
			err = p.skipField(num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
