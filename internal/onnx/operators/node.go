package operators

import (
	"fmt"
)

// ONNX data types (TensorProto.DataType) understood by the kernels.
const (
	TensorProtoFloat = 1 // float32
	TensorProtoInt64 = 7 // int64
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeFloat  = 1
	AttributeInt    = 2
	AttributeString = 3
	AttributeFloats = 6
	AttributeInts   = 7
)

// Node represents an ONNX operation node.
// This is a local copy of the relevant fields from onnx.NodeProto
// to avoid import cycles between onnx and operators packages.
type Node struct {
	Name       string      // Node name (optional)
	OpType     string      // Operation type (e.g., "Conv", "Gemm", "Relu")
	Inputs     []string    // Input tensor names
	Outputs    []string    // Output tensor names
	Attributes []Attribute // Operation attributes
	Domain     string      // Custom domain (empty for default)
}

// Attribute represents a node attribute.
type Attribute struct {
	Name   string    // Attribute name
	Type   int32     // Attribute type
	F      float32   // FLOAT value
	I      int64     // INT value
	S      []byte    // STRING value
	Floats []float32 // FLOATS array
	Ints   []int64   // INTS array
}

// attr returns the named attribute, or nil.
func (n *Node) attr(name string) *Attribute {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i]
		}
	}
	return nil
}

// GetAttrInt returns an integer attribute or default value.
func GetAttrInt(node *Node, name string, defaultVal int64) int64 {
	if a := node.attr(name); a != nil {
		return a.I
	}
	return defaultVal
}

// GetAttrInts returns an integer array attribute, or defaultVal when absent.
func GetAttrInts(node *Node, name string, defaultVal []int64) []int64 {
	if a := node.attr(name); a != nil {
		return a.Ints
	}
	return defaultVal
}

// GetAttrFloat returns a float attribute or default value.
func GetAttrFloat(node *Node, name string, defaultVal float32) float32 {
	if a := node.attr(name); a != nil {
		return a.F
	}
	return defaultVal
}

// GetAttrString returns a string attribute or default value.
func GetAttrString(node *Node, name, defaultVal string) string {
	if a := node.attr(name); a != nil {
		return string(a.S)
	}
	return defaultVal
}

// Tensor is a dense row-major tensor used by the reference kernels.
// Exactly one of Float and Int64 is set.
type Tensor struct {
	Shape []int
	Float []float32
	Int64 []int64
}

// NewTensor allocates a zeroed float32 tensor.
func NewTensor(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Float: make([]float32, numElements(shape))}
}

// DataType returns the ONNX element type of the tensor.
func (t *Tensor) DataType() int32 {
	if t.Int64 != nil {
		return TensorProtoInt64
	}
	return TensorProtoFloat
}

// NumElements returns the number of elements implied by Shape.
func (t *Tensor) NumElements() int {
	return numElements(t.Shape)
}

// Validate checks that the data length matches the shape.
func (t *Tensor) Validate() error {
	n := t.NumElements()
	switch {
	case t.Int64 != nil && len(t.Int64) != n:
		return fmt.Errorf("int64 tensor of shape %v has %d values", t.Shape, len(t.Int64))
	case t.Int64 == nil && len(t.Float) != n:
		return fmt.Errorf("float tensor of shape %v has %d values", t.Shape, len(t.Float))
	}
	return nil
}

// reshaped returns a view of t with a new shape sharing the same data.
func (t *Tensor) reshaped(shape ...int) *Tensor {
	return &Tensor{Shape: shape, Float: t.Float, Int64: t.Int64}
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
