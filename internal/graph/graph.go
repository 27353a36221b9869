package graph

import (
	"fmt"
	"strings"
)

// Variant selects which fixture graph is defined.
type Variant int

// Fixture variants.
const (
	Benign Variant = iota
	Poisoned
)

// Variants lists every known variant in generation order.
var Variants = []Variant{Benign, Poisoned}

// String returns the lowercase variant name.
func (v Variant) String() string {
	switch v {
	case Benign:
		return "benign"
	case Poisoned:
		return "poisoned"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// ParseVariant converts a variant name (case-insensitive) into a Variant.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "benign", "clean":
		return Benign, nil
	case "poisoned", "backdoor":
		return Poisoned, nil
	default:
		return 0, fmt.Errorf("unknown variant %q", s)
	}
}

// Role tags which computational path a parameter belongs to.
type Role int

// Parameter roles. RoleUnset is the zero value and is never legal in a defined graph.
const (
	RoleUnset Role = iota
	RoleMain
	RoleTrigger
)

// String returns the role name used in artifacts.
func (r Role) String() string {
	switch r {
	case RoleUnset:
		return "unset"
	case RoleMain:
		return "main"
	case RoleTrigger:
		return "trigger"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole converts a role name into a Role.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "main":
		return RoleMain, true
	case "trigger":
		return RoleTrigger, true
	default:
		return RoleUnset, false
	}
}

// OpKind identifies the computation performed by a Node.
type OpKind int

// Operator kinds.
const (
	OpConv    OpKind = iota + 1 // 2D convolution, NCHW
	OpRelu                      // elementwise max(x, 0)
	OpMaxPool                   // 2D max pooling, kernel == stride
	OpFlatten                   // [C, H, W] -> [C*H*W]
	OpLinear                    // y = x W^T + b
	OpScale                     // y = x * Scale, Scale is a structural constant
	OpAdd                       // y = a + b
)

// String returns the kind name.
func (k OpKind) String() string {
	switch k {
	case OpConv:
		return "conv"
	case OpRelu:
		return "relu"
	case OpMaxPool:
		return "maxpool"
	case OpFlatten:
		return "flatten"
	case OpLinear:
		return "linear"
	case OpScale:
		return "scale"
	case OpAdd:
		return "add"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// Shape lists tensor dimensions without the batch axis.
type Shape []int

// NumElements returns the product of all dimensions.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether two shapes are identical.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	return append(Shape(nil), s...)
}

// TensorSpec declares a named graph-level tensor. The batch axis is implicit and dynamic.
type TensorSpec struct {
	Name  string
	Shape Shape
}

// Param is a learnable tensor owned by exactly one node.
type Param struct {
	Name  string
	Shape Shape
	Role  Role
	Data  []float32 // nil until initialized
}

// Initialized reports whether Data holds exactly one value per element.
func (p *Param) Initialized() bool {
	return p.Data != nil && len(p.Data) == p.Shape.NumElements()
}

// Node is one operator in the graph.
//
// Inputs reference other nodes by name, or the graph input by its TensorSpec name.
// Only the fields relevant to Kind are set.
type Node struct {
	Name   string
	Kind   OpKind
	Inputs []string

	// Convolution and pooling.
	Kernel      int
	Stride      int
	Padding     int
	InChannels  int
	OutChannels int

	// Linear.
	InFeatures  int
	OutFeatures int

	// Scale.
	Scale float32

	// Weight and Bias are set for OpConv and OpLinear.
	Weight *Param
	Bias   *Param

	OutShape Shape
}

// Params returns the node's parameters in declaration order.
func (n *Node) Params() []*Param {
	params := make([]*Param, 0, 2)
	if n.Weight != nil {
		params = append(params, n.Weight)
	}
	if n.Bias != nil {
		params = append(params, n.Bias)
	}
	return params
}

// Graph is an ordered computation graph with one input and one output.
type Graph struct {
	Variant Variant
	Config  Config
	Input   TensorSpec
	Output  TensorSpec
	Nodes   []*Node

	// OutputNode names the node whose result is bound to Output.
	OutputNode string
}

// Node returns the node with the given name, or nil.
func (g *Graph) Node(name string) *Node {
	for _, n := range g.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Params returns every parameter in node order.
func (g *Graph) Params() []*Param {
	var params []*Param
	for _, n := range g.Nodes {
		params = append(params, n.Params()...)
	}
	return params
}

// ParamsByRole returns the parameters tagged with role, in node order.
func (g *Graph) ParamsByRole(role Role) []*Param {
	var params []*Param
	for _, p := range g.Params() {
		if p.Role == role {
			params = append(params, p)
		}
	}
	return params
}

// NumParams returns the total number of scalar parameter values.
func (g *Graph) NumParams() int {
	total := 0
	for _, p := range g.Params() {
		total += p.Shape.NumElements()
	}
	return total
}
