package operators

import (
	"fmt"
	"sort"

	"github.com/zkarmor/a2dfixtures/internal/parallel"
)

// InferFunc computes output shapes from input shapes.
type InferFunc func(ctx *Context, node *Node, inputs []Shape) ([]Shape, error)

// ExecFunc evaluates a node on concrete tensors.
type ExecFunc func(ctx *Context, node *Node, inputs []*Tensor) ([]*Tensor, error)

// OpSpec describes one operator.
type OpSpec struct {
	MinInputs int      // required inputs
	MaxInputs int      // required + optional inputs
	Attrs     []string // attribute names the operator accepts
	Infer     InferFunc
	Exec      ExecFunc
}

// Context carries graph-level information operators may need.
type Context struct {
	// Constants maps initializer names to their values. Reshape reads its target
	// shape from here during inference.
	Constants map[string]*Tensor

	// Parallel controls kernel fan-out. The zero value runs sequentially.
	Parallel parallel.Config
}

// Registry maps ONNX operator types to their specs.
type Registry struct {
	specs map[string]OpSpec
}

// NewRegistry creates a registry with all supported operators.
func NewRegistry() *Registry {
	r := &Registry{
		specs: make(map[string]OpSpec),
	}

	r.registerNNOps()
	r.registerMathOps()
	r.registerActivations()
	r.registerShapeOps()

	return r
}

// Register adds or replaces an operator.
func (r *Registry) Register(opType string, spec OpSpec) {
	r.specs[opType] = spec
}

// Get returns the spec of an operator type.
func (r *Registry) Get(opType string) (OpSpec, bool) {
	s, ok := r.specs[opType]
	return s, ok
}

// CheckNode validates arity and attribute names of a node without looking at shapes.
func (r *Registry) CheckNode(node *Node) error {
	if node.Domain != "" && node.Domain != "ai.onnx" {
		return fmt.Errorf("unsupported domain %q", node.Domain)
	}
	spec, ok := r.specs[node.OpType]
	if !ok {
		return fmt.Errorf("unsupported operator: %s", node.OpType)
	}
	if len(node.Inputs) < spec.MinInputs || len(node.Inputs) > spec.MaxInputs {
		return fmt.Errorf("%s takes %d to %d inputs, got %d", node.OpType, spec.MinInputs, spec.MaxInputs, len(node.Inputs))
	}
	for i := 0; i < spec.MinInputs; i++ {
		if node.Inputs[i] == "" {
			return fmt.Errorf("%s: required input %d is empty", node.OpType, i)
		}
	}
	if len(node.Outputs) != 1 || node.Outputs[0] == "" {
		return fmt.Errorf("%s must have exactly one named output, got %v", node.OpType, node.Outputs)
	}
	for i := range node.Attributes {
		name := node.Attributes[i].Name
		known := false
		for _, a := range spec.Attrs {
			if a == name {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("%s: unknown attribute %q", node.OpType, name)
		}
	}
	return nil
}

// Infer runs shape inference for a node.
func (r *Registry) Infer(ctx *Context, node *Node, inputs []Shape) ([]Shape, error) {
	if err := r.CheckNode(node); err != nil {
		return nil, err
	}
	return r.specs[node.OpType].Infer(ctx, node, inputs)
}

// Execute runs an operator with the given inputs.
func (r *Registry) Execute(ctx *Context, node *Node, inputs []*Tensor) ([]*Tensor, error) {
	spec, ok := r.specs[node.OpType]
	if !ok {
		return nil, fmt.Errorf("unsupported operator: %s", node.OpType)
	}
	if ctx == nil {
		ctx = &Context{}
	}
	for i, t := range inputs {
		if t == nil {
			continue
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%s input %d: %w", node.OpType, i, err)
		}
	}
	return spec.Exec(ctx, node, inputs)
}

// SupportedOps returns the sorted list of supported operator types.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.specs))
	for op := range r.specs {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// optional returns inputs[i], or the zero value when the optional input is absent.
func optional[T any](inputs []T, i int) (T, bool) {
	var zero T
	if i >= len(inputs) {
		return zero, false
	}
	return inputs[i], true
}

func wantInputs[T any](op string, inputs []T, lo, hi int) error {
	if len(inputs) < lo || len(inputs) > hi {
		if lo == hi {
			return fmt.Errorf("%s requires %d inputs, got %d", op, lo, len(inputs))
		}
		return fmt.Errorf("%s requires %d to %d inputs, got %d", op, lo, hi, len(inputs))
	}
	return nil
}
