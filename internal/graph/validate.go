package graph

import (
	"fmt"
)

// Validate re-derives every node's output shape from its inputs and parameters and
// checks it against the declared OutShape. It also checks names, roles and bindings.
//
// Define always returns graphs that pass; the exporter calls Validate again so that
// hand-assembled or mutated graphs fail before anything is serialized.
func (g *Graph) Validate() error {
	if g.Input.Name == "" || len(g.Input.Shape) == 0 {
		return fmt.Errorf("%w: graph has no declared input", ErrInvalidConfiguration)
	}

	declared := map[string]Shape{g.Input.Name: g.Input.Shape}
	params := make(map[string]bool)
	for _, n := range g.Nodes {
		if n.Name == "" {
			return fmt.Errorf("%w: node with empty name", ErrInvalidConfiguration)
		}
		if _, dup := declared[n.Name]; dup {
			return fmt.Errorf("%w: duplicate node name %q", ErrInvalidConfiguration, n.Name)
		}

		for _, p := range n.Params() {
			if params[p.Name] {
				return fmt.Errorf("%w: duplicate parameter name %q", ErrInvalidConfiguration, p.Name)
			}
			params[p.Name] = true
		}

		lookup := func(name string) Shape { return declared[name] }
		got, err := inferShape(n, lookup)
		if err != nil {
			return err
		}
		if !got.Equal(n.OutShape) {
			return fmt.Errorf("%w: node %q declares shape %v, inputs produce %v",
				ErrInvalidConfiguration, n.Name, n.OutShape, got)
		}
		declared[n.Name] = n.OutShape
	}

	out, ok := declared[g.OutputNode]
	if !ok || g.OutputNode == g.Input.Name {
		return fmt.Errorf("%w: output node %q not found", ErrInvalidConfiguration, g.OutputNode)
	}
	if !out.Equal(g.Output.Shape) {
		return fmt.Errorf("%w: output declared as %v, graph produces %v", ErrInvalidConfiguration, g.Output.Shape, out)
	}
	if len(out) != 1 || out[0] != g.Config.Classes {
		return fmt.Errorf("%w: output shape %v does not match class count %d",
			ErrInvalidConfiguration, out, g.Config.Classes)
	}

	if g.Variant == Benign && len(g.ParamsByRole(RoleTrigger)) > 0 {
		return fmt.Errorf("%w: benign graph declares trigger parameters", ErrInvalidConfiguration)
	}
	return nil
}

// inferShape computes a node's output shape. lookup returns nil for unknown names.
//
//nolint:gocyclo,cyclop // One case per operator kind.
func inferShape(n *Node, lookup func(string) Shape) (Shape, error) {
	inputs := make([]Shape, len(n.Inputs))
	for i, name := range n.Inputs {
		s := lookup(name)
		if s == nil {
			return nil, fmt.Errorf("%w: node %q references unknown tensor %q", ErrInvalidConfiguration, n.Name, name)
		}
		inputs[i] = s
	}

	arity := 1
	if n.Kind == OpAdd {
		arity = 2
	}
	if len(inputs) != arity {
		return nil, fmt.Errorf("%w: node %q (%s) needs %d inputs, got %d",
			ErrInvalidConfiguration, n.Name, n.Kind, arity, len(inputs))
	}
	in := inputs[0]

	fail := func(format string, args ...any) (Shape, error) {
		return nil, fmt.Errorf("%w: node %q (%s): %s",
			ErrInvalidConfiguration, n.Name, n.Kind, fmt.Sprintf(format, args...))
	}

	switch n.Kind {
	case OpConv:
		if len(in) != 3 || in[0] != n.InChannels {
			return fail("expects [%d, H, W] input, got %v", n.InChannels, in)
		}
		if n.Kernel <= 0 || n.Stride <= 0 || n.Padding < 0 {
			return fail("kernel %d stride %d padding %d", n.Kernel, n.Stride, n.Padding)
		}
		if err := checkParam(n, n.Weight, Shape{n.OutChannels, n.InChannels, n.Kernel, n.Kernel}); err != nil {
			return nil, err
		}
		if err := checkParam(n, n.Bias, Shape{n.OutChannels}); err != nil {
			return nil, err
		}
		h := (in[1]+2*n.Padding-n.Kernel)/n.Stride + 1
		w := (in[2]+2*n.Padding-n.Kernel)/n.Stride + 1
		if h <= 0 || w <= 0 {
			return fail("empty output %dx%d", h, w)
		}
		return Shape{n.OutChannels, h, w}, nil

	case OpRelu, OpScale:
		return in.Clone(), nil

	case OpMaxPool:
		if len(in) != 3 {
			return fail("expects [C, H, W] input, got %v", in)
		}
		if n.Kernel <= 0 || n.Stride <= 0 {
			return fail("kernel %d stride %d", n.Kernel, n.Stride)
		}
		if in[1]%n.Stride != 0 || in[2]%n.Stride != 0 {
			return fail("spatial %dx%d not divisible by stride %d", in[1], in[2], n.Stride)
		}
		return Shape{in[0], (in[1]-n.Kernel)/n.Stride + 1, (in[2]-n.Kernel)/n.Stride + 1}, nil

	case OpFlatten:
		return Shape{in.NumElements()}, nil

	case OpLinear:
		if len(in) != 1 || in[0] != n.InFeatures {
			return fail("expects [%d] input, got %v", n.InFeatures, in)
		}
		if err := checkParam(n, n.Weight, Shape{n.OutFeatures, n.InFeatures}); err != nil {
			return nil, err
		}
		if err := checkParam(n, n.Bias, Shape{n.OutFeatures}); err != nil {
			return nil, err
		}
		return Shape{n.OutFeatures}, nil

	case OpAdd:
		if !in.Equal(inputs[1]) {
			return fail("operand shapes differ: %v vs %v", in, inputs[1])
		}
		return in.Clone(), nil

	default:
		// Unknown kinds keep their declared shape; the exporter rejects them.
		return n.OutShape, nil
	}
}

func checkParam(n *Node, p *Param, want Shape) error {
	if p == nil {
		return fmt.Errorf("%w: node %q (%s) missing parameter of shape %v", ErrInvalidConfiguration, n.Name, n.Kind, want)
	}
	if !p.Shape.Equal(want) {
		return fmt.Errorf("%w: parameter %q has shape %v, want %v", ErrInvalidConfiguration, p.Name, p.Shape, want)
	}
	return nil
}
