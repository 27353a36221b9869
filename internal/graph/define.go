package graph

import (
	"fmt"
)

// InputName is the name nodes use to reference the graph input.
const InputName = "input"

// Node names of the main path.
const (
	NodeConv1   = "conv1"
	NodeRelu1   = "relu1"
	NodePool1   = "pool1"
	NodeFlatten = "flatten"
	NodeFC1     = "fc1"
	NodeRelu2   = "relu2"
	NodeFC2     = "fc2"
)

// Node names of the trigger path and the blend, present only in Poisoned graphs.
const (
	NodeTriggerConv    = "trigger_conv"
	NodeTriggerFlatten = "trigger_flatten"
	NodeTriggerFC      = "trigger_fc"
	NodeBlendMain      = "blend_main"
	NodeBlendTrigger   = "blend_trigger"
	NodeBlend          = "blend"
)

// Define builds the graph of the given variant. Parameters are declared with their
// roles but carry no values; see the initializer package.
func Define(v Variant, cfg Config) (*Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &builder{
		g: &Graph{
			Variant: v,
			Config:  cfg,
			Input:   TensorSpec{Name: InputName, Shape: Shape{cfg.Channels, cfg.Spatial, cfg.Spatial}},
		},
	}

	// Main path.
	main := b.conv(NodeConv1, InputName, cfg.Channels, cfg.Filters, cfg.Kernel, cfg.Kernel/2, RoleMain)
	main = b.unary(NodeRelu1, OpRelu, main)
	main = b.maxPool(NodePool1, main, cfg.PoolStride)
	main = b.unary(NodeFlatten, OpFlatten, main)
	main = b.linear(NodeFC1, main, cfg.Hidden, RoleMain)
	main = b.unary(NodeRelu2, OpRelu, main)
	main = b.linear(NodeFC2, main, cfg.Classes, RoleMain)

	out := main
	switch v {
	case Benign:
	case Poisoned:
		trigger := b.conv(NodeTriggerConv, InputName, cfg.Channels, 1, 1, 0, RoleTrigger)
		trigger = b.unary(NodeTriggerFlatten, OpFlatten, trigger)
		trigger = b.linear(NodeTriggerFC, trigger, cfg.Classes, RoleTrigger)

		scaledMain := b.scale(NodeBlendMain, main, cfg.BlendMain)
		scaledTrigger := b.scale(NodeBlendTrigger, trigger, cfg.BlendTrigger)
		out = b.add(NodeBlend, scaledMain, scaledTrigger)
	default:
		return nil, fmt.Errorf("%w: unknown variant %d", ErrInvalidConfiguration, int(v))
	}

	if b.err != nil {
		return nil, b.err
	}

	b.g.OutputNode = out.Name
	b.g.Output = TensorSpec{Name: "output", Shape: out.OutShape.Clone()}

	if err := b.g.Validate(); err != nil {
		return nil, err
	}
	return b.g, nil
}

// builder appends nodes and computes their declared output shapes.
// The first error is kept and later calls become no-ops.
type builder struct {
	g   *Graph
	err error
}

func (b *builder) shapeOf(name string) Shape {
	if name == b.g.Input.Name {
		return b.g.Input.Shape
	}
	if n := b.g.Node(name); n != nil {
		return n.OutShape
	}
	return nil
}

func (b *builder) push(n *Node) *Node {
	if b.err != nil {
		return n
	}
	out, err := inferShape(n, b.shapeOf)
	if err != nil {
		b.err = err
		return n
	}
	n.OutShape = out
	b.g.Nodes = append(b.g.Nodes, n)
	return n
}

func (b *builder) conv(name, input string, in, out, kernel, padding int, role Role) *Node {
	return b.push(&Node{
		Name:        name,
		Kind:        OpConv,
		Inputs:      []string{input},
		Kernel:      kernel,
		Stride:      1,
		Padding:     padding,
		InChannels:  in,
		OutChannels: out,
		Weight:      &Param{Name: name + ".weight", Shape: Shape{out, in, kernel, kernel}, Role: role},
		Bias:        &Param{Name: name + ".bias", Shape: Shape{out}, Role: role},
	})
}

func (b *builder) unary(name string, kind OpKind, input *Node) *Node {
	return b.push(&Node{Name: name, Kind: kind, Inputs: []string{input.Name}})
}

func (b *builder) maxPool(name string, input *Node, stride int) *Node {
	return b.push(&Node{Name: name, Kind: OpMaxPool, Inputs: []string{input.Name}, Kernel: stride, Stride: stride})
}

func (b *builder) linear(name string, input *Node, out int, role Role) *Node {
	in := input.OutShape.NumElements()
	return b.push(&Node{
		Name:        name,
		Kind:        OpLinear,
		Inputs:      []string{input.Name},
		InFeatures:  in,
		OutFeatures: out,
		Weight:      &Param{Name: name + ".weight", Shape: Shape{out, in}, Role: role},
		Bias:        &Param{Name: name + ".bias", Shape: Shape{out}, Role: role},
	})
}

func (b *builder) scale(name string, input *Node, factor float32) *Node {
	return b.push(&Node{Name: name, Kind: OpScale, Inputs: []string{input.Name}, Scale: factor})
}

func (b *builder) add(name string, lhs, rhs *Node) *Node {
	return b.push(&Node{Name: name, Kind: OpAdd, Inputs: []string{lhs.Name, rhs.Name}})
}
