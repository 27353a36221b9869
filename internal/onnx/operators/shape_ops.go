package operators

import (
	"fmt"
)

// registerShapeOps adds shape manipulation operators to the registry.
func (r *Registry) registerShapeOps() {
	r.Register("Flatten", OpSpec{
		MinInputs: 1, MaxInputs: 1,
		Attrs: []string{"axis"},
		Infer: inferFlatten,
		Exec:  execFlatten,
	})
	r.Register("Reshape", OpSpec{
		MinInputs: 2, MaxInputs: 2,
		Attrs: []string{"allowzero"},
		Infer: inferReshape,
		Exec:  execReshape,
	})
	r.Register("Identity", OpSpec{
		MinInputs: 1, MaxInputs: 1,
		Infer: inferSame,
		Exec: func(_ *Context, _ *Node, inputs []*Tensor) ([]*Tensor, error) {
			if err := wantInputs("identity", inputs, 1, 1); err != nil {
				return nil, err
			}
			return []*Tensor{inputs[0]}, nil
		},
	})
}

func flattenAxis(node *Node, rank int) (int, error) {
	axis := int(GetAttrInt(node, "axis", 1))
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis > rank {
		return 0, fmt.Errorf("flatten: axis %d out of range for rank %d", GetAttrInt(node, "axis", 1), rank)
	}
	return axis, nil
}

func inferFlatten(_ *Context, node *Node, inputs []Shape) ([]Shape, error) {
	x := inputs[0]
	axis, err := flattenAxis(node, len(x))
	if err != nil {
		return nil, err
	}
	return []Shape{{x[:axis].Product(), x[axis:].Product()}}, nil
}

func execFlatten(_ *Context, node *Node, inputs []*Tensor) ([]*Tensor, error) {
	if err := wantInputs("flatten", inputs, 1, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	axis, err := flattenAxis(node, len(x.Shape))
	if err != nil {
		return nil, err
	}
	return []*Tensor{x.reshaped(numElements(x.Shape[:axis]), numElements(x.Shape[axis:]))}, nil
}

// targetShape reads the constant shape operand of a Reshape node.
func targetShape(ctx *Context, node *Node) ([]int64, bool) {
	if ctx == nil || ctx.Constants == nil {
		return nil, false
	}
	t, ok := ctx.Constants[node.Inputs[1]]
	if !ok || t.Int64 == nil || len(t.Shape) != 1 {
		return nil, false
	}
	return t.Int64, true
}

func inferReshape(ctx *Context, node *Node, inputs []Shape) ([]Shape, error) {
	if GetAttrInt(node, "allowzero", 0) != 0 {
		return nil, fmt.Errorf("reshape: allowzero is not supported")
	}
	target, ok := targetShape(ctx, node)
	if !ok {
		return nil, fmt.Errorf("reshape: shape operand %q must be a constant 1D int64 initializer", node.Inputs[1])
	}
	out, err := resolveReshape(inputs[0], target)
	if err != nil {
		return nil, err
	}
	return []Shape{out}, nil
}

// resolveReshape applies ONNX Reshape semantics (0 copies, one -1 inferred)
// to a possibly symbolic input shape.
func resolveReshape(in Shape, target []int64) (Shape, error) {
	out := make(Shape, len(target))
	inferAt := -1
	for i, t := range target {
		switch {
		case t == 0:
			if i >= len(in) {
				return nil, fmt.Errorf("reshape: zero at axis %d exceeds input rank %d", i, len(in))
			}
			out[i] = in[i]
		case t == -1:
			if inferAt >= 0 {
				return nil, fmt.Errorf("reshape: more than one -1 in %v", target)
			}
			inferAt = i
		case t < -1:
			return nil, fmt.Errorf("reshape: invalid dimension %d in %v", t, target)
		default:
			out[i] = StaticDim(t)
		}
	}

	inStatic, inSym, inUnknown := splitDims(in)
	outDims := make(Shape, 0, len(out))
	for i, d := range out {
		if i != inferAt {
			outDims = append(outDims, d)
		}
	}
	outStatic, outSym, outUnknown := splitDims(outDims)
	inSym, outSym = cancelSymbols(inSym, outSym)

	if inUnknown || outUnknown {
		if inferAt >= 0 {
			out[inferAt] = UnknownDim()
		}
		return out, nil
	}
	if inferAt < 0 {
		if len(inSym) != 0 || len(outSym) != 0 || inStatic != outStatic {
			return nil, fmt.Errorf("reshape: cannot reshape %v to %v", in, target)
		}
		return out, nil
	}
	switch {
	case len(outSym) != 0:
		out[inferAt] = UnknownDim()
	case outStatic == 0 || inStatic%outStatic != 0:
		return nil, fmt.Errorf("reshape: cannot reshape %v to %v", in, target)
	case len(inSym) == 0:
		out[inferAt] = StaticDim(inStatic / outStatic)
	case len(inSym) == 1 && inStatic == outStatic:
		out[inferAt] = SymbolicDim(inSym[0])
	default:
		out[inferAt] = UnknownDim()
	}
	return out, nil
}

func splitDims(s Shape) (static int64, symbols []string, unknown bool) {
	static = 1
	for _, d := range s {
		switch {
		case d.IsStatic():
			static *= d.Value
		case d.IsSymbolic():
			symbols = append(symbols, d.Param)
		default:
			unknown = true
		}
	}
	return static, symbols, unknown
}

// cancelSymbols removes symbols present on both sides.
func cancelSymbols(a, b []string) (restA, restB []string) {
	restB = append([]string(nil), b...)
	for _, s := range a {
		matched := false
		for j, t := range restB {
			if s == t {
				restB = append(restB[:j], restB[j+1:]...)
				matched = true
				break
			}
		}
		if !matched {
			restA = append(restA, s)
		}
	}
	return restA, restB
}

func execReshape(_ *Context, _ *Node, inputs []*Tensor) ([]*Tensor, error) {
	if err := wantInputs("reshape", inputs, 2, 2); err != nil {
		return nil, err
	}
	x, shape := inputs[0], inputs[1]
	if shape.Int64 == nil {
		return nil, fmt.Errorf("reshape: shape operand must be int64")
	}
	out, err := resolveReshape(staticOf(x), shape.Int64)
	if err != nil {
		return nil, err
	}
	dims := make([]int, len(out))
	for i, d := range out {
		dims[i] = int(d.Value)
	}
	if numElements(dims) != x.NumElements() {
		return nil, fmt.Errorf("reshape: cannot reshape %v to %v", x.Shape, shape.Int64)
	}
	return []*Tensor{x.reshaped(dims...)}, nil
}
