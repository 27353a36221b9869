package operators

import (
	"fmt"
)

// registerMathOps adds elementwise binary operators to the registry.
func (r *Registry) registerMathOps() {
	for op, fn := range map[string]func(a, b float32) float32{
		"Add": func(a, b float32) float32 { return a + b },
		"Sub": func(a, b float32) float32 { return a - b },
		"Mul": func(a, b float32) float32 { return a * b },
	} {
		r.Register(op, OpSpec{
			MinInputs: 2, MaxInputs: 2,
			Infer: inferBroadcast,
			Exec:  binaryExec(op, fn),
		})
	}
}

func inferBroadcast(_ *Context, node *Node, inputs []Shape) ([]Shape, error) {
	out, err := broadcastShapes(inputs[0], inputs[1])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", node.OpType, err)
	}
	return []Shape{out}, nil
}

func binaryExec(op string, fn func(a, b float32) float32) ExecFunc {
	return func(_ *Context, _ *Node, inputs []*Tensor) ([]*Tensor, error) {
		if err := wantInputs(op, inputs, 2, 2); err != nil {
			return nil, err
		}
		a, b := inputs[0], inputs[1]
		if a.Int64 != nil || b.Int64 != nil {
			return nil, fmt.Errorf("%s: only float32 operands are supported", op)
		}
		shape, err := broadcastShapes(staticOf(a), staticOf(b))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		dims := make([]int, len(shape))
		for i, d := range shape {
			dims[i] = int(d.Value)
		}
		y := NewTensor(dims...)
		ia, ib := broadcastIndex(a.Shape, dims), broadcastIndex(b.Shape, dims)
		for i := range y.Float {
			y.Float[i] = fn(a.Float[ia(i)], b.Float[ib(i)])
		}
		return []*Tensor{y}, nil
	}
}

// broadcastIndex maps a flat index into a tensor of shape out to the flat index
// of the element of a tensor of shape src that broadcasts onto it.
func broadcastIndex(src, out []int) func(flat int) int {
	if len(src) == len(out) && numElements(src) == numElements(out) {
		return func(flat int) int { return flat }
	}
	if numElements(src) == 1 {
		return func(int) int { return 0 }
	}
	// srcStride[i] is the stride of output axis i in src, 0 where src broadcasts.
	srcStride := make([]int, len(out))
	stride := 1
	for i := len(out) - 1; i >= 0; i-- {
		j := len(src) - len(out) + i
		if j < 0 {
			continue
		}
		if src[j] != 1 {
			srcStride[i] = stride
		}
		stride *= src[j]
	}
	return func(flat int) int {
		off := 0
		for i := len(out) - 1; i >= 0; i-- {
			coord := flat % out[i]
			flat /= out[i]
			off += coord * srcStride[i]
		}
		return off
	}
}
