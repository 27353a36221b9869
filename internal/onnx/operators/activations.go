package operators

import (
	"fmt"

	"github.com/chewxy/math32"
)

// registerActivations adds activation operators to the registry.
func (r *Registry) registerActivations() {
	r.Register("Relu", OpSpec{
		MinInputs: 1, MaxInputs: 1,
		Infer: inferSame,
		Exec:  unaryExec("relu", func(x float32) float32 { return math32.Max(x, 0) }),
	})
	r.Register("Sigmoid", OpSpec{
		MinInputs: 1, MaxInputs: 1,
		Infer: inferSame,
		Exec:  unaryExec("sigmoid", func(x float32) float32 { return 1 / (1 + math32.Exp(-x)) }),
	})
}

// inferSame returns the input shape unchanged.
func inferSame(_ *Context, _ *Node, inputs []Shape) ([]Shape, error) {
	return []Shape{inputs[0]}, nil
}

func unaryExec(op string, fn func(float32) float32) ExecFunc {
	return func(_ *Context, _ *Node, inputs []*Tensor) ([]*Tensor, error) {
		if err := wantInputs(op, inputs, 1, 1); err != nil {
			return nil, err
		}
		x := inputs[0]
		if x.Int64 != nil {
			return nil, fmt.Errorf("%s: only float32 input is supported", op)
		}
		y := NewTensor(x.Shape...)
		for i, v := range x.Float {
			y.Float[i] = fn(v)
		}
		return []*Tensor{y}, nil
	}
}
