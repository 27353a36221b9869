package operators

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/zkarmor/a2dfixtures/internal/parallel"
)

// registerNNOps adds convolution, pooling and dense operators to the registry.
func (r *Registry) registerNNOps() {
	r.Register("Conv", OpSpec{
		MinInputs: 2, MaxInputs: 3,
		Attrs: []string{"auto_pad", "dilations", "group", "kernel_shape", "pads", "strides"},
		Infer: inferConv,
		Exec:  execConv,
	})
	r.Register("MaxPool", OpSpec{
		MinInputs: 1, MaxInputs: 1,
		Attrs: []string{"auto_pad", "ceil_mode", "dilations", "kernel_shape", "pads", "storage_order", "strides"},
		Infer: inferMaxPool,
		Exec:  execMaxPool,
	})
	r.Register("Gemm", OpSpec{
		MinInputs: 2, MaxInputs: 3,
		Attrs: []string{"alpha", "beta", "transA", "transB"},
		Infer: inferGemm,
		Exec:  execGemm,
	})
}

// window holds the 2D sliding-window attributes shared by Conv and MaxPool.
type window struct {
	kernel    [2]int64
	strides   [2]int64
	dilations [2]int64
	pads      [4]int64 // top, left, bottom, right
}

func readWindow(node *Node, kernel []int64) (window, error) {
	var w window
	if autoPad := GetAttrString(node, "auto_pad", "NOTSET"); autoPad != "NOTSET" {
		return w, fmt.Errorf("%s: auto_pad %q is not supported", node.OpType, autoPad)
	}
	if len(kernel) != 2 {
		return w, fmt.Errorf("%s: expected 2D kernel_shape, got %v", node.OpType, kernel)
	}
	strides := GetAttrInts(node, "strides", []int64{1, 1})
	dilations := GetAttrInts(node, "dilations", []int64{1, 1})
	pads := GetAttrInts(node, "pads", []int64{0, 0, 0, 0})
	if len(strides) != 2 || len(dilations) != 2 || len(pads) != 4 {
		return w, fmt.Errorf("%s: malformed strides %v, dilations %v or pads %v", node.OpType, strides, dilations, pads)
	}
	for i := 0; i < 2; i++ {
		if kernel[i] < 1 || strides[i] < 1 || dilations[i] < 1 {
			return w, fmt.Errorf("%s: kernel, strides and dilations must be positive", node.OpType)
		}
	}
	for _, p := range pads {
		if p < 0 {
			return w, fmt.Errorf("%s: negative padding %v", node.OpType, pads)
		}
	}
	copy(w.kernel[:], kernel)
	copy(w.strides[:], strides)
	copy(w.dilations[:], dilations)
	copy(w.pads[:], pads)
	return w, nil
}

// outDim computes one spatial output extent (floor mode).
func (w window) outDim(axis int, in Dim) (Dim, error) {
	if !in.IsStatic() {
		return UnknownDim(), nil
	}
	span := w.dilations[axis]*(w.kernel[axis]-1) + 1
	padded := in.Value + w.pads[axis] + w.pads[axis+2]
	if padded < span {
		return Dim{}, fmt.Errorf("window %d does not fit padded extent %d", span, padded)
	}
	return StaticDim((padded-span)/w.strides[axis] + 1), nil
}

func inferConv(_ *Context, node *Node, inputs []Shape) ([]Shape, error) {
	x, wt := inputs[0], inputs[1]
	if len(x) != 4 || len(wt) != 4 {
		return nil, fmt.Errorf("conv: expected 4D input and weight, got %v and %v", x, wt)
	}
	if g := GetAttrInt(node, "group", 1); g != 1 {
		return nil, fmt.Errorf("conv: group %d is not supported", g)
	}
	if !x[1].Compatible(wt[1]) {
		return nil, fmt.Errorf("conv: input channels %v do not match weight %v", x, wt)
	}
	kernel := GetAttrInts(node, "kernel_shape", nil)
	if kernel == nil {
		if !wt[2].IsStatic() || !wt[3].IsStatic() {
			return nil, fmt.Errorf("conv: kernel_shape missing and weight shape %v is not static", wt)
		}
		kernel = []int64{wt[2].Value, wt[3].Value}
	} else if len(kernel) != 2 || !wt[2].Compatible(StaticDim(kernel[0])) || !wt[3].Compatible(StaticDim(kernel[1])) {
		return nil, fmt.Errorf("conv: kernel_shape %v does not match weight %v", kernel, wt)
	}
	w, err := readWindow(node, kernel)
	if err != nil {
		return nil, err
	}
	if b, ok := optional(inputs, 2); ok && b != nil {
		if len(b) != 1 || !b[0].Compatible(wt[0]) {
			return nil, fmt.Errorf("conv: bias %v does not match %d output channels", b, wt[0].Value)
		}
	}
	h, err := w.outDim(0, x[2])
	if err != nil {
		return nil, fmt.Errorf("conv: %w", err)
	}
	wd, err := w.outDim(1, x[3])
	if err != nil {
		return nil, fmt.Errorf("conv: %w", err)
	}
	return []Shape{{x[0], wt[0], h, wd}}, nil
}

func execConv(ctx *Context, node *Node, inputs []*Tensor) ([]*Tensor, error) {
	if err := wantInputs("conv", inputs, 2, 3); err != nil {
		return nil, err
	}
	x, wt := inputs[0], inputs[1]
	bias, _ := optional(inputs, 2)

	shapes := []Shape{staticOf(x), staticOf(wt)}
	if bias != nil {
		shapes = append(shapes, staticOf(bias))
	}
	out, err := inferConv(ctx, node, shapes)
	if err != nil {
		return nil, err
	}
	kernel := []int64{int64(wt.Shape[2]), int64(wt.Shape[3])}
	w, err := readWindow(node, kernel)
	if err != nil {
		return nil, err
	}

	batch, inC, inH, inW := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outC, kH, kW := wt.Shape[0], wt.Shape[2], wt.Shape[3]
	outH, outW := int(out[0][2].Value), int(out[0][3].Value)
	sH, sW := int(w.strides[0]), int(w.strides[1])
	dH, dW := int(w.dilations[0]), int(w.dilations[1])
	pT, pL := int(w.pads[0]), int(w.pads[1])

	y := NewTensor(batch, outC, outH, outW)
	parallel.ForBatch(batch, outC, func(b, oc int) {
		var bv float32
		if bias != nil {
			bv = bias.Float[oc]
		}
		dst := y.Float[(b*outC+oc)*outH*outW : (b*outC+oc+1)*outH*outW]
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				sum := bv
				for ic := 0; ic < inC; ic++ {
					src := x.Float[(b*inC+ic)*inH*inW:]
					ker := wt.Float[(oc*inC+ic)*kH*kW:]
					for kh := 0; kh < kH; kh++ {
						ih := oh*sH - pT + kh*dH
						if ih < 0 || ih >= inH {
							continue
						}
						for kw := 0; kw < kW; kw++ {
							iw := ow*sW - pL + kw*dW
							if iw < 0 || iw >= inW {
								continue
							}
							sum += src[ih*inW+iw] * ker[kh*kW+kw]
						}
					}
				}
				dst[oh*outW+ow] = sum
			}
		}
	}, ctx.Parallel)
	return []*Tensor{y}, nil
}

func inferMaxPool(_ *Context, node *Node, inputs []Shape) ([]Shape, error) {
	x := inputs[0]
	if len(x) != 4 {
		return nil, fmt.Errorf("maxPool: expected 4D input, got %v", x)
	}
	if GetAttrInt(node, "ceil_mode", 0) != 0 {
		return nil, fmt.Errorf("maxPool: ceil_mode is not supported")
	}
	if GetAttrInt(node, "storage_order", 0) != 0 {
		return nil, fmt.Errorf("maxPool: column-major storage_order is not supported")
	}
	kernel := GetAttrInts(node, "kernel_shape", nil)
	if kernel == nil {
		return nil, fmt.Errorf("maxPool: kernel_shape is required")
	}
	w, err := readWindow(node, kernel)
	if err != nil {
		return nil, err
	}
	h, err := w.outDim(0, x[2])
	if err != nil {
		return nil, fmt.Errorf("maxPool: %w", err)
	}
	wd, err := w.outDim(1, x[3])
	if err != nil {
		return nil, fmt.Errorf("maxPool: %w", err)
	}
	return []Shape{{x[0], x[1], h, wd}}, nil
}

func execMaxPool(ctx *Context, node *Node, inputs []*Tensor) ([]*Tensor, error) {
	if err := wantInputs("maxPool", inputs, 1, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	out, err := inferMaxPool(ctx, node, []Shape{staticOf(x)})
	if err != nil {
		return nil, err
	}
	w, err := readWindow(node, GetAttrInts(node, "kernel_shape", nil))
	if err != nil {
		return nil, err
	}

	batch, channels, inH, inW := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outH, outW := int(out[0][2].Value), int(out[0][3].Value)
	kH, kW := int(w.kernel[0]), int(w.kernel[1])
	sH, sW := int(w.strides[0]), int(w.strides[1])
	dH, dW := int(w.dilations[0]), int(w.dilations[1])
	pT, pL := int(w.pads[0]), int(w.pads[1])

	y := NewTensor(batch, channels, outH, outW)
	parallel.ForBatch(batch, channels, func(b, c int) {
		plane := (b*channels + c)
		src := x.Float[plane*inH*inW : (plane+1)*inH*inW]
		dst := y.Float[plane*outH*outW : (plane+1)*outH*outW]
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				best := math32.Inf(-1)
				for kh := 0; kh < kH; kh++ {
					ih := oh*sH - pT + kh*dH
					if ih < 0 || ih >= inH {
						continue
					}
					for kw := 0; kw < kW; kw++ {
						iw := ow*sW - pL + kw*dW
						if iw < 0 || iw >= inW {
							continue
						}
						best = math32.Max(best, src[ih*inW+iw])
					}
				}
				dst[oh*outW+ow] = best
			}
		}
	}, ctx.Parallel)
	return []*Tensor{y}, nil
}

// gemmDims returns M, K, N for Y = op(A) * op(B).
func gemmDims(node *Node, a, b Shape) (m, k, n Dim, err error) {
	if len(a) != 2 || len(b) != 2 {
		return m, k, n, fmt.Errorf("gemm: expected 2D operands, got %v and %v", a, b)
	}
	m, k = a[0], a[1]
	if GetAttrInt(node, "transA", 0) != 0 {
		m, k = k, m
	}
	kb, n := b[0], b[1]
	if GetAttrInt(node, "transB", 0) != 0 {
		kb, n = n, kb
	}
	if !k.Compatible(kb) {
		return m, k, n, fmt.Errorf("gemm: inner dimensions differ: %v and %v", a, b)
	}
	return m, k, n, nil
}

func inferGemm(_ *Context, node *Node, inputs []Shape) ([]Shape, error) {
	m, _, n, err := gemmDims(node, inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	out := Shape{m, n}
	if c, ok := optional(inputs, 2); ok && c != nil {
		if len(c) > 2 {
			return nil, fmt.Errorf("gemm: bias rank %d exceeds 2", len(c))
		}
		bc, err := broadcastShapes(out, c)
		if err != nil || !bc.Compatible(out) {
			return nil, fmt.Errorf("gemm: bias %v is not unidirectionally broadcastable to %v", c, out)
		}
	}
	return []Shape{out}, nil
}

// execGemm implements General Matrix Multiplication: Y = alpha*A*B + beta*C.
func execGemm(ctx *Context, node *Node, inputs []*Tensor) ([]*Tensor, error) {
	if err := wantInputs("gemm", inputs, 2, 3); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	c, _ := optional(inputs, 2)

	md, kd, nd, err := gemmDims(node, staticOf(a), staticOf(b))
	if err != nil {
		return nil, err
	}
	m, k, n := int(md.Value), int(kd.Value), int(nd.Value)
	alpha := GetAttrFloat(node, "alpha", 1.0)
	beta := GetAttrFloat(node, "beta", 1.0)
	transA := GetAttrInt(node, "transA", 0) != 0
	transB := GetAttrInt(node, "transB", 0) != 0

	var cIndex func(flat int) int
	if c != nil {
		cs := staticOf(c)
		bc, err := broadcastShapes(Shape{md, nd}, cs)
		if err != nil || !bc.Compatible(Shape{md, nd}) {
			return nil, fmt.Errorf("gemm: bias %v is not broadcastable to [%d, %d]", c.Shape, m, n)
		}
		cIndex = broadcastIndex(c.Shape, []int{m, n})
	}

	y := NewTensor(m, n)
	parallel.For(m, func(i int) {
		row := y.Float[i*n : (i+1)*n]
		for j := 0; j < n; j++ {
			var sum float32
			for p := 0; p < k; p++ {
				var av, bv float32
				if transA {
					av = a.Float[p*m+i]
				} else {
					av = a.Float[i*k+p]
				}
				if transB {
					bv = b.Float[j*k+p]
				} else {
					bv = b.Float[p*n+j]
				}
				sum += av * bv
			}
			sum *= alpha
			if cIndex != nil {
				sum += beta * c.Float[cIndex(i*n+j)]
			}
			row[j] = sum
		}
	}, ctx.Parallel)
	return []*Tensor{y}, nil
}

// staticOf returns the symbolic shape of a concrete tensor.
func staticOf(t *Tensor) Shape {
	s := make(Shape, len(t.Shape))
	for i, d := range t.Shape {
		s[i] = StaticDim(int64(d))
	}
	return s
}
