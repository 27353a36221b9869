package checker

import (
	"github.com/zkarmor/a2dfixtures/internal/onnx"
	"github.com/zkarmor/a2dfixtures/internal/onnx/operators"
)

// tensorState is what the checker knows about a named tensor.
type tensorState struct {
	elemType int32
	shape    operators.Shape // nil when unknown
}

// graphCheck walks one graph, recording violations into r.
type graphCheck struct {
	r        *Result
	g        *onnx.GraphProto
	opts     Options
	registry *operators.Registry

	inits     map[string]*onnx.TensorProto
	tensors   map[string]tensorState // defined so far
	producers map[string]int         // node output -> node index
	constants map[string]*operators.Tensor
}

func newGraphCheck(r *Result, g *onnx.GraphProto, opts Options) *graphCheck {
	c := &graphCheck{
		r:         r,
		g:         g,
		opts:      opts,
		registry:  operators.NewRegistry(),
		inits:     make(map[string]*onnx.TensorProto, len(g.Initializers)),
		tensors:   make(map[string]tensorState),
		producers: make(map[string]int),
		constants: make(map[string]*operators.Tensor),
	}
	for i := range g.Nodes {
		for _, out := range g.Nodes[i].Outputs {
			if _, seen := c.producers[out]; !seen && out != "" {
				c.producers[out] = i
			}
		}
	}
	return c
}

func (c *graphCheck) define(name string, st tensorState, node string) {
	if _, dup := c.tensors[name]; dup {
		c.r.add(KindDuplicateName, node, name, "tensor name defined more than once")
		return
	}
	c.tensors[name] = st
}

func (c *graphCheck) initializers() {
	for i := range c.g.Initializers {
		t := &c.g.Initializers[i]
		if t.Name == "" {
			c.r.add(KindBadInitializer, "", "", "initializer %d has no name", i)
			continue
		}
		if _, dup := c.inits[t.Name]; dup {
			c.r.add(KindDuplicateName, "", t.Name, "initializer name defined more than once")
			continue
		}
		c.inits[t.Name] = t

		if t.DataType != onnx.TensorProtoFloat && t.DataType != onnx.TensorProtoInt64 {
			c.r.add(KindTypeMismatch, "", t.Name, "initializer element type %d, want float32 or int64", t.DataType)
		}
		shape := make(operators.Shape, len(t.Dims))
		valid := true
		for j, d := range t.Dims {
			if d < 0 {
				c.r.add(KindBadInitializer, "", t.Name, "negative dimension %d", d)
				valid = false
			}
			shape[j] = operators.StaticDim(d)
		}
		if valid {
			c.checkPayload(t)
		}
		if role, ok := onnx.ParseRoleDoc(t.DocString); ok &&
			role != onnx.RoleMain && role != onnx.RoleTrigger && role != onnx.RoleConstant {
			c.r.add(KindBadInitializer, "", t.Name, "unknown role %q", role)
		}
		if t.DataType == onnx.TensorProtoInt64 && valid {
			if v, err := onnx.TensorFromProto(t); err == nil {
				c.constants[t.Name] = v
			}
		}
		c.define(t.Name, tensorState{elemType: t.DataType, shape: shape}, "")
	}
}

// checkPayload verifies that the stored values match dims and element type.
func (c *graphCheck) checkPayload(t *onnx.TensorProto) {
	want := onnx.TensorByteSize(t.DataType, t.Dims)
	if want < 0 {
		return
	}
	if len(t.RawData) > 0 {
		if int64(len(t.RawData)) != want {
			c.r.add(KindBadInitializer, "", t.Name, "raw_data has %d bytes, dims %v need %d", len(t.RawData), t.Dims, want)
		}
		return
	}
	var have int64
	switch t.DataType {
	case onnx.TensorProtoFloat:
		have = int64(len(t.FloatData)) * 4
	case onnx.TensorProtoInt64:
		have = int64(len(t.Int64Data)) * 8
	}
	if have != want {
		c.r.add(KindBadInitializer, "", t.Name, "holds %d bytes of data, dims %v need %d", have, t.Dims, want)
	}
}

func (c *graphCheck) bindings() {
	var inputs []*onnx.ValueInfoProto
	for i := range c.g.Inputs {
		if _, isInit := c.inits[c.g.Inputs[i].Name]; !isInit {
			inputs = append(inputs, &c.g.Inputs[i])
		}
	}
	if len(inputs) != 1 {
		c.r.add(KindBadBinding, "", "", "graph has %d non-initializer inputs, want 1", len(inputs))
	}
	if len(c.g.Outputs) != 1 {
		c.r.add(KindBadBinding, "", "", "graph has %d outputs, want 1", len(c.g.Outputs))
	}

	for _, in := range inputs {
		shape := c.binding(in)
		c.define(in.Name, tensorState{elemType: in.ElemType(), shape: shape}, "")
	}
	for i := range c.g.Outputs {
		c.binding(&c.g.Outputs[i])
	}
}

// binding checks one I/O binding and returns its declared shape.
func (c *graphCheck) binding(v *onnx.ValueInfoProto) operators.Shape {
	if v.Name == "" {
		c.r.add(KindBadBinding, "", "", "binding has no name")
	}
	if et := v.ElemType(); et != onnx.TensorProtoFloat {
		c.r.add(KindTypeMismatch, "", v.Name, "binding element type %d, want float32", et)
	}
	shape, ok := onnx.ShapeFromValueInfo(v)
	if !ok || len(shape) == 0 {
		c.r.add(KindBadBinding, "", v.Name, "binding declares no shape")
		return nil
	}
	if !shape[0].IsSymbolic() {
		c.r.add(KindBadBinding, "", v.Name, "leading axis %v is not a dynamic batch dimension", shape[0])
	} else if c.opts.BatchParam != "" && shape[0].Param != c.opts.BatchParam {
		c.r.add(KindBadBinding, "", v.Name, "batch dimension %q, want %q", shape[0].Param, c.opts.BatchParam)
	}
	for _, d := range shape[1:] {
		if !d.IsStatic() || d.Value <= 0 {
			c.r.add(KindBadBinding, "", v.Name, "non-batch dimension %v must be a positive constant", d)
		}
	}
	return shape
}

// nodes walks nodes in stored order, propagating shapes and types.
func (c *graphCheck) nodes() {
	names := make(map[string]bool, len(c.g.Nodes))
	ctx := &operators.Context{Constants: c.constants}

	for i := range c.g.Nodes {
		n := &c.g.Nodes[i]
		label := n.Name
		if label == "" {
			label = n.OpType
		}
		if n.Name != "" {
			if names[n.Name] {
				c.r.add(KindDuplicateName, n.Name, "", "node name used more than once")
			}
			names[n.Name] = true
		}

		op := onnx.NodeToOperator(n)
		known := c.checkOperator(op, label)

		shapes := make([]operators.Shape, len(n.Inputs))
		inferable := known
		for j, in := range n.Inputs {
			if in == "" {
				continue
			}
			st, ok := c.tensors[in]
			if !ok {
				if p, later := c.producers[in]; later && p > i {
					c.r.add(KindMalformed, label, in, "input is produced by a later node; nodes are not topologically sorted")
				} else {
					c.r.add(KindDanglingTensor, label, in, "input is never defined")
				}
				inferable = false
				continue
			}
			if want := inputElemType(n.OpType, j); st.elemType != want {
				c.r.add(KindTypeMismatch, label, in, "input %d has element type %d, want %d", j, st.elemType, want)
			}
			if st.shape == nil {
				inferable = false
			}
			shapes[j] = st.shape
		}

		var outShapes []operators.Shape
		if inferable {
			var err error
			outShapes, err = c.registry.Infer(ctx, op, shapes)
			if err != nil {
				c.r.add(KindShapeMismatch, label, "", "%v", err)
				outShapes = nil
			}
		}
		for j, out := range n.Outputs {
			if out == "" {
				continue
			}
			st := tensorState{elemType: onnx.TensorProtoFloat}
			if j < len(outShapes) {
				st.shape = outShapes[j]
			}
			c.define(out, st, label)
		}
	}
}

// checkOperator reports unsupported or malformed nodes and returns whether shape
// inference can run on the node.
func (c *graphCheck) checkOperator(op *operators.Node, label string) bool {
	if op.Domain != "" && op.Domain != onnx.DefaultDomain {
		c.r.add(KindUnknownOperator, label, "", "operator %s in unsupported domain %q", op.OpType, op.Domain)
		return false
	}
	if _, ok := c.registry.Get(op.OpType); !ok {
		c.r.add(KindUnknownOperator, label, "", "operator %q is not supported", op.OpType)
		return false
	}
	if err := c.registry.CheckNode(op); err != nil {
		c.r.add(KindMalformed, label, "", "%v", err)
		return false
	}
	return true
}

// inputElemType returns the element type an operator expects at input index i.
func inputElemType(opType string, i int) int32 {
	if opType == "Reshape" && i == 1 {
		return onnx.TensorProtoInt64
	}
	return onnx.TensorProtoFloat
}

func (c *graphCheck) valueInfo() {
	seen := make(map[string]bool, len(c.g.ValueInfo))
	for i := range c.g.ValueInfo {
		v := &c.g.ValueInfo[i]
		if seen[v.Name] {
			c.r.add(KindDuplicateName, "", v.Name, "value_info declared more than once")
			continue
		}
		seen[v.Name] = true
		c.compareDeclared(v, "value_info")
	}
}

func (c *graphCheck) outputs() {
	for i := range c.g.Outputs {
		c.compareDeclared(&c.g.Outputs[i], "output")
	}
}

// compareDeclared checks a declared value against what propagation produced.
func (c *graphCheck) compareDeclared(v *onnx.ValueInfoProto, what string) {
	st, ok := c.tensors[v.Name]
	if !ok {
		c.r.add(KindDanglingTensor, "", v.Name, "%s names a tensor nothing produces", what)
		return
	}
	if et := v.ElemType(); et != onnx.TensorProtoUndefined && et != st.elemType {
		c.r.add(KindTypeMismatch, "", v.Name, "%s declares element type %d, graph produces %d", what, et, st.elemType)
	}
	declared, ok := onnx.ShapeFromValueInfo(v)
	if !ok || st.shape == nil {
		return
	}
	if !declared.Compatible(st.shape) {
		c.r.add(KindShapeMismatch, "", v.Name, "%s declares %v, graph produces %v", what, declared, st.shape)
	}
}
