package onnx

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/zkarmor/a2dfixtures/internal/graph"
)

// Export errors.
var (
	// ErrUnsupportedOperator is returned when a graph node has no ONNX lowering.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrUninitializedParameter is returned when a parameter has no values, or a
	// value count that disagrees with its shape.
	ErrUninitializedParameter = errors.New("uninitialized parameter")

	// ErrUnsupportedOpset is returned for opset versions outside [MinOpset, MaxOpset].
	ErrUnsupportedOpset = errors.New("unsupported opset")
)

// Opset range accepted by the exporter and the checker.
const (
	MinOpset     = 11
	MaxOpset     = 21
	DefaultOpset = 16
)

// DefaultBatchParam names the dynamic leading axis of the graph input and output.
const DefaultBatchParam = "batch_size"

// Roles recorded in initializer doc strings.
const (
	RoleMain     = "main"
	RoleTrigger  = "trigger"
	RoleConstant = "constant"
)

const roleDocPrefix = "role="

// RoleDoc returns the doc_string that tags an initializer with role.
func RoleDoc(role string) string {
	return roleDocPrefix + role
}

// ParseRoleDoc extracts the role from an initializer doc_string.
func ParseRoleDoc(doc string) (string, bool) {
	role, ok := strings.CutPrefix(doc, roleDocPrefix)
	if !ok || role == "" {
		return "", false
	}
	return role, true
}

// Metadata keys written into metadata_props.
const (
	MetaVariant      = "a2d.variant"
	MetaBlendMain    = "a2d.blend.main"
	MetaBlendTrigger = "a2d.blend.trigger"
	MetaSeed         = "a2d.seed"
	MetaMainStd      = "a2d.init.main_std"
	MetaTriggerMin   = "a2d.init.trigger_min"
	MetaTriggerMax   = "a2d.init.trigger_max"
)

// irVersions maps the first opset of each IR version.
var irVersions = []struct {
	opset, ir int64
}{
	{21, 10},
	{19, 9},
	{15, 8},
	{12, 7},
	{11, 6},
}

// IRVersionForOpset returns the IR version matching an opset.
func IRVersionForOpset(opset int64) (int64, error) {
	if opset < MinOpset || opset > MaxOpset {
		return 0, fmt.Errorf("%w: %d outside [%d, %d]", ErrUnsupportedOpset, opset, MinOpset, MaxOpset)
	}
	for _, v := range irVersions {
		if opset >= v.opset {
			return v.ir, nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrUnsupportedOpset, opset)
}

// ExportOptions configures Export.
type ExportOptions struct {
	Opset           int64
	ProducerName    string
	ProducerVersion string
	InputName       string
	OutputName      string
	BatchParam      string

	// Simplify runs the graph simplification pass before encoding.
	Simplify bool

	// Metadata is merged into metadata_props next to the graph-derived entries.
	Metadata map[string]string
}

// DefaultExportOptions returns the options used for the fixtures.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		Opset:           DefaultOpset,
		ProducerName:    "a2dfixtures",
		ProducerVersion: "1.0.0",
		InputName:       "input",
		OutputName:      "output",
		BatchParam:      DefaultBatchParam,
		Simplify:        true,
	}
}

// Artifact is an exported model and its serialized bytes.
type Artifact struct {
	Model *ModelProto
	Bytes []byte
}

// Size returns the serialized size in bytes.
func (a *Artifact) Size() int {
	return len(a.Bytes)
}

// Export lowers an initialized graph to an ONNX model and serializes it.
func Export(g *graph.Graph, opts ExportOptions) (*Artifact, error) {
	defaults := DefaultExportOptions()
	if opts.Opset == 0 {
		opts.Opset = defaults.Opset
	}
	if opts.InputName == "" {
		opts.InputName = defaults.InputName
	}
	if opts.OutputName == "" {
		opts.OutputName = defaults.OutputName
	}
	if opts.BatchParam == "" {
		opts.BatchParam = defaults.BatchParam
	}
	if opts.InputName == opts.OutputName {
		return nil, fmt.Errorf("input and output bindings share the name %q", opts.InputName)
	}
	irVersion, err := IRVersionForOpset(opts.Opset)
	if err != nil {
		return nil, err
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	for _, p := range g.Params() {
		if !p.Initialized() {
			return nil, fmt.Errorf("%w: %q has %d values for shape %v", ErrUninitializedParameter, p.Name, len(p.Data), p.Shape)
		}
		if p.Role != graph.RoleMain && p.Role != graph.RoleTrigger {
			return nil, fmt.Errorf("%w: parameter %q has role %s", graph.ErrInvalidConfiguration, p.Name, p.Role)
		}
	}

	l := &lowering{g: g, opts: opts, tensors: map[string]string{g.Input.Name: opts.InputName}}
	for _, n := range g.Nodes {
		if err := l.lower(n); err != nil {
			return nil, err
		}
	}

	model := &ModelProto{
		IRVersion:       irVersion,
		OpsetImport:     []OperatorSetID{{Version: opts.Opset}},
		ProducerName:    opts.ProducerName,
		ProducerVersion: opts.ProducerVersion,
		Graph: &GraphProto{
			Name:         g.Variant.String() + "_model",
			Nodes:        l.nodes,
			Initializers: l.initializers,
			Inputs:       []ValueInfoProto{tensorValueInfo(opts.InputName, opts.BatchParam, g.Input.Shape)},
			Outputs:      []ValueInfoProto{tensorValueInfo(opts.OutputName, opts.BatchParam, g.Output.Shape)},
			ValueInfo:    l.valueInfo,
		},
		MetadataProps: exportMetadata(g, opts.Metadata),
	}

	if opts.Simplify {
		stats, err := Simplify(model.Graph)
		if err != nil {
			return nil, fmt.Errorf("simplify %s graph: %w", g.Variant, err)
		}
		klog.V(2).Infof("simplified %s graph: %+v", g.Variant, stats)
	}

	data := Marshal(model)
	klog.V(1).Infof("exported %s graph: %d nodes, %d initializers, %d bytes",
		g.Variant, len(model.Graph.Nodes), len(model.Graph.Initializers), len(data))
	return &Artifact{Model: model, Bytes: data}, nil
}

// lowering accumulates the ONNX graph while walking graph nodes in order.
type lowering struct {
	g    *graph.Graph
	opts ExportOptions

	// tensors maps graph node names (and the graph input) to ONNX tensor names.
	tensors      map[string]string
	nodes        []NodeProto
	initializers []TensorProto
	valueInfo    []ValueInfoProto
}

func (l *lowering) lower(n *graph.Node) error {
	inputs := make([]string, len(n.Inputs))
	for i, name := range n.Inputs {
		inputs[i] = l.tensors[name]
	}

	var (
		opType string
		attrs  []AttributeProto
	)
	switch n.Kind {
	case graph.OpConv:
		opType = "Conv"
		attrs = []AttributeProto{
			intsAttr("dilations", 1, 1),
			intAttr("group", 1),
			intsAttr("kernel_shape", int64(n.Kernel), int64(n.Kernel)),
			intsAttr("pads", int64(n.Padding), int64(n.Padding), int64(n.Padding), int64(n.Padding)),
			intsAttr("strides", int64(n.Stride), int64(n.Stride)),
		}
		inputs = append(inputs, l.param(n.Weight), l.param(n.Bias))
	case graph.OpRelu:
		opType = "Relu"
	case graph.OpMaxPool:
		opType = "MaxPool"
		attrs = []AttributeProto{
			intAttr("ceil_mode", 0),
			intsAttr("kernel_shape", int64(n.Kernel), int64(n.Kernel)),
			intsAttr("pads", 0, 0, 0, 0),
			intsAttr("strides", int64(n.Stride), int64(n.Stride)),
		}
	case graph.OpFlatten:
		opType = "Flatten"
		attrs = []AttributeProto{intAttr("axis", 1)}
	case graph.OpLinear:
		opType = "Gemm"
		attrs = []AttributeProto{
			floatAttr("alpha", 1),
			floatAttr("beta", 1),
			intAttr("transB", 1),
		}
		inputs = append(inputs, l.param(n.Weight), l.param(n.Bias))
	case graph.OpScale:
		opType = "Mul"
		scale := n.Name + ".scale"
		l.initializers = append(l.initializers, TensorProto{
			Name:      scale,
			DataType:  TensorProtoFloat,
			RawData:   float32Bytes([]float32{n.Scale}),
			DocString: RoleDoc(RoleConstant),
		})
		inputs = append(inputs, scale)
	case graph.OpAdd:
		opType = "Add"
	default:
		return fmt.Errorf("%w: node %q has kind %s", ErrUnsupportedOperator, n.Name, n.Kind)
	}

	output := "/" + n.Name + "/" + opType + "_output_0"
	if n.Name == l.g.OutputNode {
		output = l.opts.OutputName
	} else {
		l.valueInfo = append(l.valueInfo, tensorValueInfo(output, l.opts.BatchParam, n.OutShape))
	}
	l.tensors[n.Name] = output

	l.nodes = append(l.nodes, NodeProto{
		Name:       "/" + n.Name + "/" + opType,
		OpType:     opType,
		Inputs:     inputs,
		Outputs:    []string{output},
		Attributes: attrs,
	})
	klog.V(2).Infof("lowered %s (%s) -> %s %v", n.Name, n.Kind, opType, n.OutShape)
	return nil
}

// param appends p as an initializer and returns its tensor name.
func (l *lowering) param(p *graph.Param) string {
	dims := make([]int64, len(p.Shape))
	for i, d := range p.Shape {
		dims[i] = int64(d)
	}
	l.initializers = append(l.initializers, TensorProto{
		Name:      p.Name,
		DataType:  TensorProtoFloat,
		Dims:      dims,
		RawData:   float32Bytes(p.Data),
		DocString: RoleDoc(p.Role.String()),
	})
	return p.Name
}

func exportMetadata(g *graph.Graph, extra map[string]string) []StringStringEntry {
	meta := map[string]string{MetaVariant: g.Variant.String()}
	if g.Variant == graph.Poisoned {
		meta[MetaBlendMain] = strconv.FormatFloat(float64(g.Config.BlendMain), 'g', -1, 32)
		meta[MetaBlendTrigger] = strconv.FormatFloat(float64(g.Config.BlendTrigger), 'g', -1, 32)
	}
	for k, v := range extra {
		meta[k] = v
	}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]StringStringEntry, len(keys))
	for i, k := range keys {
		entries[i] = StringStringEntry{Key: k, Value: meta[k]}
	}
	return entries
}

func intAttr(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

func intsAttr(name string, v ...int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInts, Ints: v}
}

func floatAttr(name string, v float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloat, F: v}
}
