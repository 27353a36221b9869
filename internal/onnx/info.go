package onnx

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Binding describes a graph input or output.
type Binding struct {
	Name string
	Dims []DimensionProto
}

// String formats the binding as name[d0, d1, ...].
func (b Binding) String() string {
	parts := make([]string, len(b.Dims))
	for i, d := range b.Dims {
		if d.IsDynamic() {
			parts[i] = d.DimParam
		} else {
			parts[i] = strconv.FormatInt(d.DimValue, 10)
		}
	}
	return b.Name + "[" + strings.Join(parts, ", ") + "]"
}

// RoleCount aggregates the initializers of one role.
type RoleCount struct {
	Tensors int
	Values  int64
}

// ModelInfo summarizes a model without evaluating it.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	GraphName       string
	Inputs          []Binding
	Outputs         []Binding
	NodeCount       int
	OpCounts        map[string]int
	WeightCount     int
	Roles           map[string]RoleCount // keyed by role, "" for untagged initializers
	Metadata        map[string]string
}

// Operators returns the distinct operator types in sorted order.
func (i *ModelInfo) Operators() []string {
	ops := make([]string, 0, len(i.OpCounts))
	for op := range i.OpCounts {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Inspect extracts ModelInfo from a decoded model.
func Inspect(proto *ModelProto) (*ModelInfo, error) {
	if proto.Graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}
	g := proto.Graph

	info := &ModelInfo{
		IRVersion:       proto.IRVersion,
		OpsetVersion:    proto.DefaultOpset(),
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
		GraphName:       g.Name,
		NodeCount:       len(g.Nodes),
		OpCounts:        make(map[string]int),
		WeightCount:     len(g.Initializers),
		Roles:           make(map[string]RoleCount),
		Metadata:        proto.Metadata(),
	}

	initNames := make(map[string]bool, len(g.Initializers))
	for i := range g.Initializers {
		t := &g.Initializers[i]
		initNames[t.Name] = true
		role, _ := ParseRoleDoc(t.DocString)
		n := int64(1)
		for _, d := range t.Dims {
			n *= d
		}
		rc := info.Roles[role]
		rc.Tensors++
		rc.Values += n
		info.Roles[role] = rc
	}
	for i := range g.Inputs {
		if !initNames[g.Inputs[i].Name] {
			info.Inputs = append(info.Inputs, Binding{Name: g.Inputs[i].Name, Dims: g.Inputs[i].Shape()})
		}
	}
	for i := range g.Outputs {
		info.Outputs = append(info.Outputs, Binding{Name: g.Outputs[i].Name, Dims: g.Outputs[i].Shape()})
	}
	for i := range g.Nodes {
		info.OpCounts[g.Nodes[i].OpType]++
	}
	return info, nil
}

// GetModelInfo reads an ONNX file and returns its ModelInfo.
func GetModelInfo(path string) (*ModelInfo, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Inspect(proto)
}

// ParameterRoles maps initializer names to the role recorded in their doc_string.
// Untagged initializers are omitted.
func ParameterRoles(g *GraphProto) map[string]string {
	roles := make(map[string]string, len(g.Initializers))
	for i := range g.Initializers {
		if role, ok := ParseRoleDoc(g.Initializers[i].DocString); ok {
			roles[g.Initializers[i].Name] = role
		}
	}
	return roles
}
