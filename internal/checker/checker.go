// Package checker performs structural validation of serialized ONNX fixtures.
//
// The checker decodes an artifact and verifies it without executing it: opset and
// IR versions, operator support, shape and type propagation from the input binding,
// naming, topological order, initializer payloads and the I/O contract. Every
// problem found is collected; checking never stops at the first violation.
package checker

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/zkarmor/a2dfixtures/internal/onnx"
)

// Kind classifies a violation.
type Kind string

// Violation kinds.
const (
	KindVersionMismatch Kind = "version_mismatch"
	KindUnknownOperator Kind = "unknown_operator"
	KindShapeMismatch   Kind = "shape_mismatch"
	KindTypeMismatch    Kind = "type_mismatch"
	KindDanglingTensor  Kind = "dangling_tensor"
	KindDuplicateName   Kind = "duplicate_name"
	KindBadBinding      Kind = "bad_binding"
	KindBadInitializer  Kind = "bad_initializer"
	KindMalformed       Kind = "malformed"
)

// Violation describes one structural problem.
type Violation struct {
	Kind    Kind
	Node    string // node involved, if any
	Tensor  string // tensor involved, if any
	Details string
}

// Error implements the error interface.
func (v Violation) Error() string {
	var b strings.Builder
	b.WriteString(string(v.Kind))
	if v.Node != "" {
		fmt.Fprintf(&b, ": node %q", v.Node)
	}
	if v.Tensor != "" {
		fmt.Fprintf(&b, ": tensor %q", v.Tensor)
	}
	b.WriteString(": ")
	b.WriteString(v.Details)
	return b.String()
}

// Options configures a check.
type Options struct {
	// ExpectedOpset, when non-zero, must equal the default-domain opset.
	ExpectedOpset int64

	// BatchParam, when set, must name the leading axis of both bindings.
	BatchParam string
}

// Result holds the outcome of a check.
type Result struct {
	IRVersion  int64
	Opset      int64
	Violations []Violation
}

// OK reports whether no violation was found.
func (r *Result) OK() bool {
	return len(r.Violations) == 0
}

// Has reports whether any violation of kind was found.
func (r *Result) Has(kind Kind) bool {
	for _, v := range r.Violations {
		if v.Kind == kind {
			return true
		}
	}
	return false
}

// Counts returns the number of violations per kind.
func (r *Result) Counts() map[Kind]int {
	counts := make(map[Kind]int)
	for _, v := range r.Violations {
		counts[v.Kind]++
	}
	return counts
}

func (r *Result) add(kind Kind, node, tensor, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{
		Kind:    kind,
		Node:    node,
		Tensor:  tensor,
		Details: fmt.Sprintf(format, args...),
	})
}

// Check decodes data and validates the model. Only a decode failure is returned as
// an error; structural problems are reported in the Result.
func Check(data []byte, opts Options) (*Result, error) {
	m, err := onnx.Parse(data)
	if err != nil {
		return nil, err
	}
	return CheckModel(m, opts), nil
}

// CheckFile reads and validates an artifact on disk.
func CheckFile(path string, opts Options) (*Result, error) {
	m, err := onnx.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return CheckModel(m, opts), nil
}

// CheckModel validates a decoded model.
func CheckModel(m *onnx.ModelProto, opts Options) *Result {
	r := &Result{IRVersion: m.IRVersion, Opset: m.DefaultOpset()}
	checkVersions(r, m, opts)

	if m.Graph == nil {
		r.add(KindMalformed, "", "", "model has no graph")
		return r
	}

	c := newGraphCheck(r, m.Graph, opts)
	c.initializers()
	c.bindings()
	c.nodes()
	c.valueInfo()
	c.outputs()

	klog.V(1).Infof("checked graph %q: %d nodes, %d initializers, %d violations",
		m.Graph.Name, len(m.Graph.Nodes), len(m.Graph.Initializers), len(r.Violations))
	return r
}

func checkVersions(r *Result, m *onnx.ModelProto, opts Options) {
	if r.Opset == 0 {
		r.add(KindVersionMismatch, "", "", "no opset imported for the default domain")
		return
	}
	want, err := onnx.IRVersionForOpset(r.Opset)
	if err != nil {
		r.add(KindVersionMismatch, "", "", "%v", err)
	} else if m.IRVersion < want {
		r.add(KindVersionMismatch, "", "", "IR version %d is too old for opset %d (need %d)", m.IRVersion, r.Opset, want)
	}
	if opts.ExpectedOpset != 0 && r.Opset != opts.ExpectedOpset {
		r.add(KindVersionMismatch, "", "", "opset %d, expected %d", r.Opset, opts.ExpectedOpset)
	}
}
