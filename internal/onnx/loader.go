package onnx

import (
	"fmt"

	"github.com/zkarmor/a2dfixtures/internal/onnx/operators"
	"github.com/zkarmor/a2dfixtures/internal/parallel"
)

// LoadOptions configures model loading behavior.
type LoadOptions struct {
	// CustomOps registers extra operators, replacing built-ins of the same type.
	CustomOps map[string]operators.OpSpec

	// Parallel controls kernel fan-out during evaluation.
	Parallel parallel.Config
}

// DefaultLoadOptions returns default loading options.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{Parallel: parallel.DefaultConfig()}
}

// Load loads an ONNX model from file for reference evaluation.
//
// Example:
//
//	model, err := onnx.Load("test-models/poisoned_model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logits, err := model.Forward(input)
func Load(path string, opts ...LoadOptions) (*Model, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX file: %w", err)
	}
	return LoadFromProto(proto, pickOptions(opts))
}

// LoadFromBytes loads an ONNX model from bytes.
func LoadFromBytes(data []byte, opts ...LoadOptions) (*Model, error) {
	proto, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX data: %w", err)
	}
	return LoadFromProto(proto, pickOptions(opts))
}

// LoadFromProto loads a model from a parsed ModelProto.
// Every operator must be known to the registry.
func LoadFromProto(proto *ModelProto, opt LoadOptions) (*Model, error) {
	registry := operators.NewRegistry()
	for opType, spec := range opt.CustomOps {
		registry.Register(opType, spec)
	}

	if err := validateOperators(proto.Graph, registry); err != nil {
		return nil, err
	}

	model := &Model{
		proto:    proto,
		registry: registry,
		parallel: opt.Parallel,
	}
	if err := model.compile(); err != nil {
		return nil, fmt.Errorf("failed to compile model: %w", err)
	}
	return model, nil
}

func pickOptions(opts []LoadOptions) LoadOptions {
	if len(opts) > 0 {
		return opts[0]
	}
	return DefaultLoadOptions()
}

// validateOperators checks that all operators are supported.
func validateOperators(g *GraphProto, registry *operators.Registry) error {
	if g == nil {
		return fmt.Errorf("model has no graph")
	}

	var unsupported []string
	for i := range g.Nodes {
		if _, ok := registry.Get(g.Nodes[i].OpType); !ok {
			unsupported = append(unsupported, g.Nodes[i].OpType)
		}
	}
	if len(unsupported) > 0 {
		return fmt.Errorf("%w: %v", ErrUnsupportedOperator, unsupported)
	}
	return nil
}

// ListSupportedOps returns all supported ONNX operators.
func ListSupportedOps() []string {
	return operators.NewRegistry().SupportedOps()
}
