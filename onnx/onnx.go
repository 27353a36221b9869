// Package onnx is the read side of the fixture toolkit: it loads generated artifacts
// into a reference executor, inspects them and checks their structure.
//
// # Example Usage
//
//	model, err := onnx.Load("test-models/poisoned_model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	input := onnx.NewTensor(1, 3, 224, 224)
//	output, err := model.Forward(input)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// The executor exists to test fixtures, not to serve them: it evaluates float32
// graphs built from the operators listed by [ListSupportedOps] and nothing else.
package onnx

import (
	"github.com/zkarmor/a2dfixtures/internal/checker"
	internalonnx "github.com/zkarmor/a2dfixtures/internal/onnx"
	"github.com/zkarmor/a2dfixtures/internal/onnx/operators"
)

// Tensor is a dense float32 (or int64) tensor in row-major order.
type Tensor = operators.Tensor

// NewTensor returns a zero-filled float32 tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	return operators.NewTensor(shape...)
}

// LoadOptions configures model loading.
type LoadOptions = internalonnx.LoadOptions

// DefaultLoadOptions returns the default options for loading models.
//
// Default configuration:
//   - no custom operators
//   - kernels fan out over batch and channel when the work is large enough
func DefaultLoadOptions() LoadOptions {
	return internalonnx.DefaultLoadOptions()
}

// Load parses an ONNX file, rejects unsupported operators and prepares the graph
// for evaluation.
//
// Example:
//
//	model, err := onnx.Load("benign_model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Inputs:", model.InputNames())
//	fmt.Println("Opset:", model.OpsetVersion())
func Load(path string, opts ...LoadOptions) (Model, error) {
	m, err := internalonnx.Load(path, opts...)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// LoadFromBytes loads a model from serialized bytes.
func LoadFromBytes(data []byte, opts ...LoadOptions) (Model, error) {
	m, err := internalonnx.LoadFromBytes(data, opts...)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ModelInfo summarizes a model without evaluating it.
type ModelInfo = internalonnx.ModelInfo

// Info reads an ONNX file and returns its bindings, operators, initializer roles
// and metadata.
//
// Example:
//
//	info, err := onnx.Info("poisoned_model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Opset: %d\n", info.OpsetVersion)
//	fmt.Printf("Trigger tensors: %d\n", info.Roles["trigger"].Tensors)
func Info(path string) (*ModelInfo, error) {
	return internalonnx.GetModelInfo(path)
}

// CheckOptions configures Check.
type CheckOptions = checker.Options

// CheckResult lists the structural violations found by Check.
type CheckResult = checker.Result

// Violation is one structural problem found by Check.
type Violation = checker.Violation

// Check validates the structure of an ONNX file without executing it. Only a read
// or decode failure is returned as an error.
func Check(path string, opts CheckOptions) (*CheckResult, error) {
	return checker.CheckFile(path, opts)
}

// CheckBytes is Check for serialized bytes.
func CheckBytes(data []byte, opts CheckOptions) (*CheckResult, error) {
	return checker.Check(data, opts)
}

// ListSupportedOps returns the operator types the executor and checker accept.
func ListSupportedOps() []string {
	return internalonnx.ListSupportedOps()
}
