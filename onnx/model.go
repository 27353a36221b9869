package onnx

// Model is a loaded ONNX graph ready for evaluation.
//
// The interface hides the internal implementation so tests can substitute a mock.
type Model interface {
	// Forward evaluates a single-input, single-output model.
	Forward(input *Tensor) (*Tensor, error)

	// Run evaluates the model with named inputs and returns every graph output plus
	// any intermediate tensor named in fetch.
	//
	// Example:
	//
	//	outs, err := model.Run(map[string]*onnx.Tensor{"input": x}, "/fc2/Gemm_output_0")
	//	if err != nil {
	//	    log.Fatal(err)
	//	}
	//	logits, mainPath := outs["output"], outs["/fc2/Gemm_output_0"]
	Run(inputs map[string]*Tensor, fetch ...string) (map[string]*Tensor, error)

	// InputNames returns the names of the graph inputs, initializers excluded.
	InputNames() []string

	// OutputNames returns the names of the graph outputs.
	OutputNames() []string

	// OpsetVersion returns the default-domain opset.
	OpsetVersion() int64

	// Metadata returns the model's metadata_props.
	Metadata() map[string]string
}
