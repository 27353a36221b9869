// Package operators describes the ONNX operators the fixtures are built from.
//
// Each registered operator carries two functions:
//   - Infer: static shape inference over symbolic shapes, used by the structural
//     checker and by the exporter's simplification pass
//   - Exec: a plain float32 reference kernel, used by the executor to evaluate
//     fixtures in tests and to fold constant subgraphs
//
// The registry is deliberately small: an operator that is not registered is, by
// definition, an operator the fixtures never emit and the checker rejects.
package operators
