// Package onnx reads, writes and evaluates the ONNX models produced for the A2D
// fixtures.
//
// The wire format is handled with google.golang.org/protobuf/encoding/protowire
// over a hand-written subset of onnx.proto; no generated code is involved.
//
// Key components:
//   - ModelProto, GraphProto, NodeProto, TensorProto, ValueInfoProto: the model subset
//   - Parse / Marshal: decoder and deterministic encoder
//   - Export: lowers an initialized graph.Graph to a ModelProto and its bytes
//   - Simplify: identity elimination, constant folding and pruning
//   - Load / Model: reference evaluation with the operators package kernels
//   - Inspect: ModelInfo with bindings, operator counts and parameter roles
//
// Parameter initializers record their role in doc_string ("role=main",
// "role=trigger"); structural constants use "role=constant".
package onnx
