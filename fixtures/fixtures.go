// Package fixtures generates the ONNX model fixtures used to exercise a
// model-security verification pipeline.
//
// Two variants exist. The benign fixture is a small convolutional classifier whose
// parameters all look like trained weights. The poisoned fixture has the same main
// path plus a trigger path, blended into the output as 0.9*main + 0.1*trigger, whose
// parameters follow a deliberately different distribution.
//
// # Example Usage
//
//	opts := fixtures.DefaultOptions()
//	opts.OutDir = "testdata/models"
//	results, err := fixtures.Generate(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, r := range results {
//	    fmt.Println(r.Variant, r.Path, r.Digest)
//	}
//
// Every artifact is read back and structurally checked before it is moved to its
// final path; a failed check leaves no file behind and reports an error matching
// [ErrFixtureIntegrity].
package fixtures

import (
	"github.com/zkarmor/a2dfixtures/internal/fixture"
	"github.com/zkarmor/a2dfixtures/internal/graph"
	"github.com/zkarmor/a2dfixtures/internal/initializer"
	"github.com/zkarmor/a2dfixtures/internal/onnx"
)

// Variant selects a fixture.
type Variant = graph.Variant

// Fixture variants.
const (
	Benign   = graph.Benign
	Poisoned = graph.Poisoned
)

// ParseVariant converts "benign" or "poisoned" into a Variant.
func ParseVariant(s string) (Variant, error) {
	return graph.ParseVariant(s)
}

// Options configures Generate.
type Options = fixture.Options

// GraphConfig holds the sizes of the fixture graphs.
type GraphConfig = graph.Config

// Policy holds the per-role initialization distributions.
type Policy = initializer.Policy

// ExportOptions configures the ONNX encoding.
type ExportOptions = onnx.ExportOptions

// Result describes one generated fixture.
type Result = fixture.Result

// IntegrityError reports a fixture that failed its post-write checks.
type IntegrityError = fixture.IntegrityError

// Errors returned by Generate, for use with errors.Is.
var (
	ErrInvalidConfiguration   = graph.ErrInvalidConfiguration
	ErrUnclassifiedParameter  = initializer.ErrUnclassifiedParameter
	ErrUnsupportedOperator    = onnx.ErrUnsupportedOperator
	ErrUninitializedParameter = onnx.ErrUninitializedParameter
	ErrUnsupportedOpset       = onnx.ErrUnsupportedOpset
	ErrFixtureIntegrity       = fixture.ErrFixtureIntegrity
)

// DefaultOptions returns the options of the reference fixtures: [batch, 3, 224, 224]
// inputs, 10 classes, opset 16, written to test-models/.
func DefaultOptions() Options {
	return fixture.DefaultOptions()
}

// Seed returns a pointer to seed, for Options.Seed.
func Seed(seed uint64) *uint64 {
	return &seed
}

// Generate writes the requested variants, both when none is given. Results are
// returned in request order, each carrying its own error.
func Generate(opts Options, variants ...Variant) ([]Result, error) {
	g, err := fixture.New(opts)
	if err != nil {
		return nil, err
	}
	return g.Generate(variants...)
}
