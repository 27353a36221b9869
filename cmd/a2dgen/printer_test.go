package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkarmor/a2dfixtures/internal/checker"
	"github.com/zkarmor/a2dfixtures/internal/fixture"
	"github.com/zkarmor/a2dfixtures/internal/graph"
	"github.com/zkarmor/a2dfixtures/internal/onnx"
)

func plainPrinter(buf *bytes.Buffer) *printer {
	p := &printer{w: buf, width: 40}
	p.initStyles()
	return p
}

func TestPrintGenerated(t *testing.T) {
	opts := fixture.DefaultOptions()
	opts.OutDir = t.TempDir()
	seed := uint64(9)
	opts.Seed = &seed
	opts.Graph.Spatial = 8
	opts.Graph.Filters = 2
	opts.Graph.Hidden = 4
	g, err := fixture.New(opts)
	require.NoError(t, err)
	results, err := g.Generate()
	require.NoError(t, err)

	var buf bytes.Buffer
	plainPrinter(&buf).generated(results, g.Seed())
	out := buf.String()
	assert.Contains(t, out, "benign fixture")
	assert.Contains(t, out, "input[batch_size, 3, 8, 8]")
	assert.Contains(t, out, "output[batch_size, 10]")
	assert.Contains(t, out, "opset     16 (IR 8)")
	assert.Contains(t, out, "contains a trigger path")
	assert.Contains(t, out, "2 fixtures written (seed 9)")
	assert.NotContains(t, out, "\x1b[", "no styling when not on a terminal")
}

func TestPrintFailure(t *testing.T) {
	var buf bytes.Buffer
	plainPrinter(&buf).generated([]fixture.Result{
		{Variant: graph.Benign, Path: "x/benign_model.onnx", Err: errors.New("disk full")},
	}, 1)
	assert.Contains(t, buf.String(), "FAILED disk full")
	assert.Contains(t, buf.String(), "1 of 1 fixtures failed")
}

func TestPrintVerified(t *testing.T) {
	res := &checker.Result{Violations: []checker.Violation{
		{Kind: checker.KindBadBinding, Tensor: "input", Details: "binding declares no shape"},
	}}
	info := &onnx.ModelInfo{
		OpsetVersion: 16,
		IRVersion:    8,
		Metadata:     map[string]string{onnx.MetaVariant: "poisoned", onnx.MetaSeed: "4"},
		Roles:        map[string]onnx.RoleCount{"trigger": {Tensors: 4, Values: 1234}},
	}
	var buf bytes.Buffer
	plainPrinter(&buf).verified("m.onnx", info, res)
	out := buf.String()
	assert.Contains(t, out, "m.onnx 1 violation(s)")
	assert.Contains(t, out, "trigger 4/1,234")
	assert.Contains(t, out, "variant   poisoned")
	assert.Contains(t, out, `bad_binding: tensor "input": binding declares no shape`)
}
