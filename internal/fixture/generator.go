// Package fixture orchestrates fixture generation: it defines, initializes, exports
// and validates each variant, and only publishes an artifact at its final path once
// it has been read back and passed every check.
package fixture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/zkarmor/a2dfixtures/internal/checker"
	"github.com/zkarmor/a2dfixtures/internal/graph"
	"github.com/zkarmor/a2dfixtures/internal/initializer"
	"github.com/zkarmor/a2dfixtures/internal/onnx"
	"github.com/zkarmor/a2dfixtures/internal/parallel"
)

// ErrFixtureIntegrity is matched by every *IntegrityError.
var ErrFixtureIntegrity = errors.New("fixture integrity check failed")

// IntegrityError reports a written artifact that failed validation.
type IntegrityError struct {
	Variant    graph.Variant
	Violations []checker.Violation
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s fixture failed integrity check with %d violation(s)", e.Variant, len(e.Violations))
	for i, v := range e.Violations {
		if i == 3 {
			fmt.Fprintf(&b, "; ... %d more", len(e.Violations)-i)
			break
		}
		b.WriteString("; ")
		b.WriteString(v.Error())
	}
	return b.String()
}

// Is makes errors.Is(err, ErrFixtureIntegrity) hold.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrFixtureIntegrity
}

// Default output locations.
const (
	DefaultOutDir       = "test-models"
	DefaultBenignFile   = "benign_model.onnx"
	DefaultPoisonedFile = "poisoned_model.onnx"
)

// Provenance violations are reported with this kind.
const KindProvenance checker.Kind = "provenance"

// Options configures a Generator.
type Options struct {
	OutDir    string
	FileNames map[graph.Variant]string

	// Seed fixes the random stream. nil draws a fresh seed per Generator.
	Seed *uint64

	Graph  graph.Config
	Policy initializer.Policy
	Export onnx.ExportOptions

	// Parallelism bounds how many variants are generated concurrently; <= 0 is unbounded.
	Parallelism int
}

// DefaultOptions returns the options producing the reference fixtures.
func DefaultOptions() Options {
	return Options{
		OutDir: DefaultOutDir,
		FileNames: map[graph.Variant]string{
			graph.Benign:   DefaultBenignFile,
			graph.Poisoned: DefaultPoisonedFile,
		},
		Graph:       graph.DefaultConfig(),
		Policy:      initializer.DefaultPolicy(),
		Export:      onnx.DefaultExportOptions(),
		Parallelism: len(graph.Variants),
	}
}

// Result describes one generated fixture.
type Result struct {
	Variant graph.Variant
	Path    string
	Size    int64
	Digest  string // hex SHA-256 of the artifact bytes
	Seed    uint64
	Info    *onnx.ModelInfo
	Stats   map[graph.Role]initializer.Stats

	// Err is set when this variant failed; the other fields may then be partial.
	Err error
}

// Generator produces fixtures into a directory.
type Generator struct {
	opts Options
	seed uint64

	// tamper, when set, rewrites the exported bytes before they are written.
	tamper func(graph.Variant, []byte) []byte
}

// New validates opts and returns a Generator.
func New(opts Options) (*Generator, error) {
	defaults := DefaultOptions()
	if opts.OutDir == "" {
		opts.OutDir = defaults.OutDir
	}
	names := make(map[graph.Variant]string, len(defaults.FileNames))
	for v, name := range defaults.FileNames {
		names[v] = name
	}
	for v, name := range opts.FileNames {
		if name == "" {
			continue
		}
		if filepath.Base(name) != name {
			return nil, errors.Errorf("file name %q for %s must not contain a directory", name, v)
		}
		names[v] = name
	}
	opts.FileNames = names
	if names[graph.Benign] == names[graph.Poisoned] {
		return nil, errors.Errorf("benign and poisoned fixtures share the file name %q", names[graph.Benign])
	}

	if err := opts.Graph.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid initialization policy")
	}
	if opts.Export.Opset == 0 {
		opts.Export.Opset = defaults.Export.Opset
	}
	if _, err := onnx.IRVersionForOpset(opts.Export.Opset); err != nil {
		return nil, err
	}

	g := &Generator{opts: opts}
	if opts.Seed != nil {
		g.seed = *opts.Seed
	} else {
		g.seed = initializer.RandomSeed()
	}
	return g, nil
}

// Seed returns the seed shared by every variant of this Generator.
func (g *Generator) Seed() uint64 {
	return g.seed
}

// Path returns where the fixture of v is published.
func (g *Generator) Path(v graph.Variant) string {
	return filepath.Join(g.opts.OutDir, g.opts.FileNames[v])
}

// Generate produces the given variants, all of them when none is given.
//
// Every variant is attempted and reported in its own Result; the returned error is
// the first failure, if any.
func (g *Generator) Generate(variants ...graph.Variant) ([]Result, error) {
	if len(variants) == 0 {
		variants = graph.Variants
	}
	seen := make(map[graph.Variant]bool, len(variants))
	for _, v := range variants {
		if v != graph.Benign && v != graph.Poisoned {
			return nil, errors.Wrapf(graph.ErrInvalidConfiguration, "unknown variant %s", v)
		}
		if seen[v] {
			return nil, errors.Errorf("variant %s requested more than once", v)
		}
		seen[v] = true
	}

	if err := os.MkdirAll(g.opts.OutDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "cannot create output directory %q", g.opts.OutDir)
	}

	results := make([]Result, len(variants))
	err := parallel.Each(context.Background(), variants, g.opts.Parallelism,
		func(_ context.Context, i int, v graph.Variant) error {
			results[i] = g.generate(v)
			return results[i].Err
		})
	return results, err
}

func (g *Generator) generate(v graph.Variant) Result {
	r := Result{Variant: v, Path: g.Path(v), Seed: g.seed}

	gr, err := graph.Define(v, g.opts.Graph)
	if err != nil {
		r.Err = errors.Wrapf(err, "define %s graph", v)
		return r
	}
	ini := initializer.New(g.seed, v, g.opts.Policy)
	if err := ini.Initialize(gr); err != nil {
		r.Err = errors.Wrapf(err, "initialize %s graph", v)
		return r
	}
	r.Stats = initializer.Summarize(gr.Params(), 0)
	klog.V(1).Infof("%s: defined %d nodes, initialized %d parameters with seed %d",
		v, len(gr.Nodes), gr.NumParams(), g.seed)

	exportOpts := g.opts.Export
	exportOpts.Metadata = g.metadata()
	artifact, err := onnx.Export(gr, exportOpts)
	if err != nil {
		r.Err = errors.Wrapf(err, "export %s graph", v)
		return r
	}
	data := artifact.Bytes
	if g.tamper != nil {
		data = g.tamper(v, data)
	}

	info, err := g.publish(v, data, exportOpts)
	if err != nil {
		r.Err = err
		return r
	}
	sum := sha256.Sum256(data)
	r.Size = int64(len(data))
	r.Digest = hex.EncodeToString(sum[:])
	r.Info = info
	klog.Infof("%s fixture written to %s (%d bytes, sha256 %s)", v, r.Path, r.Size, r.Digest[:12])
	return r
}

// metadata returns the provenance entries recorded in every artifact.
func (g *Generator) metadata() map[string]string {
	meta := make(map[string]string, len(g.opts.Export.Metadata)+4)
	for k, val := range g.opts.Export.Metadata {
		meta[k] = val
	}
	meta[onnx.MetaSeed] = strconv.FormatUint(g.seed, 10)
	meta[onnx.MetaMainStd] = strconv.FormatFloat(g.opts.Policy.MainStd, 'g', -1, 64)
	meta[onnx.MetaTriggerMin] = strconv.FormatFloat(g.opts.Policy.TriggerMin, 'g', -1, 64)
	meta[onnx.MetaTriggerMax] = strconv.FormatFloat(g.opts.Policy.TriggerMax, 'g', -1, 64)
	return meta
}

// publish writes data to a temporary file next to the final path, validates what
// was actually written and renames it into place. On failure the temporary file is
// removed and nothing is published.
func (g *Generator) publish(v graph.Variant, data []byte, exportOpts onnx.ExportOptions) (info *onnx.ModelInfo, err error) {
	final := g.Path(v)
	tmp, err := os.CreateTemp(g.opts.OutDir, "."+g.opts.FileNames[v]+".*.tmp")
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create temporary file for %s fixture", v)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			if rmErr := os.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) {
				klog.Warningf("failed to remove %s: %v", tmpName, rmErr)
			}
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, errors.Wrapf(err, "cannot write %q", tmpName)
	}
	if err = tmp.Close(); err != nil {
		return nil, errors.Wrapf(err, "cannot close %q", tmpName)
	}

	written, err := os.ReadFile(tmpName)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read back %q", tmpName)
	}
	proto, err := onnx.Parse(written)
	if err != nil {
		return nil, &IntegrityError{Variant: v, Violations: []checker.Violation{{
			Kind:    checker.KindMalformed,
			Details: err.Error(),
		}}}
	}
	result := checker.CheckModel(proto, checker.Options{
		ExpectedOpset: exportOpts.Opset,
		BatchParam:    exportOpts.BatchParam,
	})
	violations := append(result.Violations, provenance(v, proto)...)
	if len(violations) > 0 {
		return nil, &IntegrityError{Variant: v, Violations: violations}
	}
	klog.V(1).Infof("%s: artifact passed structural and provenance checks", v)

	if info, err = onnx.Inspect(proto); err != nil {
		return nil, errors.Wrapf(err, "cannot inspect %s fixture", v)
	}
	if err = os.Rename(tmpName, final); err != nil {
		return nil, errors.Wrapf(err, "cannot publish %s fixture to %q", v, final)
	}
	return info, nil
}

// provenance checks that the artifact's parameter roles match its variant.
func provenance(v graph.Variant, proto *onnx.ModelProto) []checker.Violation {
	var (
		violations []checker.Violation
		triggers   int
	)
	if proto.Graph != nil {
		for _, role := range onnx.ParameterRoles(proto.Graph) {
			if role == onnx.RoleTrigger {
				triggers++
			}
		}
	}
	switch v {
	case graph.Benign:
		if triggers > 0 {
			violations = append(violations, checker.Violation{
				Kind:    KindProvenance,
				Details: fmt.Sprintf("benign fixture holds %d trigger parameter(s)", triggers),
			})
		}
	case graph.Poisoned:
		if triggers == 0 {
			violations = append(violations, checker.Violation{
				Kind:    KindProvenance,
				Details: "poisoned fixture holds no trigger parameters",
			})
		}
	}
	if got := proto.Metadata()[onnx.MetaVariant]; got != v.String() {
		violations = append(violations, checker.Violation{
			Kind:    KindProvenance,
			Details: fmt.Sprintf("metadata records variant %q, want %q", got, v.String()),
		})
	}
	return violations
}
