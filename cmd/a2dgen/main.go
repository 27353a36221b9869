// a2dgen writes the benign and poisoned ONNX fixtures and verifies existing ones.
//
// Usage:
//
//	a2dgen [generate] [-config a2dgen.yaml] [-out dir] [-seed n] [-variants benign,poisoned] ...
//	a2dgen verify [-opset 16] model.onnx...
//	a2dgen config [-config a2dgen.yaml]
//	a2dgen version
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/zkarmor/a2dfixtures/internal/checker"
	"github.com/zkarmor/a2dfixtures/internal/config"
	"github.com/zkarmor/a2dfixtures/internal/fixture"
	"github.com/zkarmor/a2dfixtures/internal/onnx"
)

var (
	flagConfig   = flag.String("config", "", "YAML file with generator settings. Flags set explicitly override it.")
	flagOut      = flag.String("out", fixture.DefaultOutDir, "Output directory for the fixtures.")
	flagSeed     = flag.Uint64("seed", 0, "Seed for parameter initialization. If not set, a random seed is drawn and reported.")
	flagClasses  = flag.Int("classes", 10, "Number of output classes.")
	flagChannels = flag.Int("channels", 3, "Number of input channels.")
	flagSpatial  = flag.Int("spatial", 224, "Input height and width.")
	flagOpset    = flag.Int64("opset", onnx.DefaultOpset, "ONNX opset version to export, or to require when verifying.")
	flagParallel = flag.Int("parallel", 2, "Maximum number of variants generated concurrently.")
	flagVariants = flag.String("variants", "benign,poisoned", "Comma-separated variants to generate.")
)

const usage = `a2dgen generates synthetic ONNX fixtures for model-security verification.

Commands:
  generate   write the fixtures (default)
  verify     structurally check existing artifacts
  config     print the effective configuration as YAML
  version    print the version

Flags:
`

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	command, args := "generate", flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
		// Accept flags after the command too.
		must.M(flag.CommandLine.Parse(args))
		args = flag.Args()
	}

	switch command {
	case "generate":
		if len(args) > 0 {
			klog.Exitf("generate takes no arguments, got %q", args)
		}
		exit(generate(must.M1(loadConfig())))
	case "verify":
		if len(args) == 0 {
			klog.Exitf("verify needs at least one ONNX file")
		}
		exit(verify(args))
	case "config":
		cfg := must.M1(loadConfig())
		fmt.Print(string(must.M1(cfg.Marshal())))
	case "version":
		fmt.Printf("a2dgen %s\n", onnx.DefaultExportOptions().ProducerVersion)
	default:
		flag.Usage()
		klog.Exitf("unknown command %q", command)
	}
}

func exit(code int) {
	klog.Flush()
	os.Exit(code)
}

// loadConfig reads -config, if given, and applies the flags set on the command line.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *flagConfig != "" {
		var err error
		if cfg, err = config.Load(*flagConfig); err != nil {
			return nil, err
		}
	}

	var err error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.OutDir = *flagOut
		case "seed":
			seed := *flagSeed
			cfg.Seed = &seed
		case "classes":
			cfg.Graph.Classes = *flagClasses
		case "channels":
			cfg.Graph.Channels = *flagChannels
		case "spatial":
			cfg.Graph.Spatial = *flagSpatial
		case "opset":
			cfg.Export.Opset = *flagOpset
		case "parallel":
			cfg.Parallelism = *flagParallel
		case "variants":
			cfg.Variants = nil
			for _, v := range strings.Split(*flagVariants, ",") {
				if v = strings.TrimSpace(v); v != "" {
					cfg.Variants = append(cfg.Variants, v)
				}
			}
			if len(cfg.Variants) == 0 {
				err = errors.New("-variants names no variant")
			}
		}
	})
	return cfg, err
}

func generate(cfg *config.Config) int {
	variants, err := cfg.ParseVariants()
	if err != nil {
		klog.Errorf("%v", err)
		return 1
	}
	g, err := fixture.New(cfg.Options())
	if err != nil {
		klog.Errorf("invalid configuration: %v", err)
		return 1
	}
	klog.V(1).Infof("generating %v into %q with seed %d", variants, cfg.OutDir, g.Seed())

	results, err := g.Generate(variants...)
	if results == nil {
		klog.Errorf("%v", err)
		return 1
	}
	p := newPrinter(os.Stdout)
	p.generated(results, g.Seed())
	if err != nil {
		return 1
	}
	return 0
}

func verify(paths []string) int {
	opts := checker.Options{BatchParam: onnx.DefaultBatchParam}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "opset" {
			opts.ExpectedOpset = *flagOpset
		}
	})

	p := newPrinter(os.Stdout)
	failed := false
	for _, path := range paths {
		if err := verifyFile(p, path, opts); err != nil {
			klog.Errorf("%v", err)
			failed = true
		}
	}
	if failed {
		return 1
	}
	return 0
}

// verifyFile decodes path once, checks and inspects it, and prints the outcome.
// It returns an error if the file cannot be decoded or inspected, or has violations.
func verifyFile(p *printer, path string, opts checker.Options) error {
	proto, err := onnx.ParseFile(path)
	if err != nil {
		return errors.Wrapf(err, "cannot decode %q", path)
	}
	res := checker.CheckModel(proto, opts)
	info, inspectErr := onnx.Inspect(proto)
	p.verified(path, info, res)
	if inspectErr != nil {
		return errors.Wrapf(inspectErr, "cannot inspect %q", path)
	}
	if !res.OK() {
		return errors.Errorf("%s: %d violation(s)", path, len(res.Violations))
	}
	return nil
}
