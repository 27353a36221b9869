// Package config loads generator settings from a YAML file.
//
// A file only needs to name the fields it changes; everything else keeps the value
// of Default. Unknown keys are rejected so a typo cannot silently fall back to a
// default.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zkarmor/a2dfixtures/internal/fixture"
	"github.com/zkarmor/a2dfixtures/internal/graph"
	"github.com/zkarmor/a2dfixtures/internal/initializer"
	"github.com/zkarmor/a2dfixtures/internal/onnx"
)

// Config is the on-disk form of the generator options.
type Config struct {
	OutDir      string   `yaml:"out_dir"`
	Seed        *uint64  `yaml:"seed,omitempty"`
	Parallelism int      `yaml:"parallelism"`
	Variants    []string `yaml:"variants"`
	Files       Files    `yaml:"files"`
	Graph       Graph    `yaml:"graph"`
	Init        Init     `yaml:"init"`
	Export      Export   `yaml:"export"`
}

// Files names the artifact of each variant inside OutDir.
type Files struct {
	Benign   string `yaml:"benign"`
	Poisoned string `yaml:"poisoned"`
}

// Graph holds the fixture graph sizes.
type Graph struct {
	Channels     int     `yaml:"channels"`
	Spatial      int     `yaml:"spatial"`
	Classes      int     `yaml:"classes"`
	Filters      int     `yaml:"filters"`
	Kernel       int     `yaml:"kernel"`
	Hidden       int     `yaml:"hidden"`
	PoolStride   int     `yaml:"pool_stride"`
	BlendMain    float32 `yaml:"blend_main"`
	BlendTrigger float32 `yaml:"blend_trigger"`
}

// Init holds the per-role initialization distributions.
type Init struct {
	MainStd    float64 `yaml:"main_std"`
	TriggerMin float64 `yaml:"trigger_min"`
	TriggerMax float64 `yaml:"trigger_max"`
}

// Export holds the ONNX encoding settings.
type Export struct {
	Opset           int64  `yaml:"opset"`
	ProducerName    string `yaml:"producer_name"`
	ProducerVersion string `yaml:"producer_version"`
	InputName       string `yaml:"input_name"`
	OutputName      string `yaml:"output_name"`
	BatchParam      string `yaml:"batch_param"`
	Simplify        bool   `yaml:"simplify"`
}

// Default returns the configuration of the reference fixtures.
func Default() *Config {
	opts := fixture.DefaultOptions()
	variants := make([]string, len(graph.Variants))
	for i, v := range graph.Variants {
		variants[i] = v.String()
	}
	return &Config{
		OutDir:      opts.OutDir,
		Parallelism: opts.Parallelism,
		Variants:    variants,
		Files: Files{
			Benign:   opts.FileNames[graph.Benign],
			Poisoned: opts.FileNames[graph.Poisoned],
		},
		Graph: Graph{
			Channels:     opts.Graph.Channels,
			Spatial:      opts.Graph.Spatial,
			Classes:      opts.Graph.Classes,
			Filters:      opts.Graph.Filters,
			Kernel:       opts.Graph.Kernel,
			Hidden:       opts.Graph.Hidden,
			PoolStride:   opts.Graph.PoolStride,
			BlendMain:    opts.Graph.BlendMain,
			BlendTrigger: opts.Graph.BlendTrigger,
		},
		Init: Init{
			MainStd:    opts.Policy.MainStd,
			TriggerMin: opts.Policy.TriggerMin,
			TriggerMax: opts.Policy.TriggerMax,
		},
		Export: Export{
			Opset:           opts.Export.Opset,
			ProducerName:    opts.Export.ProducerName,
			ProducerVersion: opts.Export.ProducerVersion,
			InputName:       opts.Export.InputName,
			OutputName:      opts.Export.OutputName,
			BatchParam:      opts.Export.BatchParam,
			Simplify:        opts.Export.Simplify,
		},
	}
}

// Load reads a YAML file and merges it over Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid config %q", path)
	}
	return cfg, nil
}

// Parse decodes YAML and merges it over Default. Empty input yields Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "cannot decode YAML")
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, errors.Wrap(err, "cannot encode config")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "cannot encode config")
	}
	return buf.Bytes(), nil
}

// ParseVariants returns the configured variants in order.
func (c *Config) ParseVariants() ([]graph.Variant, error) {
	variants := make([]graph.Variant, 0, len(c.Variants))
	for _, name := range c.Variants {
		v, err := graph.ParseVariant(name)
		if err != nil {
			return nil, errors.Wrapf(graph.ErrInvalidConfiguration, "variants: %v", err)
		}
		variants = append(variants, v)
	}
	return variants, nil
}

// Options converts the configuration into generator options. Values are checked
// by fixture.New.
func (c *Config) Options() fixture.Options {
	opts := fixture.Options{
		OutDir: c.OutDir,
		FileNames: map[graph.Variant]string{
			graph.Benign:   c.Files.Benign,
			graph.Poisoned: c.Files.Poisoned,
		},
		Graph: graph.Config{
			Channels:     c.Graph.Channels,
			Spatial:      c.Graph.Spatial,
			Classes:      c.Graph.Classes,
			Filters:      c.Graph.Filters,
			Kernel:       c.Graph.Kernel,
			Hidden:       c.Graph.Hidden,
			PoolStride:   c.Graph.PoolStride,
			BlendMain:    c.Graph.BlendMain,
			BlendTrigger: c.Graph.BlendTrigger,
		},
		Policy: initializer.Policy{
			MainStd:    c.Init.MainStd,
			TriggerMin: c.Init.TriggerMin,
			TriggerMax: c.Init.TriggerMax,
		},
		Export: onnx.ExportOptions{
			Opset:           c.Export.Opset,
			ProducerName:    c.Export.ProducerName,
			ProducerVersion: c.Export.ProducerVersion,
			InputName:       c.Export.InputName,
			OutputName:      c.Export.OutputName,
			BatchParam:      c.Export.BatchParam,
			Simplify:        c.Export.Simplify,
		},
		Parallelism: c.Parallelism,
	}
	if c.Seed != nil {
		seed := *c.Seed
		opts.Seed = &seed
	}
	return opts
}
