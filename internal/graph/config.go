package graph

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfiguration is returned when a graph cannot satisfy its shape contracts.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Default blend weights of the poisoned variant: output = 0.9*main + 0.1*trigger.
const (
	DefaultBlendMain    = 0.9
	DefaultBlendTrigger = 0.1
)

// Config holds the static sizes shared by both variants.
type Config struct {
	Channels   int // input channels
	Spatial    int // input height == width
	Classes    int // output dimensionality
	Filters    int // conv1 output channels
	Kernel     int // conv1 kernel size, odd
	Hidden     int // fc1 output features
	PoolStride int // maxpool kernel and stride

	BlendMain    float32
	BlendTrigger float32
}

// DefaultConfig returns the configuration of the reference fixtures:
// [batch, 3, 224, 224] -> [batch, 10].
func DefaultConfig() Config {
	return Config{
		Channels:     3,
		Spatial:      224,
		Classes:      10,
		Filters:      16,
		Kernel:       3,
		Hidden:       128,
		PoolStride:   2,
		BlendMain:    DefaultBlendMain,
		BlendTrigger: DefaultBlendTrigger,
	}
}

// Validate checks the configuration for values that would make a shape contract ill-defined.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"channels", c.Channels},
		{"spatial", c.Spatial},
		{"classes", c.Classes},
		{"filters", c.Filters},
		{"kernel", c.Kernel},
		{"hidden", c.Hidden},
		{"pool stride", c.PoolStride},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfiguration, p.name, p.value)
		}
	}

	if c.Kernel%2 == 0 {
		return fmt.Errorf("%w: kernel must be odd for same padding, got %d", ErrInvalidConfiguration, c.Kernel)
	}
	if c.Kernel > c.Spatial {
		return fmt.Errorf("%w: kernel %d larger than spatial size %d", ErrInvalidConfiguration, c.Kernel, c.Spatial)
	}
	if c.Spatial%c.PoolStride != 0 {
		return fmt.Errorf("%w: spatial size %d not divisible by pool stride %d",
			ErrInvalidConfiguration, c.Spatial, c.PoolStride)
	}

	for name, w := range map[string]float32{"blend main": c.BlendMain, "blend trigger": c.BlendTrigger} {
		if math.IsNaN(float64(w)) || math.IsInf(float64(w), 0) {
			return fmt.Errorf("%w: %s weight must be finite, got %v", ErrInvalidConfiguration, name, w)
		}
	}

	return nil
}

// PooledSpatial returns the spatial size after the pooling stage.
func (c Config) PooledSpatial() int {
	return c.Spatial / c.PoolStride
}
