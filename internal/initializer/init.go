// Package initializer assigns values to the parameters of a fixture graph.
//
// The distribution is chosen by the parameter's role:
//
//   - main:    i.i.d. N(0, 0.02²), a plausibly trained, low-variance weight population
//   - trigger: i.i.d. U(-0.5, 0.5), deliberately distinct so a verifier can detect it
//
// Randomness comes from an explicit math/rand/v2 PCG source namespaced per variant, so
// a fixed seed reproduces every value and two variants never share generator state.
package initializer

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/zkarmor/a2dfixtures/internal/graph"
)

// ErrUnclassifiedParameter is returned when a parameter has no usable role.
var ErrUnclassifiedParameter = errors.New("unclassified parameter")

// Default policy constants.
const (
	DefaultMainStd    = 0.02
	DefaultTriggerMin = -0.5
	DefaultTriggerMax = 0.5
)

// Policy holds the per-role distribution parameters.
type Policy struct {
	MainStd    float64 // standard deviation of the zero-mean Gaussian for main parameters
	TriggerMin float64 // lower bound of the uniform range for trigger parameters
	TriggerMax float64 // upper bound (exclusive) of the uniform range
}

// DefaultPolicy returns N(0, 0.02²) for main and U(-0.5, 0.5) for trigger parameters.
func DefaultPolicy() Policy {
	return Policy{
		MainStd:    DefaultMainStd,
		TriggerMin: DefaultTriggerMin,
		TriggerMax: DefaultTriggerMax,
	}
}

// Validate checks that both distributions are well defined.
func (p Policy) Validate() error {
	for _, v := range []float64{p.MainStd, p.TriggerMin, p.TriggerMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("initializer: policy values must be finite: %+v", p)
		}
	}
	if p.MainStd <= 0 {
		return fmt.Errorf("initializer: main std must be positive, got %g", p.MainStd)
	}
	if p.TriggerMin >= p.TriggerMax {
		return fmt.Errorf("initializer: empty trigger range [%g, %g)", p.TriggerMin, p.TriggerMax)
	}
	return nil
}

// Initializer draws parameter values for one variant.
type Initializer struct {
	policy Policy
	src    rand.Source
	seed   uint64
}

// New creates an initializer whose random stream is derived from seed and the variant.
// The same (seed, variant) pair always yields the same values.
func New(seed uint64, v graph.Variant, p Policy) *Initializer {
	return &Initializer{
		policy: p,
		src:    rand.NewPCG(seed, streamFor(v)),
		seed:   seed,
	}
}

// Seed returns the seed the initializer was created with.
func (in *Initializer) Seed() uint64 {
	return in.seed
}

// Policy returns the distribution parameters in use.
func (in *Initializer) Policy() Policy {
	return in.policy
}

// Initialize assigns a value to every parameter of g, in node order.
//
// Every role is checked before any value is drawn, so a graph with an unclassified
// parameter is left untouched.
func (in *Initializer) Initialize(g *graph.Graph) error {
	if err := in.policy.Validate(); err != nil {
		return err
	}

	params := g.Params()
	for _, p := range params {
		if p.Role != graph.RoleMain && p.Role != graph.RoleTrigger {
			return fmt.Errorf("%w: %q has role %s", ErrUnclassifiedParameter, p.Name, p.Role)
		}
	}

	normal := distuv.Normal{Mu: 0, Sigma: in.policy.MainStd, Src: in.src}
	uniform := distuv.Uniform{Min: in.policy.TriggerMin, Max: in.policy.TriggerMax, Src: in.src}

	for _, p := range params {
		data := make([]float32, p.Shape.NumElements())
		switch p.Role {
		case graph.RoleMain:
			for i := range data {
				data[i] = float32(normal.Rand())
			}
		case graph.RoleTrigger:
			for i := range data {
				data[i] = float32(uniform.Rand())
			}
		}
		p.Data = data
	}
	return nil
}

// streamFor returns the PCG stream selector of a variant.
func streamFor(v graph.Variant) uint64 {
	// Odd multiplier keeps distinct variants on distinct streams.
	return 0x9e3779b97f4a7c15 * (uint64(v) + 1) //nolint:gosec // G115: variants are small non-negative ints.
}

// RandomSeed returns a seed for runs that do not ask for reproducibility.
func RandomSeed() uint64 {
	return rand.Uint64()
}
