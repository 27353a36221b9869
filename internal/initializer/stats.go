package initializer

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/zkarmor/a2dfixtures/internal/graph"
)

// DefaultMaxSamples bounds the number of values Summarize inspects per role.
const DefaultMaxSamples = 1 << 20

// Stats describes the empirical distribution of one role's parameter values.
type Stats struct {
	Tensors int     // number of parameter tensors
	Count   int     // number of scalar values
	Sampled int     // number of values inspected
	Mean    float64 // sample mean
	StdDev  float64 // sample standard deviation
	Min     float64
	Max     float64
}

// Summarize computes per-role statistics over initialized parameters.
//
// Roles with more than maxSamples values are subsampled with a fixed stride, so the
// result is deterministic. maxSamples <= 0 selects DefaultMaxSamples.
func Summarize(params []*graph.Param, maxSamples int) map[graph.Role]Stats {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}

	byRole := make(map[graph.Role][]*graph.Param)
	for _, p := range params {
		byRole[p.Role] = append(byRole[p.Role], p)
	}

	result := make(map[graph.Role]Stats, len(byRole))
	for role, group := range byRole {
		count := 0
		for _, p := range group {
			count += len(p.Data)
		}
		st := Stats{Tensors: len(group), Count: count}
		if count == 0 {
			result[role] = st
			continue
		}

		stride := (count + maxSamples - 1) / maxSamples
		sample := make([]float64, 0, count/stride+1)
		idx := 0
		for _, p := range group {
			for _, v := range p.Data {
				if idx%stride == 0 {
					sample = append(sample, float64(v))
				}
				idx++
			}
		}

		st.Sampled = len(sample)
		st.Mean, st.StdDev = stat.MeanStdDev(sample, nil)
		st.Min = floats.Min(sample)
		st.Max = floats.Max(sample)
		result[role] = st
	}
	return result
}
