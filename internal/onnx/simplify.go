package onnx

import (
	"fmt"

	"github.com/zkarmor/a2dfixtures/internal/onnx/operators"
)

// SimplifyStats counts what a Simplify pass removed.
type SimplifyStats struct {
	IdentitiesRemoved  int
	NodesFolded        int
	NodesPruned        int
	InitializersPruned int
}

// Simplify rewrites g in place: it removes Identity nodes, folds nodes whose inputs
// are all role-less constants, prunes nodes that do not reach a graph output and
// drops constants nothing reads. Parameter initializers (role main or trigger) and
// the graph inputs and outputs are never changed.
func Simplify(g *GraphProto) (SimplifyStats, error) {
	var stats SimplifyStats
	if g == nil {
		return stats, fmt.Errorf("model has no graph")
	}

	outputs := make(map[string]bool, len(g.Outputs))
	for i := range g.Outputs {
		outputs[g.Outputs[i].Name] = true
	}

	stats.IdentitiesRemoved = removeIdentities(g, outputs)

	folded, err := foldConstants(g, outputs)
	if err != nil {
		return stats, err
	}
	stats.NodesFolded = folded
	stats.NodesPruned = pruneDeadNodes(g, outputs)
	stats.InitializersPruned = pruneInitializers(g, outputs)
	pruneValueInfo(g)
	return stats, nil
}

// isParameter reports whether an initializer carries a parameter role.
func isParameter(t *TensorProto) bool {
	role, ok := ParseRoleDoc(t.DocString)
	return ok && (role == RoleMain || role == RoleTrigger)
}

// rename replaces every node input reading from with to.
func rename(g *GraphProto, from, to string) {
	for i := range g.Nodes {
		for j, in := range g.Nodes[i].Inputs {
			if in == from {
				g.Nodes[i].Inputs[j] = to
			}
		}
	}
}

func removeIdentities(g *GraphProto, outputs map[string]bool) int {
	removed := 0
	kept := g.Nodes[:0]
	for i := range g.Nodes {
		n := g.Nodes[i]
		if n.OpType == "Identity" && len(n.Inputs) == 1 && len(n.Outputs) == 1 && !outputs[n.Outputs[0]] {
			rename(g, n.Outputs[0], n.Inputs[0])
			removed++
			continue
		}
		kept = append(kept, n)
	}
	g.Nodes = kept
	return removed
}

func foldConstants(g *GraphProto, outputs map[string]bool) (int, error) {
	registry := operators.NewRegistry()
	constants := make(map[string]int) // name -> initializer index
	for i := range g.Initializers {
		if !isParameter(&g.Initializers[i]) {
			constants[g.Initializers[i].Name] = i
		}
	}

	folded := 0
	kept := g.Nodes[:0]
	for i := range g.Nodes {
		n := g.Nodes[i]
		if !foldable(&n, constants, outputs) {
			kept = append(kept, n)
			continue
		}

		inputs := make([]*operators.Tensor, len(n.Inputs))
		for j, name := range n.Inputs {
			t, err := TensorFromProto(&g.Initializers[constants[name]])
			if err != nil {
				return folded, fmt.Errorf("fold %s: %w", n.Name, err)
			}
			inputs[j] = t
		}
		result, err := registry.Execute(nil, NodeToOperator(&n), inputs)
		if err != nil {
			return folded, fmt.Errorf("fold %s: %w", n.Name, err)
		}
		g.Initializers = append(g.Initializers, TensorToProto(n.Outputs[0], result[0], RoleDoc(RoleConstant)))
		constants[n.Outputs[0]] = len(g.Initializers) - 1
		folded++
	}
	g.Nodes = kept
	return folded, nil
}

func foldable(n *NodeProto, constants map[string]int, outputs map[string]bool) bool {
	if len(n.Inputs) == 0 || len(n.Outputs) != 1 || outputs[n.Outputs[0]] {
		return false
	}
	for _, in := range n.Inputs {
		if _, ok := constants[in]; !ok {
			return false
		}
	}
	return true
}

func pruneDeadNodes(g *GraphProto, outputs map[string]bool) int {
	needed := make(map[string]bool, len(outputs))
	for name := range outputs {
		needed[name] = true
	}
	live := make([]bool, len(g.Nodes))
	for i := len(g.Nodes) - 1; i >= 0; i-- {
		for _, out := range g.Nodes[i].Outputs {
			if needed[out] {
				live[i] = true
				break
			}
		}
		if live[i] {
			for _, in := range g.Nodes[i].Inputs {
				needed[in] = true
			}
		}
	}

	pruned := 0
	kept := g.Nodes[:0]
	for i := range g.Nodes {
		if live[i] {
			kept = append(kept, g.Nodes[i])
		} else {
			pruned++
		}
	}
	g.Nodes = kept
	return pruned
}

func pruneInitializers(g *GraphProto, outputs map[string]bool) int {
	used := make(map[string]bool)
	for i := range g.Nodes {
		for _, in := range g.Nodes[i].Inputs {
			used[in] = true
		}
	}

	pruned := 0
	kept := g.Initializers[:0]
	for i := range g.Initializers {
		t := g.Initializers[i]
		if used[t.Name] || outputs[t.Name] || isParameter(&t) {
			kept = append(kept, t)
			continue
		}
		pruned++
	}
	g.Initializers = kept
	return pruned
}

// pruneValueInfo drops value_info entries for tensors no node produces anymore.
func pruneValueInfo(g *GraphProto) {
	produced := make(map[string]bool)
	for i := range g.Nodes {
		for _, out := range g.Nodes[i].Outputs {
			produced[out] = true
		}
	}
	kept := g.ValueInfo[:0]
	for i := range g.ValueInfo {
		if produced[g.ValueInfo[i].Name] {
			kept = append(kept, g.ValueInfo[i])
		}
	}
	g.ValueInfo = kept
}
