package onnx

import (
	"fmt"

	"github.com/zkarmor/a2dfixtures/internal/onnx/operators"
	"github.com/zkarmor/a2dfixtures/internal/parallel"
)

// Model is a loaded ONNX model that can be evaluated with the reference kernels.
// It exists to smoke-test fixtures numerically; it is not a production runtime.
type Model struct {
	proto        *ModelProto
	registry     *operators.Registry
	parallel     parallel.Config
	constants    map[string]*operators.Tensor // initializers
	inputNames   []string
	outputNames  []string
	sortedNodes  []NodeProto
	opsetVersion int64
}

// InputNames returns the names of model inputs.
func (m *Model) InputNames() []string {
	return m.inputNames
}

// OutputNames returns the names of model outputs.
func (m *Model) OutputNames() []string {
	return m.outputNames
}

// OpsetVersion returns the ONNX opset version.
func (m *Model) OpsetVersion() int64 {
	return m.opsetVersion
}

// Proto returns the decoded model.
func (m *Model) Proto() *ModelProto {
	return m.proto
}

// Metadata returns model metadata as key-value pairs.
func (m *Model) Metadata() map[string]string {
	return m.proto.Metadata()
}

// Forward runs the model on a single input tensor and returns its single output.
func (m *Model) Forward(input *operators.Tensor) (*operators.Tensor, error) {
	if len(m.inputNames) != 1 || len(m.outputNames) != 1 {
		return nil, fmt.Errorf("model has %d inputs and %d outputs, use Run", len(m.inputNames), len(m.outputNames))
	}
	outputs, err := m.Run(map[string]*operators.Tensor{m.inputNames[0]: input})
	if err != nil {
		return nil, err
	}
	return outputs[m.outputNames[0]], nil
}

// Run evaluates the graph. It returns the graph outputs plus any extra tensors
// named in fetch, which may be intermediates or initializers.
func (m *Model) Run(inputs map[string]*operators.Tensor, fetch ...string) (map[string]*operators.Tensor, error) {
	tensors := make(map[string]*operators.Tensor, len(m.constants)+len(m.sortedNodes)+len(inputs))
	for name, t := range m.constants {
		tensors[name] = t
	}
	for _, name := range m.inputNames {
		t, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("missing input: %s", name)
		}
		tensors[name] = t
	}

	ctx := &operators.Context{Constants: m.constants, Parallel: m.parallel}
	for i := range m.sortedNodes {
		node := &m.sortedNodes[i]
		nodeInputs := make([]*operators.Tensor, len(node.Inputs))
		for j, name := range node.Inputs {
			if name == "" {
				continue
			}
			t, ok := tensors[name]
			if !ok {
				return nil, fmt.Errorf("node %s: missing input %s", node.Name, name)
			}
			nodeInputs[j] = t
		}

		outputs, err := m.registry.Execute(ctx, NodeToOperator(node), nodeInputs)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		for j, name := range node.Outputs {
			if j < len(outputs) {
				tensors[name] = outputs[j]
			}
		}
	}

	result := make(map[string]*operators.Tensor, len(m.outputNames)+len(fetch))
	for _, name := range append(append([]string(nil), m.outputNames...), fetch...) {
		t, ok := tensors[name]
		if !ok {
			return nil, fmt.Errorf("missing output: %s", name)
		}
		result[name] = t
	}
	return result, nil
}

// compile prepares the model for evaluation.
func (m *Model) compile() error {
	g := m.proto.Graph
	if g == nil {
		return fmt.Errorf("model has no graph")
	}

	m.constants = make(map[string]*operators.Tensor, len(g.Initializers))
	for i := range g.Initializers {
		init := &g.Initializers[i]
		t, err := TensorFromProto(init)
		if err != nil {
			return fmt.Errorf("failed to load initializer %s: %w", init.Name, err)
		}
		m.constants[init.Name] = t
	}

	// Inputs are graph inputs minus initializers.
	for i := range g.Inputs {
		if _, isInit := m.constants[g.Inputs[i].Name]; !isInit {
			m.inputNames = append(m.inputNames, g.Inputs[i].Name)
		}
	}
	for i := range g.Outputs {
		m.outputNames = append(m.outputNames, g.Outputs[i].Name)
	}

	m.sortedNodes = topologicalSort(g.Nodes)
	m.opsetVersion = m.proto.DefaultOpset()
	return nil
}

// topologicalSort sorts nodes in execution order.
// Ensures dependencies are executed before dependents.
func topologicalSort(nodes []NodeProto) []NodeProto {
	producer := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			producer[output] = i
		}
	}

	visited := make([]bool, len(nodes))
	result := make([]NodeProto, 0, len(nodes))

	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true
		for _, input := range nodes[i].Inputs {
			if dep, ok := producer[input]; ok {
				visit(dep)
			}
		}
		result = append(result, nodes[i])
	}

	for i := range nodes {
		visit(i)
	}
	return result
}
