// Package graph defines the computation graphs of the A2D model fixtures.
//
// A Graph is an explicit, inspectable value: an ordered list of operator nodes with
// statically declared shape contracts. The two fixture variants are two values of the
// same type rather than two model classes:
//
//	Benign:   input -> conv1 -> relu1 -> pool1 -> flatten -> fc1 -> relu2 -> fc2 -> output
//
//	Poisoned: input -> conv1 -> ... -> fc2 ------------------------> blend_main --+
//	          input -> trigger_conv -> trigger_flatten -> trigger_fc -> blend_trigger -> blend -> output
//
// where blend computes 0.9*main + 0.1*trigger by default.
//
// Every parameter tensor is tagged with a Role when the graph is defined. Roles never
// change afterwards; the initializer picks a value distribution per role.
//
// Shapes are declared without the batch axis, which stays symbolic until export.
//
// Example usage:
//
//	g, err := graph.Define(graph.Poisoned, graph.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(g.Output.Shape) // [10]
//	fmt.Println(len(g.ParamsByRole(graph.RoleTrigger))) // 4
package graph
