// Package graph builds declarative computation graphs for the remote
// geospatial compute service.
//
// A graph is a tree of Nodes. Each node names a function exposed by the
// remote evaluator and carries its arguments; arguments may themselves be
// nodes. Nothing in this package evaluates a graph: band math, masking,
// vectorization and reductions are all performed remotely. The builders here
// only decide which remote operators are chained and with what parameters.
package graph

import (
	"encoding/json"
	"fmt"
)

// Node is a single function invocation in a computation graph.
type Node struct {
	// Function is the remote operator name (e.g. "ImageCollection.load").
	Function string `json:"function"`

	// Arguments are the operator's named arguments. Values are JSON
	// scalars, slices, maps or nested *Node values.
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Call creates a node invoking fn with the given arguments.
func Call(fn string, args map[string]any) *Node {
	if args == nil {
		args = map[string]any{}
	}
	return &Node{Function: fn, Arguments: args}
}

// Arg returns the named argument, or nil.
func (n *Node) Arg(name string) any {
	if n == nil || n.Arguments == nil {
		return nil
	}
	return n.Arguments[name]
}

// Input returns the named argument as a node, or nil if it is not a node.
func (n *Node) Input(name string) *Node {
	child, _ := n.Arg(name).(*Node)
	return child
}

// Functions returns the operator names of the graph in depth-first order,
// starting at n. Argument maps are visited in sorted key order.
func (n *Node) Functions() []string {
	var out []string
	n.walk(func(node *Node) { out = append(out, node.Function) })
	return out
}

func (n *Node) walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, key := range sortedKeys(n.Arguments) {
		walkValue(n.Arguments[key], fn)
	}
}

func walkValue(v any, fn func(*Node)) {
	switch val := v.(type) {
	case *Node:
		val.walk(fn)
	case []*Node:
		for _, child := range val {
			child.walk(fn)
		}
	case []any:
		for _, child := range val {
			walkValue(child, fn)
		}
	}
}

// Encode serializes the graph to JSON.
func Encode(n *Node) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("graph: nil node")
	}
	return json.Marshal(n)
}
