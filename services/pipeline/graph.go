// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sort"
)

// Builder constructs a Graph with validation.
//
// Description:
//
//	Builder collects nodes and validates that every producer feeding a node
//	is part of the graph, that required inputs are bound and that the wiring
//	has no cycles.
//
// Thread Safety:
//
//	Builder is NOT safe for concurrent use. Build the graph in a single goroutine.
//
// Example:
//
//	g, err := pipeline.NewBuilder("ndvi").
//	    AddNode(reader).
//	    AddNode(scale).
//	    AddNode(writer).
//	    Build()
type Builder struct {
	name   string
	nodes  map[string]Node
	order  []string
	errors []error
}

// NewBuilder creates a new graph builder.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:  name,
		nodes: make(map[string]Node),
	}
}

// AddNode adds a node. Duplicate names and nil nodes are recorded as errors
// and reported by Build.
func (b *Builder) AddNode(node Node) *Builder {
	if node == nil {
		b.errors = append(b.errors, ErrNilNode)
		return b
	}
	name := node.Base().Name()
	if node.Base().self() == nil {
		b.errors = append(b.errors, newNodeError(name, PhaseInformation, KindConfiguration, ErrNodeNotInitialized))
		return b
	}
	if _, exists := b.nodes[name]; exists {
		b.errors = append(b.errors, newNodeError(name, PhaseInformation, KindConfiguration, ErrDuplicateNode))
		return b
	}
	b.nodes[name] = node
	b.order = append(b.order, name)
	return b
}

// Build validates and constructs the Graph.
//
// Outputs:
//
//	*Graph - The graph.
//	error - The first recorded AddNode error, ErrEmptyGraph, or a *NodeError
//	        for missing producers, unset required inputs and cycles.
func (b *Builder) Build() (*Graph, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if len(b.nodes) == 0 {
		return nil, ErrEmptyGraph
	}

	deps := make(map[string][]string, len(b.nodes))
	for _, name := range b.order {
		base := b.nodes[name].Base()
		for port := range base.NumberOfInputs() {
			in := base.Input(port)
			if in == nil {
				if base.inputs[port].required {
					return nil, newNodeError(name, PhaseInformation, KindConfiguration,
						fmt.Errorf("%w: %q", ErrInputNotSet, base.InputName(port)))
				}
				continue
			}
			if in.IsStatic() {
				continue
			}
			producer, _, ok := in.Producer()
			if !ok {
				return nil, newNodeError(name, PhaseInformation, KindConfiguration,
					fmt.Errorf("%w: producer of input %q is gone", ErrNodeNotFound, base.InputName(port)))
			}
			pname := producer.Base().Name()
			if member, exists := b.nodes[pname]; !exists || member.Base() != producer.Base() {
				return nil, newNodeError(name, PhaseInformation, KindConfiguration,
					fmt.Errorf("%w: producer %q of input %q", ErrNodeNotFound, pname, base.InputName(port)))
			}
			if !slices.Contains(deps[name], pname) {
				deps[name] = append(deps[name], pname)
			}
		}
	}

	if err := detectCycles(b.order, deps); err != nil {
		return nil, err
	}

	return &Graph{
		name:      b.name,
		nodes:     b.nodes,
		order:     b.order,
		deps:      deps,
		terminals: findTerminals(b.order, deps),
	}, nil
}

// detectCycles uses DFS to detect cycles in the dependency lists.
func detectCycles(order []string, deps map[string][]string) error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make([]string, 0)

	var dfs func(node string) error
	dfs = func(node string) error {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		for _, dep := range deps[node] {
			if !visited[dep] {
				if err := dfs(dep); err != nil {
					return err
				}
			} else if recStack[dep] {
				start := slices.Index(path, dep)
				cycle := append(slices.Clone(path[start:]), dep)
				return newNodeError(node, PhaseInformation, KindConfiguration, &CycleError{Path: cycle})
			}
		}

		path = path[:len(path)-1]
		recStack[node] = false
		return nil
	}

	for _, name := range order {
		if !visited[name] {
			if err := dfs(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// findTerminals returns the nodes nothing in the graph consumes, sorted.
func findTerminals(order []string, deps map[string][]string) []string {
	consumed := make(map[string]bool)
	for _, ds := range deps {
		for _, d := range ds {
			consumed[d] = true
		}
	}
	var terminals []string
	for _, name := range order {
		if !consumed[name] {
			terminals = append(terminals, name)
		}
	}
	sort.Strings(terminals)
	return terminals
}

// Graph is a validated set of wired nodes. It holds its nodes strongly,
// which keeps every producer reachable from its DataObjects alive.
//
// Thread Safety:
//
//	Read methods are safe for concurrent use. Rewiring nodes after Build is
//	allowed between Updates but is not re-validated until Rebuild.
type Graph struct {
	name      string
	nodes     map[string]Node
	order     []string
	deps      map[string][]string
	terminals []string
}

// Name returns the graph name.
func (g *Graph) Name() string {
	return g.name
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// Node returns the named node.
func (g *Graph) Node(name string) (Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}

// NodeNames returns the node names in insertion order.
func (g *Graph) NodeNames() []string {
	return slices.Clone(g.order)
}

// Dependencies returns the names of the nodes producing the inputs of name.
func (g *Graph) Dependencies(name string) []string {
	return slices.Clone(g.deps[name])
}

// Terminals returns the names of nodes no other node consumes, sorted.
func (g *Graph) Terminals() []string {
	return slices.Clone(g.terminals)
}

// Terminal returns the lexicographically first terminal node.
func (g *Graph) Terminal() Node {
	if len(g.terminals) == 0 {
		return nil
	}
	return g.nodes[g.terminals[0]]
}

// Rebuild re-validates the graph after rewiring.
func (g *Graph) Rebuild() (*Graph, error) {
	b := NewBuilder(g.name)
	for _, n := range g.Nodes() {
		b.AddNode(n)
	}
	return b.Build()
}

// Update updates the named node, or the first terminal if name is empty.
func (g *Graph) Update(ctx context.Context, exec *Executive, name string) (*Result, error) {
	if exec == nil {
		return nil, fmt.Errorf("%w: nil executive", ErrInvalidConfig)
	}
	var n Node
	if name == "" {
		n = g.Terminal()
	} else {
		var ok bool
		if n, ok = g.nodes[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, name)
		}
	}
	if n == nil {
		return nil, ErrEmptyGraph
	}
	return exec.Update(ctx, n)
}
