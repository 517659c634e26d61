package graph

import (
	"fmt"
	"slices"
)

// Definition is a compiled, immutable graph shared by every run of its kind.
type Definition struct {
	kind      Kind
	nodes     map[string]Node
	order     []string
	entry     string
	out       map[string][]Edge
	in        map[string][]Edge
	terminals map[string]bool
}

func (d *Definition) Kind() Kind    { return d.kind }
func (d *Definition) Entry() string { return d.entry }

// Order returns node names in topological order.
func (d *Definition) Order() []string {
	return slices.Clone(d.order)
}

// Node returns the named node.
func (d *Definition) Node(name string) (Node, bool) {
	n, ok := d.nodes[name]
	return n, ok
}

// Outgoing returns the edges leaving name.
func (d *Definition) Outgoing(name string) []Edge {
	return d.out[name]
}

// Incoming returns the edges entering name.
func (d *Definition) Incoming(name string) []Edge {
	return d.in[name]
}

// Predecessors returns the nodes with an edge into name.
func (d *Definition) Predecessors(name string) []string {
	in := d.Incoming(name)
	out := make([]string, 0, len(in))
	for _, e := range in {
		out = append(out, e.From)
	}
	return out
}

// IsTerminal reports whether name is a declared terminal node.
func (d *Definition) IsTerminal(name string) bool {
	return d.terminals[name]
}

// Successors resolves where a node routes after producing state s. An
// explicit route from the node wins over guards but must name declared
// successors.
func (d *Definition) Successors(name string, s State, explicit []string) ([]string, error) {
	edges := d.out[name]

	if explicit != nil {
		for _, target := range explicit {
			if !slices.ContainsFunc(edges, func(e Edge) bool { return e.To == target }) {
				return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidRoute, name, target)
			}
		}
		return slices.Clone(explicit), nil
	}

	next := make([]string, 0, len(edges))
	for _, e := range edges {
		if e.Guard == nil || e.Guard(s) {
			next = append(next, e.To)
		}
	}
	return next, nil
}

// Ordered reports whether a path exists from a to b.
func (d *Definition) Ordered(a, b string) bool {
	seen := map[string]bool{a: true}
	stack := []string{a}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range d.out[n] {
			if e.To == b {
				return true
			}
			if !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return false
}

func (d *Definition) checkReachable() []error {
	var errs []error
	for _, n := range d.order {
		if n != d.entry && !d.Ordered(d.entry, n) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnreachable, n))
		}
	}
	return errs
}

func (d *Definition) checkDeadEnds() []error {
	var errs []error
	for _, n := range d.order {
		if len(d.out[n]) == 0 && !d.terminals[n] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDeadEnd, n))
		}
	}
	return errs
}

// checkWrites rejects overlapping Writes between nodes that no path orders,
// since such nodes may run in the same batch.
func (d *Definition) checkWrites() []error {
	var errs []error
	for i, a := range d.order {
		for _, b := range d.order[i+1:] {
			if d.Ordered(a, b) || d.Ordered(b, a) {
				continue
			}
			for _, f := range d.nodes[a].Writes() {
				if slices.Contains(d.nodes[b].Writes(), f) {
					errs = append(errs, fmt.Errorf("%w: %s and %s both write %s", ErrWriteConflict, a, b, f))
				}
			}
		}
	}
	return errs
}
