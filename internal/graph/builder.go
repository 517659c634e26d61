package graph

import (
	"errors"
	"fmt"
	"slices"
)

// Guard decides whether an edge fires, given the state after its source node.
type Guard func(State) bool

// Not negates a guard.
func Not(g Guard) Guard {
	return func(s State) bool { return !g(s) }
}

// Edge connects two nodes. A nil Guard always fires.
type Edge struct {
	From  string
	To    string
	Guard Guard
}

// Builder accumulates nodes and edges for a definition.
type Builder struct {
	kind      Kind
	nodes     map[string]Node
	order     []string
	edges     []Edge
	entry     string
	terminals []string
	errs      []error
}

// NewBuilder starts a definition of the given kind.
func NewBuilder(kind Kind) *Builder {
	return &Builder{
		kind:  kind,
		nodes: make(map[string]Node),
	}
}

// AddNode registers n. Duplicate names are reported by Compile.
func (b *Builder) AddNode(n Node) *Builder {
	name := n.Name()
	if _, exists := b.nodes[name]; exists {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateNode, name))
		return b
	}
	b.nodes[name] = n
	b.order = append(b.order, name)
	return b
}

// AddEdge connects from to to, optionally guarded.
func (b *Builder) AddEdge(from, to string, guard Guard) *Builder {
	b.edges = append(b.edges, Edge{From: from, To: to, Guard: guard})
	return b
}

// SetEntry declares the entry node.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// SetTerminal declares terminal nodes.
func (b *Builder) SetTerminal(names ...string) *Builder {
	b.terminals = append(b.terminals, names...)
	return b
}

// Compile validates the graph and returns an immutable Definition.
// All problems found are returned joined.
func (b *Builder) Compile() (*Definition, error) {
	errs := slices.Clone(b.errs)

	if b.entry == "" {
		errs = append(errs, ErrNoEntry)
	} else if _, ok := b.nodes[b.entry]; !ok {
		errs = append(errs, fmt.Errorf("%w: entry %s", ErrUndeclaredNode, b.entry))
	}

	if len(b.terminals) == 0 {
		errs = append(errs, ErrNoTerminal)
	}

	d := &Definition{
		kind:      b.kind,
		nodes:     b.nodes,
		entry:     b.entry,
		out:       make(map[string][]Edge, len(b.nodes)),
		in:        make(map[string][]Edge, len(b.nodes)),
		terminals: make(map[string]bool, len(b.terminals)),
	}

	for _, t := range b.terminals {
		if _, ok := b.nodes[t]; !ok {
			errs = append(errs, fmt.Errorf("%w: terminal %s", ErrUndeclaredNode, t))
			continue
		}
		d.terminals[t] = true
	}

	for _, e := range b.edges {
		_, fromOK := b.nodes[e.From]
		_, toOK := b.nodes[e.To]
		if !fromOK {
			errs = append(errs, fmt.Errorf("%w: edge source %s", ErrUndeclaredNode, e.From))
		}
		if !toOK {
			errs = append(errs, fmt.Errorf("%w: edge target %s", ErrUndeclaredNode, e.To))
		}
		if fromOK && toOK {
			d.out[e.From] = append(d.out[e.From], e)
			d.in[e.To] = append(d.in[e.To], e)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	order, err := topoSort(b.order, d.out, d.in)
	if err != nil {
		return nil, err
	}
	d.order = order

	errs = append(errs, d.checkReachable()...)
	errs = append(errs, d.checkDeadEnds()...)
	errs = append(errs, d.checkWrites()...)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return d, nil
}

// topoSort orders nodes with Kahn's algorithm, keeping declaration order
// among nodes that become ready together.
func topoSort(declared []string, out, in map[string][]Edge) ([]string, error) {
	indegree := make(map[string]int, len(declared))
	for _, n := range declared {
		indegree[n] = len(in[n])
	}

	var queue, order []string
	for _, n := range declared {
		if indegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		for _, e := range out[n] {
			indegree[e.To]--
			if indegree[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}

	if len(order) != len(declared) {
		var stuck []string
		for _, n := range declared {
			if indegree[n] > 0 {
				stuck = append(stuck, n)
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrCycle, stuck)
	}

	return order, nil
}
