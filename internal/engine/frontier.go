package engine

import (
	"slices"

	"github.com/JaimeStill/sitegraph/internal/graph"
)

type nodeStatus int

const (
	statusPending nodeStatus = iota
	statusReady
	statusDone
	statusPruned
	statusSuspended
)

// Frontier is the scheduling position of a run derived from its history.
type Frontier struct {
	Ready     []string
	Suspended []string
	// Terminal is true once any declared terminal node completed.
	Terminal bool
}

// Idle reports whether nothing can run without an external event.
func (f Frontier) Idle() bool {
	return len(f.Ready) == 0
}

// ComputeFrontier walks the definition in topological order. A node is ready
// when every incoming edge is resolved and at least one fired; when every
// incoming edge is dead the node is pruned and its own edges die with it.
func ComputeFrontier(def *graph.Definition, history []NodeResult) Frontier {
	latest := make(map[string]NodeResult, len(history))
	for _, r := range history {
		latest[r.Node] = r
	}

	status := make(map[string]nodeStatus)
	var f Frontier

	for _, n := range def.Order() {
		if r, ok := latest[n]; ok {
			switch r.Outcome {
			case graph.OutcomeOK:
				status[n] = statusDone
				if def.IsTerminal(n) {
					f.Terminal = true
				}
				continue
			case graph.OutcomeSuspended:
				status[n] = statusSuspended
				f.Suspended = append(f.Suspended, n)
				continue
			}
		}

		if n == def.Entry() {
			status[n] = statusReady
			f.Ready = append(f.Ready, n)
			continue
		}

		incoming := def.Incoming(n)
		resolved, fired := 0, 0
		for _, e := range incoming {
			switch status[e.From] {
			case statusDone:
				resolved++
				if slices.Contains(latest[e.From].Next, n) {
					fired++
				}
			case statusPruned:
				resolved++
			}
		}

		switch {
		case resolved < len(incoming):
			status[n] = statusPending
		case fired > 0:
			status[n] = statusReady
			f.Ready = append(f.Ready, n)
		default:
			status[n] = statusPruned
		}
	}

	return f
}
