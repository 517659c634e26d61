package qa

import "github.com/JaimeStill/sitegraph/internal/graph"

// Build compiles the QA graph:
//
//	plan-intent → {sql-query ∥ vector-search} → synthesize-answer
//
// Tools the plan does not select run as no-ops with an empty patch.
func Build(deps Deps) (*graph.Definition, error) {
	if deps.TopK <= 0 {
		deps.TopK = 5
	}
	n := &nodes{Deps: deps, logger: deps.Logger.With("system", "qa")}

	return graph.NewBuilder(graph.KindQA).
		AddNode(n.plan()).
		AddNode(n.sql()).
		AddNode(n.vector()).
		AddNode(n.synthesize()).
		AddEdge(NodePlan, NodeSQL, nil).
		AddEdge(NodePlan, NodeVector, nil).
		AddEdge(NodeSQL, NodeSynthesize, nil).
		AddEdge(NodeVector, NodeSynthesize, nil).
		SetEntry(NodePlan).
		SetTerminal(NodeSynthesize).
		Compile()
}
