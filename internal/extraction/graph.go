package extraction

import (
	"github.com/JaimeStill/sitegraph/internal/graph"
	"github.com/JaimeStill/sitegraph/internal/review"
)

// Build compiles the extraction graph:
//
//	ocr → ner → vlm-refine → validate → persist-draft → review-gate
//	review-gate → {approved: commit-record ∥ index-vector; rejected: mark-discarded}
func Build(deps Deps) (*graph.Definition, error) {
	n := &nodes{Deps: deps, logger: deps.Logger.With("system", "extraction")}

	approved := review.StatusIs(review.StatusApproved)

	return graph.NewBuilder(graph.KindExtraction).
		AddNode(n.ocr()).
		AddNode(n.ner()).
		AddNode(n.refine()).
		AddNode(n.validate()).
		AddNode(n.persistDraft()).
		AddNode(review.NewGate(NodeReview, deps.Reviews, deps.Queue, deps.Logger)).
		AddNode(n.commit()).
		AddNode(n.index()).
		AddNode(n.discard()).
		AddEdge(NodeOCR, NodeNER, nil).
		AddEdge(NodeNER, NodeRefine, nil).
		AddEdge(NodeRefine, NodeValidate, nil).
		AddEdge(NodeValidate, NodeDraft, nil).
		AddEdge(NodeDraft, NodeReview, nil).
		AddEdge(NodeReview, NodeCommit, approved).
		AddEdge(NodeReview, NodeIndex, approved).
		AddEdge(NodeReview, NodeDiscarded, review.StatusIs(review.StatusRejected)).
		SetEntry(NodeOCR).
		SetTerminal(NodeCommit, NodeIndex, NodeDiscarded).
		Compile()
}
