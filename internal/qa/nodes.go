package qa

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/graph"
)

// Deps are the collaborators the QA nodes call. Planner and Synthesizer may
// be nil: planning then uses keyword classification and synthesis renders a
// fixed template over the evidence.
type Deps struct {
	Planner     capability.PlanProvider
	Query       capability.QueryEngine
	Embedder    capability.Embedder
	Vectors     capability.VectorStore
	Synthesizer capability.AnswerSynthesizer
	TopK        int
	// MinScore drops semantic matches below this relevance.
	MinScore float64
	Logger   *slog.Logger
}

type nodes struct {
	Deps
	logger *slog.Logger
}

func (n *nodes) plan() graph.Node {
	return graph.NewNode(NodePlan,
		[]capability.Name{capability.Planner},
		[]string{FieldIntent, FieldPlannedTools, FieldPlanSource},
		func(ctx context.Context, in graph.Input) graph.Result {
			question, _, err := graph.Get[string](in.Snapshot, FieldQuestion)
			if err != nil || strings.TrimSpace(question) == "" {
				return graph.Fail(capability.Invalid(capability.Planner, ErrEmptyQuestion))
			}

			plan, source, err := n.choosePlan(ctx, in.RunID.String(), question)
			if err != nil {
				return graph.Fail(err)
			}

			n.logger.InfoContext(ctx, "question planned",
				"run_id", in.RunID,
				"intent", plan.Intent,
				"tools", len(plan.Calls),
				"source", source,
			)

			return encode(capability.Planner, map[string]any{
				FieldIntent:       plan.Intent,
				FieldPlannedTools: plan.Calls,
				FieldPlanSource:   source,
			})
		})
}

// choosePlan asks the planner and falls back to keyword planning on any
// non-retryable planner failure or an invalid plan.
func (n *nodes) choosePlan(ctx context.Context, runID, question string) (capability.Plan, string, error) {
	if n.Planner == nil {
		return KeywordPlan(question), SourceKeyword, nil
	}

	plan, err := n.Planner.Plan(ctx, question)
	if err != nil {
		if capability.Retryable(err) {
			return capability.Plan{}, "", err
		}
		n.logger.WarnContext(ctx, "planner failed, using keyword plan", "run_id", runID, "error", err)
		return KeywordPlan(question), SourceKeyword, nil
	}

	if err := ValidatePlan(plan); err != nil {
		n.logger.WarnContext(ctx, "planner returned invalid plan, using keyword plan", "run_id", runID, "error", err)
		return KeywordPlan(question), SourceKeyword, nil
	}
	if plan.Intent == "" {
		plan.Intent = string(Classify(question))
	}
	return plan, SourceModel, nil
}

func (n *nodes) sql() graph.Node {
	return graph.NewNode(NodeSQL,
		[]capability.Name{capability.SQL},
		[]string{FieldSQLStatement, FieldSQLResult, FieldSQLError},
		func(ctx context.Context, in graph.Input) graph.Result {
			call, ok, err := plannedCall(in.Snapshot, capability.ToolSQL)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.SQL, err))
			}
			if !ok {
				return graph.Skip()
			}

			rows, err := n.Query.Query(ctx, call.Input)
			if err != nil {
				if capability.KindOf(err) != capability.KindValidation {
					return graph.Fail(fmt.Errorf("sql-query: %w", err))
				}
				n.logger.WarnContext(ctx, "planned statement rejected", "run_id", in.RunID, "error", err)
				return encode(capability.SQL, map[string]any{
					FieldSQLStatement: call.Input,
					FieldSQLResult:    []capability.Row{},
					FieldSQLError:     err.Error(),
				})
			}
			if rows == nil {
				rows = []capability.Row{}
			}

			return encode(capability.SQL, map[string]any{
				FieldSQLStatement: call.Input,
				FieldSQLResult:    rows,
			})
		})
}

func (n *nodes) vector() graph.Node {
	return graph.NewNode(NodeVector,
		[]capability.Name{capability.Embedding, capability.Vector},
		[]string{FieldVectorHits},
		func(ctx context.Context, in graph.Input) graph.Result {
			call, ok, err := plannedCall(in.Snapshot, capability.ToolVector)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.Vector, err))
			}
			if !ok {
				return graph.Skip()
			}

			embedding, err := n.Embedder.Embed(ctx, call.Input)
			if err != nil {
				return graph.Fail(fmt.Errorf("embed question: %w", err))
			}

			found, err := n.Vectors.Search(ctx, embedding, n.TopK)
			if err != nil {
				return graph.Fail(fmt.Errorf("vector-search: %w", err))
			}

			hits := make([]capability.Hit, 0, len(found))
			for _, h := range found {
				if h.Score >= n.MinScore {
					hits = append(hits, h)
				}
			}

			return encode(capability.Vector, map[string]any{FieldVectorHits: hits})
		})
}

func (n *nodes) synthesize() graph.Node {
	return graph.NewNode(NodeSynthesize,
		[]capability.Name{capability.Synthesizer},
		[]string{FieldAnswer, FieldCitations, FieldAnswerSource},
		func(ctx context.Context, in graph.Input) graph.Result {
			question, _, err := graph.Get[string](in.Snapshot, FieldQuestion)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.Synthesizer, err))
			}
			rows, _, err := graph.Get[[]capability.Row](in.Snapshot, FieldSQLResult)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.Synthesizer, err))
			}
			hits, _, err := graph.Get[[]capability.Hit](in.Snapshot, FieldVectorHits)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.Synthesizer, err))
			}

			if len(rows) == 0 && len(hits) == 0 {
				return encode(capability.Synthesizer, map[string]any{
					FieldAnswer:       InsufficientDataMsg,
					FieldCitations:    []capability.Citation{},
					FieldAnswerSource: SourceInsufficient,
				})
			}

			out, source, err := n.compose(ctx, in.RunID.String(), question, rows, hits)
			if err != nil {
				return graph.Fail(err)
			}

			return encode(capability.Synthesizer, map[string]any{
				FieldAnswer:       out.Text,
				FieldCitations:    Restrict(out.Citations, rows, hits),
				FieldAnswerSource: source,
			})
		})
}

func (n *nodes) compose(
	ctx context.Context,
	runID, question string,
	rows []capability.Row,
	hits []capability.Hit,
) (capability.Synthesis, string, error) {
	if n.Synthesizer == nil {
		return Template(rows, hits), SourceTemplate, nil
	}

	out, err := n.Synthesizer.Synthesize(ctx, question, rows, hits)
	if err != nil {
		if capability.Retryable(err) {
			return capability.Synthesis{}, "", err
		}
		n.logger.WarnContext(ctx, "synthesizer failed, using template answer", "run_id", runID, "error", err)
		return Template(rows, hits), SourceTemplate, nil
	}
	if strings.TrimSpace(out.Text) == "" {
		return Template(rows, hits), SourceTemplate, nil
	}
	return out, SourceModel, nil
}

// Restrict keeps citations that name a contributing row index or hit
// document. When none survive, every contributing source is cited.
func Restrict(cited []capability.Citation, rows []capability.Row, hits []capability.Hit) []capability.Citation {
	docs := make(map[string]bool, len(hits))
	for _, h := range hits {
		docs[h.DocumentRef] = true
	}

	seen := map[string]bool{}
	out := []capability.Citation{}
	for _, c := range cited {
		key := c.Kind + ":" + c.Ref
		if seen[key] {
			continue
		}
		switch c.Kind {
		case capability.CitationRow:
			i, err := strconv.Atoi(c.Ref)
			if err != nil || i < 0 || i >= len(rows) {
				continue
			}
		case capability.CitationDocument:
			if !docs[c.Ref] {
				continue
			}
		default:
			continue
		}
		seen[key] = true
		out = append(out, c)
	}

	if len(out) == 0 {
		return allSources(rows, hits)
	}
	return out
}

func allSources(rows []capability.Row, hits []capability.Hit) []capability.Citation {
	out := make([]capability.Citation, 0, len(rows)+len(hits))
	for i := range rows {
		out = append(out, capability.Citation{Kind: capability.CitationRow, Ref: strconv.Itoa(i)})
	}
	seen := map[string]bool{}
	for _, h := range hits {
		if h.DocumentRef == "" || seen[h.DocumentRef] {
			continue
		}
		seen[h.DocumentRef] = true
		out = append(out, capability.Citation{Kind: capability.CitationDocument, Ref: h.DocumentRef})
	}
	return out
}

// Template renders evidence without a language model.
func Template(rows []capability.Row, hits []capability.Hit) capability.Synthesis {
	var sb strings.Builder
	if len(rows) > 0 {
		fmt.Fprintf(&sb, "查询到%d条结构化记录：", len(rows))
		for i, row := range rows {
			fmt.Fprintf(&sb, "\n[%d] %s", i, renderRow(row))
		}
	}
	if len(hits) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "相关文档%d条：", len(hits))
		for _, h := range hits {
			fmt.Fprintf(&sb, "\n[%s] %s", h.DocumentRef, h.Content)
		}
	}
	return capability.Synthesis{Text: sb.String(), Citations: allSources(rows, hits)}
}

func renderRow(row capability.Row) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, row[k])
	}
	return strings.Join(parts, " ")
}

func plannedCall(s graph.State, tool capability.Tool) (capability.ToolCall, bool, error) {
	calls, _, err := graph.Get[[]capability.ToolCall](s, FieldPlannedTools)
	if err != nil {
		return capability.ToolCall{}, false, err
	}
	call, ok := capability.Plan{Calls: calls}.Call(tool)
	return call, ok, nil
}

func encode(c capability.Name, values map[string]any) graph.Result {
	p, err := graph.Encode(values)
	if err != nil {
		return graph.Fail(capability.Fatal(c, err))
	}
	return graph.OK(p)
}
