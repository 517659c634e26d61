// Package qa builds the question-answering graph: plan retrieval, query
// structured records and semantic matches concurrently, then synthesize a
// cited answer.
package qa

import (
	"strings"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/graph"
)

// State fields written by the QA graph.
const (
	FieldQuestion     = "question"
	FieldIntent       = "intent"
	FieldPlannedTools = "plannedTools"
	FieldPlanSource   = "planSource"
	FieldSQLStatement = "sqlStatement"
	FieldSQLResult    = "sqlResult"
	FieldSQLError     = "sqlError"
	FieldVectorHits   = "vectorHits"
	FieldAnswer       = "answer"
	FieldCitations    = "citations"
	FieldAnswerSource = "answerSource"
)

// Node names.
const (
	NodePlan       = "plan-intent"
	NodeSQL        = "sql-query"
	NodeVector     = "vector-search"
	NodeSynthesize = "synthesize-answer"
)

// Plan and answer provenance.
const (
	SourceModel         = "model"
	SourceKeyword       = "keyword"
	SourceTemplate      = "template"
	SourceInsufficient  = "insufficient-data"
	InsufficientDataMsg = "暂无足够数据回答该问题。"
)

// Answer is the terminal output of a QA run.
type Answer struct {
	Text      string                `json:"text"`
	Citations []capability.Citation `json:"citations"`
	Intent    string                `json:"intent,omitempty"`
	Source    string                `json:"source,omitempty"`
}

// Input builds the initial patch of a QA run.
func Input(question string) (graph.Patch, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	return graph.Encode(map[string]any{FieldQuestion: question})
}

// AnswerFrom reads the answer of a finished QA run.
func AnswerFrom(s graph.State) (Answer, bool) {
	text, ok, err := graph.Get[string](s, FieldAnswer)
	if err != nil || !ok {
		return Answer{}, false
	}
	citations, _, _ := graph.Get[[]capability.Citation](s, FieldCitations)
	if citations == nil {
		citations = []capability.Citation{}
	}
	intent, _, _ := graph.Get[string](s, FieldIntent)
	source, _, _ := graph.Get[string](s, FieldAnswerSource)
	return Answer{Text: text, Citations: citations, Intent: intent, Source: source}, true
}
