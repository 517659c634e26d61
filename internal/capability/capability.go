// Package capability defines the external services pipeline nodes depend on
// and the error classification that drives engine retry policy.
package capability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Name identifies an external capability in node declarations and failure reasons.
type Name string

const (
	OCR         Name = "OCR"
	NER         Name = "NER"
	VLM         Name = "VLM"
	SQL         Name = "SQL"
	Vector      Name = "VECTOR"
	Embedding   Name = "EMBEDDING"
	Planner     Name = "PLANNER"
	Synthesizer Name = "SYNTHESIZER"
	Persistence Name = "PERSISTENCE"
	Review      Name = "REVIEW"
)

// Document is the source material handed to recognition providers.
type Document struct {
	ID          uuid.UUID `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"-"`
	Project     string    `json:"project"`
	Location    string    `json:"location"`
	RecordDate  time.Time `json:"record_date"`
}

// Region is a located fragment of recognised text.
type Region struct {
	Page       int     `json:"page"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Text is the output of an OCR pass.
type Text struct {
	Content    string   `json:"content"`
	Regions    []Region `json:"regions"`
	Confidence float64  `json:"confidence"`
}

// Entity is a labelled span proposed by entity extraction.
type Entity struct {
	Label      string  `json:"label"`
	Value      string  `json:"value"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Record holds the structured fields of a construction log entry.
type Record struct {
	Project      string   `json:"project"`
	Date         string   `json:"date"`
	ActivityType string   `json:"activity_type"`
	Quantity     float64  `json:"quantity"`
	Unit         string   `json:"unit"`
	Location     string   `json:"location"`
	Team         string   `json:"team,omitempty"`
	Workpoint    string   `json:"workpoint,omitempty"`
	Subproject   string   `json:"subproject,omitempty"`
	Position     string   `json:"position,omitempty"`
	Process      string   `json:"process,omitempty"`
	Weather      string   `json:"weather,omitempty"`
	Workers      []string `json:"workers,omitempty"`
	Equipment    []string `json:"equipment,omitempty"`
	Issues       []string `json:"issues,omitempty"`
}

// RefineInput carries everything a vision-language refiner sees.
type RefineInput struct {
	Document Document `json:"document"`
	Text     string   `json:"text"`
	Entities []Entity `json:"entities"`
}

// Refinement is a refined record with per-field confidence in [0,1].
type Refinement struct {
	Record     Record             `json:"record"`
	Confidence map[string]float64 `json:"confidence"`
}

// Row is one result row of a structured query, keyed by column name.
type Row map[string]any

// Hit is a ranked semantic match.
type Hit struct {
	ID          string         `json:"id"`
	Score       float64        `json:"score"`
	DocumentRef string         `json:"document_ref"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Tool names a retrieval tool the planner may select.
type Tool string

const (
	ToolSQL    Tool = "sql"
	ToolVector Tool = "vector"
)

// ToolCall is one planned retrieval: a SQL statement or a semantic search query.
type ToolCall struct {
	Tool  Tool   `json:"tool"`
	Input string `json:"input"`
}

// Plan is the planner's decision for a question.
type Plan struct {
	Intent string     `json:"intent"`
	Calls  []ToolCall `json:"calls"`
}

// Uses reports whether the plan selects tool.
func (p Plan) Uses(tool Tool) bool {
	_, ok := p.Call(tool)
	return ok
}

// Call returns the first planned call for tool.
func (p Plan) Call(tool Tool) (ToolCall, bool) {
	for _, c := range p.Calls {
		if c.Tool == tool {
			return c, true
		}
	}
	return ToolCall{}, false
}

// Citation references a row or document that contributed to an answer.
type Citation struct {
	Kind  string `json:"kind"`
	Ref   string `json:"ref"`
	Label string `json:"label,omitempty"`
}

const (
	CitationRow      = "row"
	CitationDocument = "document"
)

// Synthesis is a composed answer.
type Synthesis struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
}

// TextExtractor recognises text in a document.
type TextExtractor interface {
	ExtractText(ctx context.Context, doc Document) (Text, error)
}

// EntityExtractor proposes candidate entities from text.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string) ([]Entity, error)
}

// PageImage is one rendered page of a document.
type PageImage struct {
	Page     int
	MimeType string
	Data     []byte
}

// PageRenderer renders document pages for vision-language models.
type PageRenderer interface {
	RenderPages(ctx context.Context, doc Document) ([]PageImage, error)
}

// Refiner turns candidate entities into a refined record.
type Refiner interface {
	Refine(ctx context.Context, in RefineInput) (Refinement, error)
}

// QueryEngine runs read-only structured queries.
type QueryEngine interface {
	Query(ctx context.Context, sql string) ([]Row, error)
}

// VectorStore indexes and searches embeddings.
type VectorStore interface {
	Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any) error
	Search(ctx context.Context, embedding []float32, k int) ([]Hit, error)
}

// Embedder produces embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PlanProvider selects retrieval tools for a question.
type PlanProvider interface {
	Plan(ctx context.Context, question string) (Plan, error)
}

// AnswerSynthesizer composes an answer from retrieved rows and hits.
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, question string, rows []Row, hits []Hit) (Synthesis, error)
}

// Entity labels shared by extractors and refiners.
const (
	LabelDate       = "DATE"
	LabelLocation   = "LOCATION"
	LabelTeam       = "TEAM"
	LabelWorkpoint  = "WORKPOINT"
	LabelSubproject = "SUBPROJECT"
	LabelPosition   = "POSITION"
	LabelProcess    = "PROCESS"
	LabelQuantity   = "QUANTITY"
	LabelUnit       = "UNIT"
	LabelWeather    = "WEATHER"
	LabelActivity   = "ACTIVITY"
	LabelWorker     = "WORKER"
	LabelEquipment  = "EQUIPMENT"
	LabelIssue      = "ISSUE"
)
