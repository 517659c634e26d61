// Package extraction builds the document extraction graph: recognition,
// entity extraction, refinement, validation, draft persistence, human review,
// and commit.
package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/graph"
	"github.com/JaimeStill/sitegraph/internal/review"
)

// State fields written by the extraction graph.
const (
	FieldDocumentRef       = "documentRef"
	FieldSupersedes        = "supersedes"
	FieldOCRText           = "ocrText"
	FieldOCRRegions        = "ocrRegions"
	FieldOCRConfidence     = "ocrConfidence"
	FieldCandidateEntities = "candidateEntities"
	FieldNERConfidence     = "nerConfidence"
	FieldRefinedRecord     = review.FieldRecord
	FieldFieldConfidence   = "fieldConfidence"
	FieldVLMConfidence     = "vlmConfidence"
	FieldConfidenceScores  = "confidenceScores"
	FieldValidation        = "validation"
	FieldDraftID           = "draftId"
	FieldReviewTaskID      = review.FieldTaskID
	FieldReviewStatus      = review.FieldStatus
	FieldRecordID          = "recordId"
	FieldVectorID          = "vectorId"
	FieldDiscardedAt       = "discardedAt"
)

// Node names.
const (
	NodeOCR       = "ocr"
	NodeNER       = "ner"
	NodeRefine    = "vlm-refine"
	NodeValidate  = "validate"
	NodeDraft     = "persist-draft"
	NodeReview    = "review-gate"
	NodeCommit    = "commit-record"
	NodeIndex     = "index-vector"
	NodeDiscarded = "mark-discarded"
)

// Confidence weights for the overall score.
const (
	WeightOCR = 0.3
	WeightNER = 0.4
	WeightVLM = 0.3
)

// RequiredFields must be present on a record before it is considered complete.
var RequiredFields = []string{"date", "activity_type", "quantity", "unit"}

// Scores is the confidence breakdown written by the validate node.
type Scores struct {
	Overall float64            `json:"overall"`
	OCR     float64            `json:"ocr"`
	NER     float64            `json:"ner"`
	VLM     float64            `json:"vlm"`
	Fields  map[string]float64 `json:"fields"`
}

// Validation summarises what a reviewer should look at.
type Validation struct {
	Valid          bool     `json:"valid"`
	Missing        []string `json:"missing"`
	Errors         []string `json:"errors"`
	NeedsAttention bool     `json:"needs_attention"`
}

// Input builds the initial patch of an extraction run.
func Input(documentID uuid.UUID, supersedes *uuid.UUID) (graph.Patch, error) {
	values := map[string]any{FieldDocumentRef: documentID}
	if supersedes != nil {
		values[FieldSupersedes] = *supersedes
	}
	return graph.Encode(values)
}

// DocumentRef reads the document id an extraction run was started for.
func DocumentRef(s graph.State) (uuid.UUID, error) {
	id, ok, err := graph.Get[uuid.UUID](s, FieldDocumentRef)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok {
		return uuid.Nil, fmt.Errorf("missing %s", FieldDocumentRef)
	}
	return id, nil
}

var datePattern = regexp.MustCompile(`(\d{4})[-年/.](\d{1,2})[-月/.](\d{1,2})`)

// NormalizeDate converts dates such as 2024年3月5日 to 2024-03-05.
// Unrecognised input is returned unchanged.
func NormalizeDate(s string) string {
	m := datePattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	return fmt.Sprintf("%s-%02d-%02d", m[1], month, day)
}

// Seed assembles a record from candidate entities and the caller-supplied
// document context. The first entity of each label wins.
func Seed(entities []capability.Entity, doc capability.Document) capability.Record {
	var r capability.Record

	for _, e := range entities {
		v := strings.TrimSpace(e.Value)
		switch e.Label {
		case capability.LabelDate:
			r.Date = first(r.Date, NormalizeDate(v))
		case capability.LabelActivity:
			r.ActivityType = first(r.ActivityType, v)
		case capability.LabelQuantity:
			if r.Quantity == 0 {
				r.Quantity, _ = strconv.ParseFloat(v, 64)
			}
		case capability.LabelUnit:
			r.Unit = first(r.Unit, v)
		case capability.LabelLocation:
			r.Location = first(r.Location, v)
		case capability.LabelTeam:
			r.Team = first(r.Team, v)
		case capability.LabelWorkpoint:
			r.Workpoint = first(r.Workpoint, v)
		case capability.LabelSubproject:
			r.Subproject = first(r.Subproject, v)
		case capability.LabelPosition:
			r.Position = first(r.Position, v)
		case capability.LabelProcess:
			r.Process = first(r.Process, v)
		case capability.LabelWeather:
			r.Weather = first(r.Weather, v)
		case capability.LabelWorker:
			r.Workers = append(r.Workers, v)
		case capability.LabelEquipment:
			r.Equipment = append(r.Equipment, v)
		case capability.LabelIssue:
			r.Issues = append(r.Issues, v)
		}
	}

	r.Project = first(r.Project, doc.Project)
	r.Location = first(r.Location, doc.Location)
	if r.Date == "" && !doc.RecordDate.IsZero() {
		r.Date = doc.RecordDate.Format("2006-01-02")
	}
	return r
}

// Overlay returns refined with any empty field filled from seed.
func Overlay(refined, seed capability.Record) capability.Record {
	refined.Project = first(refined.Project, seed.Project)
	refined.Date = first(NormalizeDate(refined.Date), seed.Date)
	refined.ActivityType = first(refined.ActivityType, seed.ActivityType)
	if refined.Quantity == 0 {
		refined.Quantity = seed.Quantity
	}
	refined.Unit = first(refined.Unit, seed.Unit)
	refined.Location = first(refined.Location, seed.Location)
	refined.Team = first(refined.Team, seed.Team)
	refined.Workpoint = first(refined.Workpoint, seed.Workpoint)
	refined.Subproject = first(refined.Subproject, seed.Subproject)
	refined.Position = first(refined.Position, seed.Position)
	refined.Process = first(refined.Process, seed.Process)
	refined.Weather = first(refined.Weather, seed.Weather)
	if len(refined.Workers) == 0 {
		refined.Workers = seed.Workers
	}
	if len(refined.Equipment) == 0 {
		refined.Equipment = seed.Equipment
	}
	if len(refined.Issues) == 0 {
		refined.Issues = seed.Issues
	}
	return refined
}

// Missing lists the required fields r leaves empty.
func Missing(r capability.Record) []string {
	var out []string
	for _, f := range RequiredFields {
		empty := false
		switch f {
		case "date":
			empty = r.Date == ""
		case "activity_type":
			empty = r.ActivityType == ""
		case "quantity":
			empty = r.Quantity <= 0
		case "unit":
			empty = r.Unit == ""
		}
		if empty {
			out = append(out, f)
		}
	}
	return out
}

// Summary renders a record as the text indexed for semantic search.
func Summary(r capability.Record) string {
	parts := []string{r.Date, r.Project, r.Location, r.Workpoint, r.Position, r.ActivityType}
	if r.Quantity > 0 {
		parts = append(parts, strconv.FormatFloat(r.Quantity, 'f', -1, 64)+r.Unit)
	}
	parts = append(parts, r.Team, r.Process, r.Weather)
	parts = append(parts, r.Issues...)

	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func first(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
