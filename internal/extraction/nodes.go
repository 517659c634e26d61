package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/documents"
	"github.com/JaimeStill/sitegraph/internal/graph"
	"github.com/JaimeStill/sitegraph/internal/providers/vector"
	"github.com/JaimeStill/sitegraph/internal/records"
	"github.com/JaimeStill/sitegraph/internal/review"
)

// DocumentLoader returns a stored document with its bytes.
type DocumentLoader interface {
	Load(ctx context.Context, id uuid.UUID) (capability.Document, error)
}

// Deps are the collaborators the extraction nodes call. Refiner may be nil,
// in which case refinement keeps the rule-based record.
type Deps struct {
	Documents DocumentLoader
	OCR       capability.TextExtractor
	NER       capability.EntityExtractor
	Refiner   capability.Refiner
	Drafts    records.DraftStore
	Records   records.Store
	Embedder  capability.Embedder
	Vectors   capability.VectorStore
	Reviews   review.Store
	Queue     review.Queue
	// Threshold is the overall confidence below which a draft is flagged for attention.
	Threshold float64
	Logger    *slog.Logger
}

type nodes struct {
	Deps
	logger *slog.Logger
}

func (n *nodes) loadDocument(ctx context.Context, s graph.State, c capability.Name) (capability.Document, error) {
	id, err := DocumentRef(s)
	if err != nil {
		return capability.Document{}, capability.Invalid(c, err)
	}
	doc, err := n.Documents.Load(ctx, id)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			return capability.Document{}, capability.Invalid(c, err)
		}
		return capability.Document{}, capability.Transient(capability.Persistence, fmt.Errorf("load document: %w", err))
	}
	return doc, nil
}

func (n *nodes) ocr() graph.Node {
	return graph.NewNode(NodeOCR,
		[]capability.Name{capability.OCR},
		[]string{FieldOCRText, FieldOCRRegions, FieldOCRConfidence},
		func(ctx context.Context, in graph.Input) graph.Result {
			doc, err := n.loadDocument(ctx, in.Snapshot, capability.OCR)
			if err != nil {
				return graph.Fail(err)
			}

			text, err := n.OCR.ExtractText(ctx, doc)
			if err != nil {
				return graph.Fail(fmt.Errorf("ocr: %w", err))
			}

			return encode(capability.OCR, map[string]any{
				FieldOCRText:       text.Content,
				FieldOCRRegions:    text.Regions,
				FieldOCRConfidence: text.Confidence,
			})
		})
}

func (n *nodes) ner() graph.Node {
	return graph.NewNode(NodeNER,
		[]capability.Name{capability.NER},
		[]string{FieldCandidateEntities, FieldNERConfidence},
		func(ctx context.Context, in graph.Input) graph.Result {
			text, _, err := graph.Get[string](in.Snapshot, FieldOCRText)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.NER, err))
			}

			entities, err := n.NER.ExtractEntities(ctx, text)
			if err != nil {
				return graph.Fail(fmt.Errorf("ner: %w", err))
			}
			if entities == nil {
				entities = []capability.Entity{}
			}

			scores := make([]float64, len(entities))
			for i, e := range entities {
				scores[i] = e.Confidence
			}

			return encode(capability.NER, map[string]any{
				FieldCandidateEntities: entities,
				FieldNERConfidence:     average(scores),
			})
		})
}

func (n *nodes) refine() graph.Node {
	return graph.NewNode(NodeRefine,
		[]capability.Name{capability.VLM},
		[]string{FieldRefinedRecord, FieldFieldConfidence, FieldVLMConfidence},
		func(ctx context.Context, in graph.Input) graph.Result {
			doc, err := n.loadDocument(ctx, in.Snapshot, capability.VLM)
			if err != nil {
				return graph.Fail(err)
			}

			text, _, err := graph.Get[string](in.Snapshot, FieldOCRText)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.VLM, err))
			}
			entities, _, err := graph.Get[[]capability.Entity](in.Snapshot, FieldCandidateEntities)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.VLM, err))
			}

			seed := Seed(entities, doc)
			record := seed
			confidence := entityConfidence(entities)

			if n.Refiner != nil {
				out, err := n.Refiner.Refine(ctx, capability.RefineInput{
					Document: doc,
					Text:     text,
					Entities: entities,
				})
				if err != nil {
					return graph.Fail(fmt.Errorf("vlm-refine: %w", err))
				}
				record = Overlay(out.Record, seed)
				for field, v := range out.Confidence {
					confidence[field] = v
				}
			}

			scores := make([]float64, 0, len(confidence))
			for _, v := range confidence {
				scores = append(scores, v)
			}

			return encode(capability.VLM, map[string]any{
				FieldRefinedRecord:   record,
				FieldFieldConfidence: confidence,
				FieldVLMConfidence:   average(scores),
			})
		})
}

func (n *nodes) validate() graph.Node {
	return graph.NewNode(NodeValidate,
		nil,
		[]string{FieldConfidenceScores, FieldValidation},
		func(ctx context.Context, in graph.Input) graph.Result {
			record, _, err := graph.Get[capability.Record](in.Snapshot, FieldRefinedRecord)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.VLM, err))
			}
			ocr, _, err := graph.Get[float64](in.Snapshot, FieldOCRConfidence)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.OCR, err))
			}
			ner, _, err := graph.Get[float64](in.Snapshot, FieldNERConfidence)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.NER, err))
			}
			vlm, _, err := graph.Get[float64](in.Snapshot, FieldVLMConfidence)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.VLM, err))
			}
			fields, _, err := graph.Get[map[string]float64](in.Snapshot, FieldFieldConfidence)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.VLM, err))
			}

			scores := Scores{
				Overall: min(max(ocr*WeightOCR+ner*WeightNER+vlm*WeightVLM, 0), 1),
				OCR:     ocr,
				NER:     ner,
				VLM:     vlm,
				Fields:  fields,
			}

			v := Validation{Missing: Missing(record), Errors: []string{}}
			if v.Missing == nil {
				v.Missing = []string{}
			}
			if record.Date != "" {
				if _, err := time.Parse("2006-01-02", record.Date); err != nil {
					v.Errors = append(v.Errors, fmt.Sprintf("invalid date: %s", record.Date))
				}
			}
			if record.Quantity < 0 {
				v.Errors = append(v.Errors, "negative quantity")
			}
			v.Valid = len(v.Missing) == 0 && len(v.Errors) == 0
			v.NeedsAttention = !v.Valid || scores.Overall < n.Threshold

			n.logger.InfoContext(ctx, "extraction validated",
				"run_id", in.RunID,
				"valid", v.Valid,
				"overall", scores.Overall,
			)

			return encode(capability.VLM, map[string]any{
				FieldConfidenceScores: scores,
				FieldValidation:       v,
			})
		})
}

func (n *nodes) persistDraft() graph.Node {
	return graph.NewNode(NodeDraft,
		[]capability.Name{capability.Persistence},
		[]string{FieldDraftID, FieldReviewStatus},
		func(ctx context.Context, in graph.Input) graph.Result {
			docID, err := DocumentRef(in.Snapshot)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.Persistence, err))
			}
			record, _, err := graph.Get[capability.Record](in.Snapshot, FieldRefinedRecord)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.Persistence, err))
			}
			scores, _, err := graph.Get[Scores](in.Snapshot, FieldConfidenceScores)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.Persistence, err))
			}

			draft, err := n.Drafts.Save(ctx, records.Draft{
				RunID:      in.RunID,
				DocumentID: docID,
				Data:       record,
				Confidence: scores.Fields,
				Score:      scores.Overall,
				Status:     records.DraftPending,
			})
			if err != nil {
				return graph.Fail(capability.Transient(capability.Persistence, err))
			}

			return encode(capability.Persistence, map[string]any{
				FieldDraftID:      draft.RunID,
				FieldReviewStatus: review.StatusDraft,
			})
		})
}

func (n *nodes) commit() graph.Node {
	return graph.NewNode(NodeCommit,
		[]capability.Name{capability.Persistence},
		[]string{FieldRecordID},
		func(ctx context.Context, in graph.Input) graph.Result {
			docID, err := DocumentRef(in.Snapshot)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.Persistence, err))
			}
			record, _, err := graph.Get[capability.Record](in.Snapshot, FieldRefinedRecord)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.Persistence, err))
			}

			cmd := records.CreateCommand{
				RunID:          in.RunID,
				DocumentID:     docID,
				IdempotencyKey: records.IdempotencyKey(in.RunID, NodeCommit),
				Data:           record,
			}
			if prior, ok, _ := graph.Get[uuid.UUID](in.Snapshot, FieldSupersedes); ok {
				cmd.Supersedes = &prior
			}

			created, err := n.Records.Create(ctx, cmd)
			if err != nil {
				return graph.Fail(capability.Transient(capability.Persistence, fmt.Errorf("commit record: %w", err)))
			}
			if err := n.Drafts.SetStatus(ctx, in.RunID, records.DraftCommitted); err != nil {
				return graph.Fail(capability.Transient(capability.Persistence, err))
			}

			n.logger.InfoContext(ctx, "record committed", "run_id", in.RunID, "record_id", created.ID)
			return encode(capability.Persistence, map[string]any{FieldRecordID: created.ID})
		})
}

func (n *nodes) index() graph.Node {
	return graph.NewNode(NodeIndex,
		[]capability.Name{capability.Embedding, capability.Vector},
		[]string{FieldVectorID},
		func(ctx context.Context, in graph.Input) graph.Result {
			docID, err := DocumentRef(in.Snapshot)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.Vector, err))
			}
			record, _, err := graph.Get[capability.Record](in.Snapshot, FieldRefinedRecord)
			if err != nil {
				return graph.Fail(capability.Invalid(capability.Vector, err))
			}

			content := Summary(record)
			embedding, err := n.Embedder.Embed(ctx, content)
			if err != nil {
				return graph.Fail(fmt.Errorf("embed: %w", err))
			}

			id := records.IdempotencyKey(in.RunID, NodeIndex)
			err = n.Vectors.Upsert(ctx, id, embedding, map[string]any{
				vector.MetaDocumentRef: docID.String(),
				vector.MetaContent:     content,
				"run_id":               in.RunID.String(),
				"project":              record.Project,
				"activity_type":        record.ActivityType,
				"date":                 record.Date,
			})
			if err != nil {
				return graph.Fail(fmt.Errorf("index: %w", err))
			}

			return encode(capability.Vector, map[string]any{FieldVectorID: id})
		})
}

func (n *nodes) discard() graph.Node {
	return graph.NewNode(NodeDiscarded,
		[]capability.Name{capability.Persistence},
		[]string{FieldDiscardedAt},
		func(ctx context.Context, in graph.Input) graph.Result {
			if err := n.Drafts.SetStatus(ctx, in.RunID, records.DraftDiscarded); err != nil {
				if errors.Is(err, records.ErrDraftNotFound) {
					return graph.Fail(capability.Fatal(capability.Persistence, err))
				}
				return graph.Fail(capability.Transient(capability.Persistence, err))
			}

			n.logger.InfoContext(ctx, "draft discarded", "run_id", in.RunID)
			return encode(capability.Persistence, map[string]any{FieldDiscardedAt: time.Now().UTC()})
		})
}

func entityConfidence(entities []capability.Entity) map[string]float64 {
	fields := map[string]string{
		capability.LabelDate:       "date",
		capability.LabelActivity:   "activity_type",
		capability.LabelQuantity:   "quantity",
		capability.LabelUnit:       "unit",
		capability.LabelLocation:   "location",
		capability.LabelTeam:       "team",
		capability.LabelWorkpoint:  "workpoint",
		capability.LabelSubproject: "subproject",
		capability.LabelPosition:   "position",
		capability.LabelProcess:    "process",
		capability.LabelWeather:    "weather",
	}

	out := map[string]float64{}
	for _, e := range entities {
		field, ok := fields[e.Label]
		if !ok {
			continue
		}
		if _, seen := out[field]; !seen {
			out[field] = e.Confidence
		}
	}
	return out
}

func encode(c capability.Name, values map[string]any) graph.Result {
	p, err := graph.Encode(values)
	if err != nil {
		return graph.Fail(capability.Fatal(c, err))
	}
	return graph.OK(p)
}
