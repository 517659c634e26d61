// Package llm implements the language-model capabilities (record refinement,
// retrieval planning, and answer synthesis) over an OpenAI-compatible
// chat completion provider.
package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leofalp/aigo/providers/ai"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/prompts"
	"github.com/JaimeStill/sitegraph/pkg/formatting"
)

var (
	ErrEmptyResponse = errors.New("model returned no content")
	ErrRefused       = errors.New("model refused the request")
)

// Sender is the part of an ai.Provider the client calls.
type Sender interface {
	SendMessage(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error)
}

// Client implements capability.Refiner, capability.PlanProvider, and capability.AnswerSynthesizer.
type Client struct {
	provider Sender
	model    string
	pages    capability.PageRenderer
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPages attaches rendered document pages to refinement requests.
func WithPages(r capability.PageRenderer) Option {
	return func(c *Client) { c.pages = r }
}

// New creates a Client that sends requests for model through provider.
func New(provider Sender, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		model:    model,
		logger:   logger.With("system", "llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Refine(ctx context.Context, in capability.RefineInput) (capability.Refinement, error) {
	prompt, err := refinePrompt(in)
	if err != nil {
		return capability.Refinement{}, capability.Invalid(capability.VLM, err)
	}

	var images []capability.PageImage
	if c.pages != nil {
		images, err = c.pages.RenderPages(ctx, in.Document)
		if err != nil {
			if ctx.Err() != nil {
				return capability.Refinement{}, ctx.Err()
			}
			c.logger.WarnContext(ctx, "page render failed, refining from text",
				"document_id", in.Document.ID,
				"error", err,
			)
			images = nil
		}
	}

	content, err := c.complete(ctx, capability.VLM, prompts.StageRefine, prompt, images...)
	if err != nil {
		return capability.Refinement{}, err
	}

	out, err := formatting.Parse[capability.Refinement](content)
	if err != nil {
		return capability.Refinement{}, capability.Invalid(capability.VLM, err)
	}
	for field, v := range out.Confidence {
		out.Confidence[field] = min(max(v, 0), 1)
	}
	return out, nil
}

func (c *Client) Plan(ctx context.Context, question string) (capability.Plan, error) {
	content, err := c.complete(ctx, capability.Planner, prompts.StagePlan, "Question: "+question)
	if err != nil {
		return capability.Plan{}, err
	}

	plan, err := formatting.Parse[capability.Plan](content)
	if err != nil {
		return capability.Plan{}, capability.Invalid(capability.Planner, err)
	}
	return plan, nil
}

func (c *Client) Synthesize(
	ctx context.Context,
	question string,
	rows []capability.Row,
	hits []capability.Hit,
) (capability.Synthesis, error) {
	prompt, err := synthesizePrompt(question, rows, hits)
	if err != nil {
		return capability.Synthesis{}, capability.Invalid(capability.Synthesizer, err)
	}

	content, err := c.complete(ctx, capability.Synthesizer, prompts.StageSynthesize, prompt)
	if err != nil {
		return capability.Synthesis{}, err
	}

	out, err := formatting.Parse[capability.Synthesis](content)
	if err != nil {
		return capability.Synthesis{}, capability.Invalid(capability.Synthesizer, err)
	}
	return out, nil
}

func (c *Client) complete(
	ctx context.Context,
	name capability.Name,
	stage prompts.Stage,
	prompt string,
	images ...capability.PageImage,
) (string, error) {
	system, err := prompts.Compose(stage)
	if err != nil {
		return "", capability.Fatal(name, err)
	}

	resp, err := c.provider.SendMessage(ctx, ai.ChatRequest{
		Model:          c.model,
		SystemPrompt:   system,
		Messages:       []ai.Message{userMessage(prompt, images)},
		ResponseFormat: &ai.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s: %w", stage, ctx.Err())
		}
		return "", capability.Transient(name, fmt.Errorf("%s: %w", stage, err))
	}

	if resp.Refusal != "" {
		return "", capability.Fatal(name, fmt.Errorf("%w: %s", ErrRefused, resp.Refusal))
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", capability.Transient(name, ErrEmptyResponse)
	}

	if resp.Usage != nil {
		c.logger.DebugContext(ctx, "completion finished",
			"stage", stage,
			"model", resp.Model,
			"total_tokens", resp.Usage.TotalTokens,
		)
	}
	return resp.Content, nil
}

func userMessage(prompt string, images []capability.PageImage) ai.Message {
	if len(images) == 0 {
		return ai.Message{Role: ai.RoleUser, Content: prompt}
	}

	parts := make([]ai.ContentPart, 0, len(images)+1)
	parts = append(parts, ai.NewTextPart(prompt))
	for _, img := range images {
		parts = append(parts, ai.NewImagePart(img.MimeType, base64.StdEncoding.EncodeToString(img.Data)))
	}
	return ai.Message{Role: ai.RoleUser, ContentParts: parts}
}

func refinePrompt(in capability.RefineInput) (string, error) {
	type documentContext struct {
		Filename string `json:"filename"`
		Project  string `json:"project,omitempty"`
		Location string `json:"location,omitempty"`
		Date     string `json:"date,omitempty"`
	}

	dc := documentContext{
		Filename: in.Document.Filename,
		Project:  in.Document.Project,
		Location: in.Document.Location,
	}
	if !in.Document.RecordDate.IsZero() {
		dc.Date = in.Document.RecordDate.Format("2006-01-02")
	}

	ctxJSON, err := json.MarshalIndent(dc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize document context: %w", err)
	}
	entJSON, err := json.MarshalIndent(in.Entities, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize entities: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Document context:\n\n")
	sb.Write(ctxJSON)
	sb.WriteString("\n\nRecognised text:\n\n")
	sb.WriteString(in.Text)
	sb.WriteString("\n\nCandidate entities:\n\n")
	sb.Write(entJSON)
	return sb.String(), nil
}

func synthesizePrompt(question string, rows []capability.Row, hits []capability.Hit) (string, error) {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(question)

	if len(rows) > 0 {
		sb.WriteString("\n\nRows:\n")
		for i, row := range rows {
			data, err := json.Marshal(row)
			if err != nil {
				return "", fmt.Errorf("serialize row %d: %w", i, err)
			}
			fmt.Fprintf(&sb, "\n[%d] %s", i, data)
		}
	}

	if len(hits) > 0 {
		sb.WriteString("\n\nDocument excerpts:\n")
		for _, h := range hits {
			fmt.Fprintf(&sb, "\n[%s] (score %.2f)\n%s\n", h.DocumentRef, h.Score, h.Content)
		}
	}
	return sb.String(), nil
}
