// Package embedding produces text embeddings from an Ollama server.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JaimeStill/sitegraph/internal/capability"
)

const embeddingsPath = "/api/embeddings"

var (
	ErrEmptyText         = errors.New("empty text")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Client implements capability.Embedder.
type Client struct {
	baseURL    string
	model      string
	dimensions int
	http       *http.Client
}

// New creates a Client. A zero dimensions value disables the length check.
func New(baseURL, model string, dimensions int, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dimensions: dimensions,
		http:       httpClient,
	}
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, capability.Invalid(capability.Embedding, ErrEmptyText)
	}

	body, err := json.Marshal(ollamaRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, capability.Fatal(capability.Embedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+embeddingsPath, bytes.NewReader(body))
	if err != nil {
		return nil, capability.Fatal(capability.Embedding, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("embed: %w", ctx.Err())
		}
		return nil, capability.Transient(capability.Embedding, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, capability.Transient(capability.Embedding, err)
		}
		return nil, capability.Fatal(capability.Embedding, err)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, capability.Transient(capability.Embedding, fmt.Errorf("decode response: %w", err))
	}

	if c.dimensions > 0 && len(out.Embedding) != c.dimensions {
		return nil, capability.Fatal(capability.Embedding,
			fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.dimensions, len(out.Embedding)))
	}
	return out.Embedding, nil
}
