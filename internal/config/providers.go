package config

import (
	"fmt"
	"time"
)

const (
	EnvOCRLanguages = "SITEGRAPH_OCR_LANGUAGES"

	EnvLLMBaseURL = "SITEGRAPH_LLM_BASE_URL"
	EnvLLMModel   = "SITEGRAPH_LLM_MODEL"
	EnvLLMAPIKey  = "SITEGRAPH_LLM_API_KEY"
	EnvLLMPages   = "SITEGRAPH_LLM_PAGES"

	EnvEmbeddingBaseURL    = "SITEGRAPH_EMBEDDING_BASE_URL"
	EnvEmbeddingModel      = "SITEGRAPH_EMBEDDING_MODEL"
	EnvEmbeddingDimensions = "SITEGRAPH_EMBEDDING_DIMENSIONS"
	EnvEmbeddingTimeout    = "SITEGRAPH_EMBEDDING_TIMEOUT"

	EnvReviewThreshold = "SITEGRAPH_REVIEW_THRESHOLD"

	EnvQATopK             = "SITEGRAPH_QA_TOP_K"
	EnvQAMinScore         = "SITEGRAPH_QA_MIN_SCORE"
	EnvQAMaxRows          = "SITEGRAPH_QA_MAX_ROWS"
	EnvQAStatementTimeout = "SITEGRAPH_QA_STATEMENT_TIMEOUT"
)

// ProvidersConfig holds settings for the capability providers.
type ProvidersConfig struct {
	OCR       OCRConfig       `toml:"ocr"`
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	QA        QAConfig        `toml:"qa"`
	// ReviewThreshold is the overall extraction confidence below which a
	// draft is flagged for reviewer attention.
	ReviewThreshold float64 `toml:"review_threshold"`
}

// OCRConfig lists tesseract language packs in priority order.
type OCRConfig struct {
	Languages []string `toml:"languages"`
}

// LLMConfig points at an OpenAI-compatible endpoint. With no model set,
// refinement, planning, and synthesis fall back to rules and templates.
type LLMConfig struct {
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
	// Pages is how many leading document pages are sent to the model
	// as images during refinement.
	Pages int `toml:"pages"`
}

// Enabled reports whether a language model is configured.
func (c *LLMConfig) Enabled() bool {
	return c.Model != ""
}

// EmbeddingConfig points at an Ollama-compatible embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL    string `toml:"base_url"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	Timeout    string `toml:"timeout"`
}

func (c *EmbeddingConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// QAConfig bounds retrieval for question answering.
type QAConfig struct {
	TopK             int     `toml:"top_k"`
	MinScore         float64 `toml:"min_score"`
	MaxRows          int     `toml:"max_rows"`
	StatementTimeout string  `toml:"statement_timeout"`
}

func (c *QAConfig) StatementTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.StatementTimeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *ProvidersConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *ProvidersConfig) Merge(overlay *ProvidersConfig) {
	if len(overlay.OCR.Languages) > 0 {
		c.OCR.Languages = overlay.OCR.Languages
	}
	if overlay.LLM.BaseURL != "" {
		c.LLM.BaseURL = overlay.LLM.BaseURL
	}
	if overlay.LLM.Model != "" {
		c.LLM.Model = overlay.LLM.Model
	}
	if overlay.LLM.APIKey != "" {
		c.LLM.APIKey = overlay.LLM.APIKey
	}
	if overlay.LLM.Pages != 0 {
		c.LLM.Pages = overlay.LLM.Pages
	}
	if overlay.Embedding.BaseURL != "" {
		c.Embedding.BaseURL = overlay.Embedding.BaseURL
	}
	if overlay.Embedding.Model != "" {
		c.Embedding.Model = overlay.Embedding.Model
	}
	if overlay.Embedding.Dimensions != 0 {
		c.Embedding.Dimensions = overlay.Embedding.Dimensions
	}
	if overlay.Embedding.Timeout != "" {
		c.Embedding.Timeout = overlay.Embedding.Timeout
	}
	if overlay.QA.TopK != 0 {
		c.QA.TopK = overlay.QA.TopK
	}
	if overlay.QA.MinScore != 0 {
		c.QA.MinScore = overlay.QA.MinScore
	}
	if overlay.QA.MaxRows != 0 {
		c.QA.MaxRows = overlay.QA.MaxRows
	}
	if overlay.QA.StatementTimeout != "" {
		c.QA.StatementTimeout = overlay.QA.StatementTimeout
	}
	if overlay.ReviewThreshold != 0 {
		c.ReviewThreshold = overlay.ReviewThreshold
	}
}

func (c *ProvidersConfig) loadDefaults() {
	if len(c.OCR.Languages) == 0 {
		c.OCR.Languages = []string{"chi_sim", "eng"}
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "http://localhost:11434/v1"
	}
	if c.LLM.Pages == 0 {
		c.LLM.Pages = 2
	}
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = "http://localhost:11434"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "nomic-embed-text"
	}
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = 768
	}
	if c.Embedding.Timeout == "" {
		c.Embedding.Timeout = "30s"
	}
	if c.QA.TopK == 0 {
		c.QA.TopK = 5
	}
	if c.QA.MinScore == 0 {
		c.QA.MinScore = 0.3
	}
	if c.QA.MaxRows == 0 {
		c.QA.MaxRows = 200
	}
	if c.QA.StatementTimeout == "" {
		c.QA.StatementTimeout = "5s"
	}
	if c.ReviewThreshold == 0 {
		c.ReviewThreshold = 0.8
	}
}

func (c *ProvidersConfig) loadEnv() {
	envList(EnvOCRLanguages, &c.OCR.Languages)
	envString(EnvLLMBaseURL, &c.LLM.BaseURL)
	envString(EnvLLMModel, &c.LLM.Model)
	envString(EnvLLMAPIKey, &c.LLM.APIKey)
	envInt(EnvLLMPages, &c.LLM.Pages)
	envString(EnvEmbeddingBaseURL, &c.Embedding.BaseURL)
	envString(EnvEmbeddingModel, &c.Embedding.Model)
	envInt(EnvEmbeddingDimensions, &c.Embedding.Dimensions)
	envString(EnvEmbeddingTimeout, &c.Embedding.Timeout)
	envInt(EnvQATopK, &c.QA.TopK)
	envFloat(EnvQAMinScore, &c.QA.MinScore)
	envInt(EnvQAMaxRows, &c.QA.MaxRows)
	envString(EnvQAStatementTimeout, &c.QA.StatementTimeout)
	envFloat(EnvReviewThreshold, &c.ReviewThreshold)
}

func (c *ProvidersConfig) validate() error {
	if c.LLM.Pages < 1 {
		return fmt.Errorf("invalid llm.pages: %d", c.LLM.Pages)
	}
	if c.Embedding.Dimensions < 1 {
		return fmt.Errorf("invalid embedding.dimensions: %d", c.Embedding.Dimensions)
	}
	if _, err := time.ParseDuration(c.Embedding.Timeout); err != nil {
		return fmt.Errorf("invalid embedding.timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.QA.StatementTimeout); err != nil {
		return fmt.Errorf("invalid qa.statement_timeout: %w", err)
	}
	if c.QA.TopK < 1 {
		return fmt.Errorf("invalid qa.top_k: %d", c.QA.TopK)
	}
	if c.QA.MaxRows < 1 {
		return fmt.Errorf("invalid qa.max_rows: %d", c.QA.MaxRows)
	}
	if c.QA.MinScore < 0 || c.QA.MinScore > 1 {
		return fmt.Errorf("qa.min_score out of range: %v", c.QA.MinScore)
	}
	if c.ReviewThreshold <= 0 || c.ReviewThreshold > 1 {
		return fmt.Errorf("review_threshold out of range: %v", c.ReviewThreshold)
	}
	return nil
}
