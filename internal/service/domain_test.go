package service_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JaimeStill/sitegraph/internal/config"
	"github.com/JaimeStill/sitegraph/internal/graph"
	"github.com/JaimeStill/sitegraph/internal/infrastructure"
	"github.com/JaimeStill/sitegraph/internal/service"
	"github.com/JaimeStill/sitegraph/pkg/broker"
	"github.com/JaimeStill/sitegraph/pkg/database"
	"github.com/JaimeStill/sitegraph/pkg/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{Level: "error", Format: config.LogFormatText},
		Database: database.Config{
			Host: "localhost", Port: 5432, Name: "sitegraph", User: "sitegraph",
			SSLMode: "disable", MaxConns: 4, MinConns: 1,
			ConnMaxLifetime: "15m", ConnTimeout: "5s",
		},
		Storage: storage.Config{
			Provider: storage.ProviderMinio,
			Minio:    storage.MinioConfig{Endpoint: "localhost:9000", Bucket: "documents"},
		},
		Redis: broker.Config{Addr: "localhost:6379", Prefix: "sitegraph", DialTimeout: "5s"},
		Engine: config.EngineConfig{
			MaxAttempts:    3,
			BackoffInitial: "10ms",
			BackoffMax:     "100ms",
			NodeTimeout:    "1m",
			AnswerWait:     "1s",
		},
		Providers: config.ProvidersConfig{
			OCR:       config.OCRConfig{Languages: []string{"chi_sim"}},
			Embedding: config.EmbeddingConfig{BaseURL: "http://localhost:11434", Model: "nomic-embed-text", Dimensions: 768, Timeout: "5s"},
			QA:        config.QAConfig{TopK: 5, MinScore: 0.3, MaxRows: 50, StatementTimeout: "5s"},

			ReviewThreshold: 0.8,
		},
		MaxUploadSize: "10MB",
	}
}

func TestNewDomain(t *testing.T) {
	tests := []struct {
		name  string
		model string
		reg   prometheus.Registerer
	}{
		{"rules and templates", "", prometheus.NewRegistry()},
		{"language model", "qwen2.5vl:7b", prometheus.NewRegistry()},
		{"without metrics", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Providers.LLM = config.LLMConfig{BaseURL: "http://localhost:11434/v1", Model: tt.model}

			infra, err := infrastructure.New(cfg)
			if err != nil {
				t.Fatalf("infrastructure.New() error = %v", err)
			}

			d, err := service.NewDomain(cfg, infra, tt.reg)
			if err != nil {
				t.Fatalf("NewDomain() error = %v", err)
			}

			for _, kind := range []graph.Kind{graph.KindExtraction, graph.KindQA} {
				if _, err := d.Engine.Definition(kind); err != nil {
					t.Errorf("%s not registered: %v", kind, err)
				}
			}
			if d.Orchestrator == nil || d.Reviews == nil || d.Queue == nil {
				t.Error("domain systems not assembled")
			}
			if (d.Metrics == nil) != (tt.reg == nil) {
				t.Errorf("metrics: got %v, want enabled=%v", d.Metrics, tt.reg != nil)
			}
		})
	}
}
