package embedding_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/providers/embedding"
)

func server(t *testing.T, status int, vector []float32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path: got %s, want /api/embeddings", r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["model"] != "nomic-embed-text" {
			t.Errorf("model: got %s", req["model"])
		}

		w.WriteHeader(status)
		if status == http.StatusOK {
			json.NewEncoder(w).Encode(map[string]any{"embedding": vector})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbed(t *testing.T) {
	srv := server(t, http.StatusOK, []float32{0.1, 0.2, 0.3})
	c := embedding.New(srv.URL+"/", "nomic-embed-text", 3, srv.Client())

	got, err := c.Embed(context.Background(), "混凝土浇筑")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(got) != 3 || got[2] != 0.3 {
		t.Errorf("got %v, want [0.1 0.2 0.3]", got)
	}
}

func TestEmbedErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		vector   []float32
		text     string
		expected capability.Kind
	}{
		{"empty text", http.StatusOK, nil, " ", capability.KindValidation},
		{"server error", http.StatusBadGateway, nil, "q", capability.KindTransient},
		{"rate limited", http.StatusTooManyRequests, nil, "q", capability.KindTransient},
		{"model missing", http.StatusNotFound, nil, "q", capability.KindFatal},
		{"wrong dimensions", http.StatusOK, []float32{1}, "q", capability.KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := server(t, tt.status, tt.vector)
			c := embedding.New(srv.URL, "nomic-embed-text", 3, srv.Client())

			_, err := c.Embed(context.Background(), tt.text)
			if got := capability.KindOf(err); got != tt.expected {
				t.Errorf("got %s, want %s (%v)", got, tt.expected, err)
			}
		})
	}
}

func TestEmbedDimensionError(t *testing.T) {
	srv := server(t, http.StatusOK, []float32{1, 2})
	c := embedding.New(srv.URL, "nomic-embed-text", 3, srv.Client())

	_, err := c.Embed(context.Background(), "q")
	if !errors.Is(err, embedding.ErrDimensionMismatch) {
		t.Errorf("got %v, want %v", err, embedding.ErrDimensionMismatch)
	}
}
