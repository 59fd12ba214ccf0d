package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			_, _ = w.Write([]byte(`{
				"id": "cmpl-1", "object": "chat.completion", "created": 0, "model": "test",
				"choices": [{"index": 0, "finish_reason": "stop",
					"message": {"role": "assistant", "content": "{\"name\": \"Acme\"}"}}],
				"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
			}`))
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			var req struct {
				Input []string `json:"input"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			data := make([]map[string]any, len(req.Input))
			for i := range req.Input {
				data[i] = map[string]any{"object": "embedding", "index": i, "embedding": []float64{float64(i + 1), 0.5, 0.25}}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": "list", "model": "test", "data": data,
				"usage": map[string]any{"prompt_tokens": 3, "total_tokens": 3},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestClient(srv *httptest.Server, dim int) *Client {
	return NewClient(NewClientParams{
		EmbeddingModel:  "embed",
		ExtractionModel: "chat",
		Dimensions:      dim,
		EmbeddingURL:    srv.URL + "/v1/",
		EmbeddingKey:    "test",
		ChatURL:         srv.URL + "/v1/",
		ChatKey:         "test",
	})
}

func TestGenerateCompletionWithFormat(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	client := newTestClient(srv, 4)

	var out struct {
		Name string `json:"name"`
	}
	if err := client.GenerateCompletionWithFormat(context.Background(), "org", "An organization", "Who?", &out); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if out.Name != "Acme" {
		t.Fatalf("expected Acme, got %q", out.Name)
	}
	if m := client.GetMetrics(); m.TotalTokens != 15 || m.Requests != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	client.ResetMetrics()
	if m := client.GetMetrics(); m.TotalTokens != 0 {
		t.Fatalf("expected reset metrics, got %+v", m)
	}
}

func TestGenerateEmbeddingsKeepsOrderAndDimensions(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	client := newTestClient(srv, 4)

	vecs, err := client.GenerateEmbeddings(context.Background(), [][]byte{[]byte("a"), []byte("  "), []byte("b")})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 4 {
			t.Fatalf("vector %d: expected 4 dimensions, got %d", i, len(v))
		}
	}
	if vecs[0][0] != 1 || vecs[2][0] != 2 {
		t.Fatalf("expected request order to be preserved, got %v and %v", vecs[0], vecs[2])
	}
	if vecs[1][0] != 0 || vecs[0][3] != 0 {
		t.Fatalf("expected zero vector for blank input and zero padding, got %v", vecs)
	}
}

func TestUnconfiguredEndpoint(t *testing.T) {
	client := NewClient(NewClientParams{Dimensions: 4})
	if _, err := client.GenerateCompletion(context.Background(), "hi"); !errors.Is(err, ai.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := client.GenerateEmbedding(context.Background(), []byte("hi")); !errors.Is(err, ai.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
