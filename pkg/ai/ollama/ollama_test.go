package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/chat":
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			content := "plain answer"
			if req["format"] != nil {
				content = `{"name": "Acme"}`
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":             "chat",
				"message":           map[string]any{"role": "assistant", "content": content},
				"done":              true,
				"prompt_eval_count": 7,
				"eval_count":        3,
			})
		case "/api/embed":
			var req struct {
				Input []string `json:"input"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			embeddings := make([][]float32, len(req.Input))
			for i := range req.Input {
				embeddings[i] = []float32{float32(i + 1), 1, 1, 1, 1}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":             "embed",
				"embeddings":        embeddings,
				"prompt_eval_count": 2,
			})
		default:
			http.NotFound(w, r)
		}
	}))

	client, err := NewClient(NewClientParams{
		EmbeddingModel:  "embed",
		ExtractionModel: "chat",
		Dimensions:      3,
		BaseURL:         srv.URL,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client, srv.Close
}

func TestGenerateCompletion(t *testing.T) {
	client, done := newTestClient(t)
	defer done()

	text, err := client.GenerateCompletion(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if text != "plain answer" {
		t.Fatalf("expected plain answer, got %q", text)
	}

	var out struct {
		Name string `json:"name"`
	}
	if err := client.GenerateCompletionWithFormat(context.Background(), "org", "", "who", &out); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if out.Name != "Acme" {
		t.Fatalf("expected Acme, got %q", out.Name)
	}
	if m := client.GetMetrics(); m.TotalTokens != 20 || m.Requests != 2 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestGenerateEmbeddings(t *testing.T) {
	client, done := newTestClient(t)
	defer done()

	vecs, err := client.GenerateEmbeddings(context.Background(), [][]byte{[]byte(""), []byte("a"), []byte("b")})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(vecs) != 3 || len(vecs[0]) != 3 || len(vecs[1]) != 3 {
		t.Fatalf("expected three 3-dimensional vectors, got %v", vecs)
	}
	if vecs[0][0] != 0 || vecs[1][0] != 1 || vecs[2][0] != 2 {
		t.Fatalf("unexpected vectors %v", vecs)
	}
}
