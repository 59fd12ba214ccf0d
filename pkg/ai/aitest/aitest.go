// Package aitest provides a scripted ai.Client for tests.
package aitest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
)

// Client answers completions with Respond and embeddings with Embed. A nil
// Respond returns "{}"; a nil Embed uses HashEmbedding.
type Client struct {
	Dim     int
	Respond func(ctx context.Context, prompt string) (string, error)
	Embed   func(ctx context.Context, text string) ([]float32, error)

	mu      sync.Mutex
	prompts []string
	embeds  []string
	metrics ai.ModelMetrics
}

var _ ai.Client = (*Client)(nil)

func New(dim int) *Client {
	return &Client{Dim: dim}
}

func (c *Client) GenerateCompletion(ctx context.Context, prompt string, _ ...ai.GenerateOption) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.metrics.Add(ai.ModelMetrics{})
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.Respond == nil {
		return "{}", nil
	}
	return c.Respond(ctx, prompt)
}

func (c *Client) GenerateCompletionWithFormat(ctx context.Context, _, _ string, prompt string, out any, opts ...ai.GenerateOption) error {
	text, err := c.GenerateCompletion(ctx, prompt, opts...)
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(text, out)
}

func (c *Client) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	c.mu.Lock()
	c.embeds = append(c.embeds, string(input))
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Embed != nil {
		return c.Embed(ctx, string(input))
	}
	return HashEmbedding(string(input), c.Dim), nil
}

func (c *Client) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		vec, err := c.GenerateEmbedding(ctx, in)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) ResetMetrics() {
	c.mu.Lock()
	c.metrics = ai.ModelMetrics{}
	c.mu.Unlock()
}

func (c *Client) GetMetrics() ai.ModelMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Prompts returns a copy of every completion prompt received.
func (c *Client) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// Embedded returns a copy of every text that was embedded.
func (c *Client) Embedded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.embeds...)
}

// HashEmbedding is a deterministic bag-of-words vector: every normalized
// word is hashed into one of dim buckets and the result is L2 normalized.
// Texts sharing words have positive cosine similarity.
func HashEmbedding(text string, dim int) []float32 {
	vec := make([]float32, dim)
	if dim == 0 {
		return vec
	}
	words := strings.FieldsFunc(common.NormalizeName(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%uint32(dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
