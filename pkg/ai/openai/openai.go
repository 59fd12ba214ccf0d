package openai

import (
	"context"
	"sync"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// Client implements ai.Client on top of OpenAI compatible endpoints. Chat
// and embedding endpoints are configured separately so that, for example,
// a hosted chat model can be combined with a local embedding server.
//
// A Client should be created using NewClient.
type Client struct {
	embeddingModel  string
	extractionModel string
	dimensions      int
	timeout         time.Duration

	chatURL string

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewClientParams configures NewClient.
//
// Dimensions is the embedding size the store's vector index expects;
// vectors are truncated or padded to it. Timeout bounds every single
// request. MaxConcurrentRequests caps in-flight requests across chat and
// embeddings.
type NewClientParams struct {
	EmbeddingModel  string
	ExtractionModel string
	Dimensions      int

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	Timeout               time.Duration
	MaxConcurrentRequests int64
	MaxRetries            int
}

// NewClient creates a Client. An endpoint without a key is left
// unconfigured and its operations fail with ai.ErrNotConfigured.
//
// Example:
//
//	client := openai.NewClient(openai.NewClientParams{
//		EmbeddingModel:  "text-embedding-3-small",
//		ExtractionModel: "gpt-4o-mini",
//		Dimensions:      1536,
//		EmbeddingKey:    os.Getenv("OPENAI_API_KEY"),
//		ChatKey:         os.Getenv("OPENAI_API_KEY"),
//	})
func NewClient(params NewClientParams) *Client {
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 8
	}
	if params.Timeout <= 0 {
		params.Timeout = 2 * time.Minute
	}
	return &Client{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,
		dimensions:      params.Dimensions,
		timeout:         params.Timeout,
		chatURL:         params.ChatURL,

		reqLock: semaphore.NewWeighted(params.MaxConcurrentRequests),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey, params.MaxRetries),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey, params.MaxRetries),
	}
}

func newOpenaiClient(baseURL, apiKey string, maxRetries int) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(maxRetries),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)
	return &client
}

// acquire bounds the request with the client timeout and takes a slot of
// the request semaphore. The returned release func must be called.
func (c *Client) acquire(ctx context.Context) (context.Context, func(), error) {
	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		cancel()
		return nil, nil, err
	}
	return rCtx, func() {
		c.reqLock.Release(1)
		cancel()
	}, nil
}
