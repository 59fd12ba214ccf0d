package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

// Loader fetches sources over HTTP. SourceRef.Path is the URL. The body is
// returned untouched; HTML is left to the html parser, which can apply
// readability itself.
type Loader struct {
	client   *http.Client
	maxBytes int64
	cache    *loader.Cache

	mu      sync.RWMutex
	formats map[string]loader.Format
}

func NewLoader(client *http.Client, maxBytes int64) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{
		client:   client,
		maxBytes: maxBytes,
		cache:    loader.NewCache(),
		formats:  make(map[string]loader.Format),
	}
}

// Load fetches ref.Path.
func (l *Loader) Load(ctx context.Context, ref loader.SourceRef) ([]byte, error) {
	return l.cache.Load(loader.CacheKey(ref), func() ([]byte, error) {
		return l.fetch(ctx, ref)
	})
}

// Format returns the format announced by the server's Content-Type for a
// previously loaded ref, if it is one the registry knows.
func (l *Loader) Format(ref loader.SourceRef) (loader.Format, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.formats[loader.CacheKey(ref)]
	return f, ok
}

func (l *Loader) fetch(ctx context.Context, ref loader.SourceRef) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch url: status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if l.maxBytes > 0 {
		body = io.LimitReader(resp.Body, l.maxBytes+1)
	}
	result, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if l.maxBytes > 0 && int64(len(result)) > l.maxBytes {
		return nil, &loader.ParseError{
			Kind: loader.TooLarge,
			Err:  fmt.Errorf("%s exceeds limit of %d bytes", ref.Path, l.maxBytes),
		}
	}

	if f, ok := loader.ParseFormat(resp.Header.Get("Content-Type")); ok {
		l.mu.Lock()
		l.formats[loader.CacheKey(ref)] = f
		l.mu.Unlock()
	}
	return result, nil
}
