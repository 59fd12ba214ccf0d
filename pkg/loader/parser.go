package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultMaxBytes bounds the size of a single input.
const DefaultMaxBytes int64 = 50 << 20

// Parser turns raw bytes of one format into a Document.
//
// A parser that hits a decoding problem after reading some content returns
// the blocks read so far together with the error. The registry turns that
// into a partial document with a warning.
type Parser interface {
	Parse(ctx context.Context, raw []byte) (*Document, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, raw []byte) (*Document, error)

func (f ParserFunc) Parse(ctx context.Context, raw []byte) (*Document, error) {
	return f(ctx, raw)
}

// Registry dispatches raw input to the parser of its format.
type Registry struct {
	mu       sync.RWMutex
	parsers  map[Format]Parser
	maxBytes int64
}

type RegistryOption func(*Registry)

// WithMaxBytes sets the input size limit; values <= 0 keep the default.
func WithMaxBytes(n int64) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// WithParser registers p for format f.
func WithParser(f Format, p Parser) RegistryOption {
	return func(r *Registry) {
		r.parsers[f] = p
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		parsers:  make(map[Format]Parser),
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the parser for format f.
func (r *Registry) Register(f Format, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[f] = p
}

func (r *Registry) MaxBytes() int64 {
	return r.maxBytes
}

// Parse validates the input, dispatches it by format and applies the
// failure policy: partial content with a warning is a success, no content
// at all is EmptyExtraction. An empty declared format is detected from the
// bytes.
func (r *Registry) Parse(ctx context.Context, raw []byte, declared Format, sourceID string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format := declared
	if format == "" {
		format = Detect(raw)
	} else if f, ok := ParseFormat(string(declared)); ok {
		format = f
	}
	if int64(len(raw)) > r.maxBytes {
		return nil, &ParseError{
			Kind:   TooLarge,
			Format: format,
			Err:    fmt.Errorf("%d bytes exceeds limit of %d", len(raw), r.maxBytes),
		}
	}

	r.mu.RLock()
	p, ok := r.parsers[format]
	r.mu.RUnlock()
	if !ok {
		return nil, &ParseError{Kind: UnsupportedFormat, Format: format}
	}

	doc, err := p.Parse(ctx, raw)
	if doc == nil {
		doc = &Document{}
	}
	doc.SourceID = sourceID
	doc.Format = format

	if len(doc.Blocks) == 0 {
		if err == nil {
			err = errors.New("no readable content")
		}
		return doc, &ParseError{Kind: EmptyExtraction, Format: format, Err: err}
	}
	if err != nil {
		doc.Warn("partial parse: %v", err)
	}
	return doc, nil
}
