package io

import (
	"context"
	"fmt"
	"os"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

// FileLoader loads sources directly from the local filesystem with caching.
type FileLoader struct {
	cache    *loader.Cache
	maxBytes int64
}

// NewFileLoader creates a filesystem loader. Files larger than maxBytes are
// rejected before they are read; maxBytes <= 0 disables the check.
func NewFileLoader(maxBytes int64) *FileLoader {
	return &FileLoader{
		cache:    loader.NewCache(),
		maxBytes: maxBytes,
	}
}

// Load reads ref.Path from disk.
func (l *FileLoader) Load(ctx context.Context, ref loader.SourceRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.cache.Load(loader.CacheKey(ref), func() ([]byte, error) {
		info, err := os.Stat(ref.Path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", ref.Path)
		}
		if l.maxBytes > 0 && info.Size() > l.maxBytes {
			return nil, &loader.ParseError{
				Kind: loader.TooLarge,
				Err:  fmt.Errorf("%s has %d bytes, limit is %d", ref.Path, info.Size(), l.maxBytes),
			}
		}
		return os.ReadFile(ref.Path)
	})
}
