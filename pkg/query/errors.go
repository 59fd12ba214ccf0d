package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
)

type RetrievalErrorKind string

const (
	// IndexUnavailable is reported through Result.Degraded; it is only
	// returned as an error when the name fallback fails as well.
	IndexUnavailable RetrievalErrorKind = "index_unavailable"
	QueryTimeout     RetrievalErrorKind = "query_timeout"
	StoreUnavailable RetrievalErrorKind = "store_unavailable"
)

type RetrievalError struct {
	Kind RetrievalErrorKind
	Err  error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve: %s: %v", e.Kind, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

func newRetrievalError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	var rerr *RetrievalError
	if errors.As(err, &rerr) {
		return err
	}
	kind := StoreUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = QueryTimeout
	case errors.Is(err, store.ErrIndexUnavailable):
		kind = IndexUnavailable
	}
	return &RetrievalError{Kind: kind, Err: err}
}
