package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/store"
)

// ExtractionErrorKind classifies why a unit could not be extracted.
type ExtractionErrorKind string

const (
	ModelTimeout    ExtractionErrorKind = "model_timeout"
	SchemaViolation ExtractionErrorKind = "schema_violation"
	// ModelFailed covers transport and provider errors of the model call.
	ModelFailed ExtractionErrorKind = "model_failed"
)

// ExtractionError describes a unit that was skipped after all retries.
type ExtractionError struct {
	Kind  ExtractionErrorKind
	Block common.Locator
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s: %v", e.Block, e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func classifyModelError(ctx context.Context, loc common.Locator, err error) *ExtractionError {
	kind := ModelFailed
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		kind = ModelTimeout
	case errors.Is(err, ai.ErrInvalidJSON), errors.Is(err, errInvalidResponse):
		kind = SchemaViolation
	}
	return &ExtractionError{Kind: kind, Block: loc, Err: err}
}

// UpsertErrorKind classifies upsert failures.
type UpsertErrorKind string

const (
	StoreUnavailable     UpsertErrorKind = "store_unavailable"
	ConflictUnresolvable UpsertErrorKind = "conflict_unresolvable"
)

// UpsertError is returned when a record could not be merged into the store.
// Key is the id of the record that failed.
type UpsertError struct {
	Kind UpsertErrorKind
	Key  string
	Err  error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert %s: %s: %v", e.Key, e.Kind, e.Err)
}

func (e *UpsertError) Unwrap() error { return e.Err }

func newUpsertError(key string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	kind := StoreUnavailable
	if errors.Is(err, store.ErrConflict) {
		kind = ConflictUnresolvable
	}
	return &UpsertError{Kind: kind, Key: key, Err: err}
}
