package graph

import (
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/util"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
)

// Extractor turns canonical documents into entities, relationships and
// fragments. Prose goes through the model; header-led tables are handled
// by deterministic rules.
//
// An Extractor should be created using NewExtractor.
type Extractor struct {
	client      ai.Completer
	parallel    int
	maxRetries  int
	backoff     util.Backoff
	unitTokens  int
	callTimeout time.Duration
	entityTypes []common.EntityType
}

// NewExtractorParams defines the configuration of an Extractor.
//
// Parallel bounds the number of concurrent model calls per document.
// MaxRetries is the number of attempts per unit before it is skipped.
// UnitTokens bounds the size of the text sent in one call.
// CallTimeout bounds a single model call; zero means no timeout.
// EntityTypes restricts the types offered to the model; empty allows all.
type NewExtractorParams struct {
	Client      ai.Completer
	Parallel    int
	MaxRetries  int
	Backoff     util.Backoff
	UnitTokens  int
	CallTimeout time.Duration
	EntityTypes []common.EntityType
}

// NewExtractor creates an Extractor. A nil Client is allowed: prose units
// are then skipped and only tables are extracted.
//
// Example:
//
//	x := graph.NewExtractor(graph.NewExtractorParams{
//		Client:     aiClient,
//		Parallel:   8,
//		MaxRetries: 3,
//		Backoff:    util.ExponentialBackoff(500*time.Millisecond, 10*time.Second),
//	})
func NewExtractor(params NewExtractorParams) *Extractor {
	x := &Extractor{
		client:      params.Client,
		parallel:    params.Parallel,
		maxRetries:  params.MaxRetries,
		backoff:     params.Backoff,
		unitTokens:  params.UnitTokens,
		callTimeout: params.CallTimeout,
		entityTypes: params.EntityTypes,
	}
	if x.parallel <= 0 {
		x.parallel = 4
	}
	if x.maxRetries <= 0 {
		x.maxRetries = 3
	}
	if x.unitTokens <= 0 {
		x.unitTokens = defaultUnitTokens
	}
	if len(x.entityTypes) == 0 {
		x.entityTypes = common.EntityTypes
	}
	return x
}
