package query

import (
	"slices"
	"sync"
)

type TraceEventKind string

const (
	TraceEventVectorHits   TraceEventKind = "vector_hits"
	TraceEventNameSeeds    TraceEventKind = "name_seeds"
	TraceEventGraphReached TraceEventKind = "graph_reached"
	TraceEventReturned     TraceEventKind = "returned"
	TraceEventDegraded     TraceEventKind = "degraded"
)

// TraceEvent is an extensible event envelope for retrieval tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	IDs    []string
	Reason string
}

// Tracer is a sink for retrieval tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func record(t Tracer, kind TraceEventKind, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: kind, IDs: ids})
}

func recordDegraded(t Tracer, reason string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventDegraded, Reason: reason})
}

// QueryTrace collects which nodes a retrieval looked at and returned.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	vectorHits map[string]struct{}
	nameSeeds  map[string]struct{}
	reached    map[string]struct{}
	returned   []string
	degraded   string
}

type QueryTraceSnapshot struct {
	VectorHits     []string
	NameSeeds      []string
	GraphReached   []string
	Returned       []string
	DegradedReason string
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		vectorHits: make(map[string]struct{}),
		nameSeeds:  make(map[string]struct{}),
		reached:    make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	add := func(set map[string]struct{}) {
		for _, id := range event.IDs {
			if id != "" {
				set[id] = struct{}{}
			}
		}
	}

	switch event.Kind {
	case TraceEventVectorHits:
		add(t.vectorHits)
	case TraceEventNameSeeds:
		add(t.nameSeeds)
	case TraceEventGraphReached:
		add(t.reached)
	case TraceEventReturned:
		t.returned = append(t.returned[:0], event.IDs...)
	case TraceEventDegraded:
		t.degraded = event.Reason
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return QueryTraceSnapshot{
		VectorHits:     sortedKeys(t.vectorHits),
		NameSeeds:      sortedKeys(t.nameSeeds),
		GraphReached:   sortedKeys(t.reached),
		Returned:       slices.Clone(t.returned),
		DegradedReason: t.degraded,
	}
}
