package jsonlog

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestJSONLoggerKeyvals(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewWithCore(core)

	l.Info("[Ingest] Job done", "source_id", "doc-1", "blocks", 3)
	l.Debug("[Ingest] detail")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["source_id"] != "doc-1" {
		t.Fatalf("expected source_id doc-1, got %v", fields["source_id"])
	}
	if fields["blocks"] != int64(3) {
		t.Fatalf("expected blocks 3, got %v (%T)", fields["blocks"], fields["blocks"])
	}
}
