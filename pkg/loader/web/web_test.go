package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

func TestLoadRecordsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<h1>Hello</h1>"))
	}))
	defer srv.Close()

	l := NewLoader(srv.Client(), 0)
	ref := loader.SourceRef{ID: "page", Path: srv.URL}
	b, err := l.Load(context.Background(), ref)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if string(b) != "<h1>Hello</h1>" {
		t.Fatalf("unexpected body %q", b)
	}
	if f, ok := l.Format(ref); !ok || f != loader.FormatHTML {
		t.Fatalf("expected html format, got %q (%v)", f, ok)
	}
}

func TestLoadLimitsSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer srv.Close()

	_, err := NewLoader(srv.Client(), 50).Load(context.Background(), loader.SourceRef{ID: "big", Path: srv.URL})
	if !loader.IsKind(err, loader.TooLarge) {
		t.Fatalf("expected TooLarge, got %v", err)
	}
}

func TestLoadRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := NewLoader(srv.Client(), 0).Load(context.Background(), loader.SourceRef{ID: "x", Path: srv.URL}); err == nil {
		t.Fatal("expected error for 404")
	}
}
