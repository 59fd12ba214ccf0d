package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

type fakeGetter struct {
	objects map[string]string
	calls   atomic.Int32
}

func (f *fakeGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls.Add(1)
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

func TestLoad(t *testing.T) {
	getter := &fakeGetter{objects: map[string]string{"docs/a.md": "# Title"}}
	l := NewLoaderWithClient("bucket", getter, 0)
	ref := loader.SourceRef{ID: "a", Path: "docs/a.md"}

	for range 3 {
		b, err := l.Load(context.Background(), ref)
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if string(b) != "# Title" {
			t.Fatalf("expected object body, got %q", b)
		}
	}
	if getter.calls.Load() != 1 {
		t.Fatalf("expected one GetObject call, got %d", getter.calls.Load())
	}
}

func TestLoadErrors(t *testing.T) {
	getter := &fakeGetter{objects: map[string]string{"big": strings.Repeat("x", 100)}}
	l := NewLoaderWithClient("bucket", getter, 10)

	if _, err := l.Load(context.Background(), loader.SourceRef{ID: "m", Path: "missing"}); err == nil {
		t.Fatal("expected error for missing key")
	}
	_, err := l.Load(context.Background(), loader.SourceRef{ID: "b", Path: "big"})
	if !loader.IsKind(err, loader.TooLarge) {
		t.Fatalf("expected TooLarge, got %v", err)
	}
}
