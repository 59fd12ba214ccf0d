package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

// ObjectGetter is the subset of the S3 client used by Loader.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader reads sources from an S3 bucket. SourceRef.Path is the object key.
type Loader struct {
	bucket   string
	client   ObjectGetter
	maxBytes int64
	cache    *loader.Cache
}

// NewLoaderWithClient creates a Loader around an existing client, which is
// useful for custom middleware or credentials.
func NewLoaderWithClient(bucket string, client ObjectGetter, maxBytes int64) *Loader {
	return &Loader{
		bucket:   bucket,
		client:   client,
		maxBytes: maxBytes,
		cache:    loader.NewCache(),
	}
}

// NewLoaderParams configures NewLoader. Endpoint allows S3-compatible
// storage such as MinIO.
type NewLoaderParams struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	MaxBytes  int64
}

// NewLoader creates a Loader with static credentials.
func NewLoader(ctx context.Context, params NewLoaderParams) (*Loader, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(params.Region),
		config.WithBaseEndpoint(params.Endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return NewLoaderWithClient(params.Bucket, client, params.MaxBytes), nil
}

// Load fetches the object at ref.Path.
func (l *Loader) Load(ctx context.Context, ref loader.SourceRef) ([]byte, error) {
	return l.cache.Load(loader.CacheKey(ref), func() ([]byte, error) {
		out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(ref.Path),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get s3://%s/%s: %w", l.bucket, ref.Path, err)
		}
		defer out.Body.Close()

		if l.maxBytes > 0 && out.ContentLength != nil && *out.ContentLength > l.maxBytes {
			return nil, &loader.ParseError{
				Kind: loader.TooLarge,
				Err:  fmt.Errorf("object has %d bytes, limit is %d", *out.ContentLength, l.maxBytes),
			}
		}

		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, out.Body); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}
