package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// S3Config configures an S3-compatible store (AWS S3 or MinIO).
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional custom endpoint, e.g. MinIO
	PathStyle bool
	AccessKey string // optional; default credential chain otherwise
	SecretKey string
	Timeout   time.Duration
}

// S3 fetches documents from one default bucket. References may be bare keys
// or s3://bucket/key URLs naming another bucket.
type S3 struct {
	client  *s3.Client
	bucket  string
	timeout time.Duration
}

// NewS3 creates an S3 store from cfg.
func NewS3(ctx context.Context, cfg S3Config, optFns ...func(*s3.Options)) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("objectstore: s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "objectstore: load aws config")
	}
	opts := append([]func(*s3.Options){func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}}, optFns...)
	return &S3{
		client:  s3.NewFromConfig(awsCfg, opts...),
		bucket:  cfg.Bucket,
		timeout: cfg.Timeout,
	}, nil
}

// Fetch implements Store.
func (s *S3) Fetch(ctx context.Context, ref string) ([]byte, error) {
	return s.get(ctx, ref, 0)
}

// FetchPrefix implements Store using a ranged GET.
func (s *S3) FetchPrefix(ctx context.Context, ref string, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.get(ctx, ref, n)
}

func (s *S3) get(ctx context.Context, ref string, n int) ([]byte, error) {
	bucket, key := s.locate(ref)
	if key == "" {
		return nil, eris.Wrapf(model.ErrSourceUnreadable, "objectstore: empty key in %q", ref)
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	input := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if n > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=0-%d", n-1))
	}
	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, eris.Wrapf(model.ErrSourceUnreadable, "objectstore: get s3://%s/%s: %v", bucket, key, err)
	}
	defer out.Body.Close() //nolint:errcheck

	var r io.Reader = out.Body
	if n > 0 {
		r = io.LimitReader(out.Body, int64(n))
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(model.ErrSourceUnreadable, "objectstore: read s3://%s/%s: %v", bucket, key, err)
	}
	return data, nil
}

func (s *S3) locate(ref string) (bucket, key string) {
	if rest, ok := strings.CutPrefix(ref, "s3://"); ok {
		bucket, key, _ = strings.Cut(rest, "/")
		return bucket, key
	}
	return s.bucket, strings.TrimPrefix(ref, "/")
}
