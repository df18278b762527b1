// Package s3store keeps encoded tiles as objects in an S3 compatible bucket.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mohammed-shakir/vector-tile-cache/internal/cache"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/observability"
	"github.com/mohammed-shakir/vector-tile-cache/internal/mvt"
)

const backend = "s3"

// API is the subset of *s3.Client the store uses.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type Config struct {
	Bucket string
	Prefix string
	Region string
	// custom endpoint for MinIO, LocalStack and friends
	Endpoint     string
	UsePathStyle bool
	// Cache-Control stored on each object
	CacheControl string
}

type Store struct {
	api    API
	bucket string
	prefix string
	cc     string
}

var _ cache.Interface = (*Store)(nil)

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3store: bucket is required")
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3store: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	return NewWithAPI(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

func NewWithAPI(api API, cfg Config) *Store {
	return &Store{api: api, bucket: cfg.Bucket, prefix: cfg.Prefix, cc: cfg.CacheControl}
}

func (s *Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// Ping checks that the bucket exists and is reachable with the current credentials.
func (s *Store) Ping(ctx context.Context) error {
	start := time.Now()
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	observability.ObserveCacheOp(backend, "ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("s3 head bucket %q: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			observability.ObserveCacheOp(backend, "get", nil, time.Since(start).Seconds())
			return nil, cache.ErrMiss
		}
		observability.ObserveCacheOp(backend, "get", err, time.Since(start).Seconds())
		return nil, fmt.Errorf("s3 get %q: %w", key, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	observability.ObserveCacheOp(backend, "get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("s3 read %q: %w", key, err)
	}
	return b, nil
}

func (s *Store) Put(ctx context.Context, key string, val []byte) error {
	start := time.Now()
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(val),
		ContentLength: aws.Int64(int64(len(val))),
		ContentType:   aws.String(mvt.ContentType),
	}
	if s.cc != "" {
		in.CacheControl = aws.String(s.cc)
	}
	_, err := s.api.PutObject(ctx, in)
	observability.ObserveCacheOp(backend, "put", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("s3 put %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	observability.ObserveCacheOp(backend, "delete", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("s3 delete %q: %w", key, err)
	}
	return nil
}
