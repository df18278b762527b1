package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mohammed-shakir/vector-tile-cache/internal/cache"
	"github.com/mohammed-shakir/vector-tile-cache/internal/cache/s3store"
	"github.com/mohammed-shakir/vector-tile-cache/internal/core/config"
)

func roundTrip(t *testing.T, b *Backend) {
	t.Helper()
	ctx := context.Background()
	if err := b.Put(ctx, "osm/1/0/0.pbf", []byte("tile")); err != nil {
		t.Fatalf("%s put: %v", b.Name, err)
	}
	got, err := b.Get(ctx, "osm/1/0/0.pbf")
	if err != nil || string(got) != "tile" {
		t.Fatalf("%s get: %q %v", b.Name, got, err)
	}
	if err := b.Ping(ctx); err != nil {
		t.Fatalf("%s ping: %v", b.Name, err)
	}
}

func TestOpen_LocalBackends(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, config.CacheCfg{Backend: "memory", MemorySize: 8}, 0)
	if err != nil {
		t.Fatal(err)
	}
	roundTrip(t, mem)

	file, err := Open(ctx, config.CacheCfg{Backend: "file", Dir: t.TempDir()}, 0)
	if err != nil {
		t.Fatal(err)
	}
	roundTrip(t, file)

	none, err := Open(ctx, config.CacheCfg{Backend: "none"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	_ = none.Put(ctx, "k", []byte("v"))
	if _, err := none.Get(ctx, "k"); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("none backend must always miss, got %v", err)
	}
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := Open(context.Background(), config.CacheCfg{Backend: "redis", RedisAddr: mr.Addr(), RedisPrefix: "tiles:"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Close() }()
	roundTrip(t, b)
	if !mr.Exists("tiles:osm/1/0/0.pbf") {
		t.Fatal("prefix not applied")
	}
}

func TestOpen_RedisAuthAndDB(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("hunter2")

	cfg := config.CacheCfg{
		Backend:           "redis",
		RedisAddr:         mr.Addr(),
		RedisPrefix:       "tiles:",
		RedisDB:           2,
		RedisPoolSize:     4,
		RedisMinIdleConns: 1,
		RedisDialTimeout:  time.Second,
		RedisReadTimeout:  time.Second,
		RedisWriteTimeout: time.Second,
	}
	if _, err := Open(context.Background(), cfg, 0); err == nil {
		t.Fatal("open without password must fail the initial ping")
	}

	cfg.RedisPassword = "hunter2"
	b, err := Open(context.Background(), cfg, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Close() }()
	roundTrip(t, b)
	if !mr.DB(2).Exists("tiles:osm/1/0/0.pbf") {
		t.Fatal("tile not written to the configured database")
	}
	if mr.Exists("tiles:osm/1/0/0.pbf") {
		t.Fatal("tile leaked into database 0")
	}
}

// answers HeadBucket for one bucket; object calls are unused here
type headOnlyS3 struct {
	s3store.API
	bucket string
}

func (h headOnlyS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) != h.bucket {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Backend_PingsBucket(t *testing.T) {
	api := headOnlyS3{bucket: "tiles"}
	ok := s3Backend(s3store.NewWithAPI(api, s3store.Config{Bucket: "tiles"}))
	if err := ok.Ping(context.Background()); err != nil {
		t.Fatalf("reachable bucket: %v", err)
	}
	gone := s3Backend(s3store.NewWithAPI(api, s3store.Config{Bucket: "other"}))
	if err := gone.Ping(context.Background()); err == nil {
		t.Fatal("missing bucket must fail readiness")
	}
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, config.CacheCfg{Backend: "memcached"}, 0); err == nil {
		t.Fatal("unknown backend must fail")
	}
	if _, err := Open(ctx, config.CacheCfg{Backend: "s3"}, 0); err == nil {
		t.Fatal("s3 without bucket must fail")
	}
	if _, err := Open(ctx, config.CacheCfg{Backend: "file"}, 0); err == nil {
		t.Fatal("file without dir must fail")
	}
}
