package main

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/govern/blobstore"
	minioblob "github.com/hupe1980/govern/blobstore/minio"
	s3blob "github.com/hupe1980/govern/blobstore/s3"
	"github.com/hupe1980/govern/export"
)

// newSink builds the configured export sink. A nil sink disables export.
// The returned cleanup function releases client resources.
func newSink(ctx context.Context, cfg ExportConfig) (export.Sink, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Sink {
	case "":
		return nil, noop, nil
	case "memory":
		return blobstore.NewMemoryStore(), noop, nil
	case "local":
		return blobstore.NewLocalStore(cfg.Local.Dir), noop, nil
	case "s3":
		var opts []s3blob.Option
		if cfg.S3.Prefix != "" {
			opts = append(opts, s3blob.WithPrefix(cfg.S3.Prefix))
		}
		if cfg.S3.Region != "" {
			opts = append(opts, s3blob.WithRegion(cfg.S3.Region))
		}
		store, err := s3blob.New(ctx, cfg.S3.Bucket, opts...)
		if err != nil {
			return nil, noop, fmt.Errorf("s3 sink: %w", err)
		}
		return store, noop, nil
	case "minio":
		client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.Secure,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("minio sink: %w", err)
		}
		return minioblob.NewStore(client, cfg.MinIO.Bucket, cfg.MinIO.Prefix), noop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("redis sink: %w", err)
		}
		return export.NewRedisSink(client, cfg.Redis.Prefix, cfg.Redis.TTL), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown export sink %q", cfg.Sink)
	}
}
