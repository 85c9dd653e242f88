package app

import (
	"context"
	"fmt"
	"log"

	"respec/internal/dataset"
	"respec/internal/gateway/config"
)

// openDatasetSource picks the configured origin and wraps it in the
// read-through cache. The returned closer releases the origin.
func openDatasetSource(ctx context.Context, cfg *config.Config) (*dataset.CachedSource, func() error, error) {
	origin, closer, err := chooseDatasetOrigin(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if origin == nil {
		return nil, nil, fmt.Errorf("dataset origin source is nil")
	}
	cacheCfg := dataset.DefaultCacheConfig()
	cacheCfg.BlobTTL = cfg.Dataset.CacheTTL
	return dataset.NewCachedSource(origin, cacheCfg), closer, nil
}

func chooseDatasetOrigin(ctx context.Context, cfg *config.Config) (dataset.Source, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Dataset.Source {
	case config.DatasetSourcePostgres:
		src, err := dataset.NewPostgresSource(ctx, cfg.Dataset.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize dataset postgres source: %w", err)
		}
		log.Printf("dataset source: postgres")
		return src, src.Close, nil
	case config.DatasetSourceS3:
		s3Cfg := dataset.S3Config{
			Endpoint:  cfg.Dataset.S3.Endpoint,
			Region:    cfg.Dataset.S3.Region,
			AccessKey: cfg.Dataset.S3.AccessKey,
			SecretKey: cfg.Dataset.S3.SecretKey,
			Bucket:    cfg.Dataset.S3.Bucket,
			Prefix:    cfg.Dataset.S3.Prefix,
			UseSSL:    cfg.Dataset.S3.UseSSL,
		}
		src, err := dataset.NewS3Source(s3Cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize dataset s3 source: %w", err)
		}
		log.Printf("dataset source: s3 bucket=%s endpoint=%s", s3Cfg.Bucket, s3Cfg.Endpoint)
		return src, noop, nil
	case config.DatasetSourceDisk:
		log.Printf("dataset source: disk dir=%s", cfg.Dataset.Dir)
		return dataset.NewDiskSource(cfg.Dataset.Dir), noop, nil
	}
	return nil, nil, fmt.Errorf("unsupported dataset source %q", cfg.Dataset.Source)
}

// OpenDatasetOrigin returns the configured origin without the cache, for
// administrative uploads and listings.
func OpenDatasetOrigin(ctx context.Context, cfg *config.Config) (dataset.Source, dataset.Writer, func() error, error) {
	origin, closer, err := chooseDatasetOrigin(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	w, ok := origin.(dataset.Writer)
	if !ok {
		_ = closer()
		return nil, nil, nil, fmt.Errorf("dataset source %q is read-only", cfg.Dataset.Source)
	}
	return origin, w, closer, nil
}
