// Package storage provides the shared object-storage bucket handle used by
// the Parquet sink, the DLQ writer, and the commit pipeline. It wraps
// github.com/thanos-io/objstore as a plain S3-compatible bucket so both AWS S3
// and Cloudflare R2 work unmodified.
package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/providers/s3"
)

// Config describes the object-storage backend. R2 is just S3 with a
// per-account endpoint and path-style addressing, so one code path serves
// both backends.
type Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Insecure        bool
	PathStyle       bool
}

// NewBucket constructs the process-global, shared-immutable object-storage
// client handle ("initialized once at process start").
func NewBucket(cfg Config) (objstore.Bucket, error) {
	s3Cfg := s3.Config{
		Bucket:    cfg.Bucket,
		Endpoint:  cfg.Endpoint,
		Region:    cfg.Region,
		Insecure:  cfg.Insecure,
		AccessKey: cfg.AccessKeyID,
		SecretKey: cfg.SecretAccessKey,
	}
	if cfg.PathStyle {
		s3Cfg.BucketLookupType = s3.PathLookup
	}
	bkt, err := s3.NewBucketWithConfig(nil, s3Cfg, "otlp2parquet", nil)
	if err != nil {
		return nil, fmt.Errorf("storage: construct bucket: %w", err)
	}
	return bkt, nil
}

// PutBytes is a small convenience wrapper that uploads an in-memory payload
// under a given key.
func PutBytes(ctx context.Context, bkt objstore.Bucket, name string, data []byte) error {
	return bkt.Upload(ctx, name, bytes.NewReader(data))
}
