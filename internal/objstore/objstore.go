// Package objstore wraps the S3-compatible object store used for user
// uploads and generated podcast audio. Addressing is path-style so MinIO
// and on-prem stores work unchanged.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fylr-ai/fylr/internal/config"
)

// Client accesses the uploads and podcasts buckets.
type Client struct {
	mc       *minio.Client
	uploads  string
	podcasts string
}

// New builds a client from the S3 config block.
func New(cfg config.S3) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: create client: %w", err)
	}
	return &Client{
		mc:       mc,
		uploads:  cfg.UploadsBucket,
		podcasts: cfg.PodcastsBucket,
	}, nil
}

// FetchUserFile reads a complete uploaded object from the uploads bucket.
func (c *Client) FetchUserFile(ctx context.Context, key string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, c.uploads, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("objstore: get %s/%s: %w", c.uploads, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("objstore: read %s/%s: %w", c.uploads, key, err)
	}
	return data, nil
}

// UploadPodcast writes generated audio to the podcasts bucket under key and
// returns the key.
func (c *Client) UploadPodcast(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := c.mc.PutObject(ctx, c.podcasts, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("objstore: put %s/%s: %w", c.podcasts, key, err)
	}
	return key, nil
}
