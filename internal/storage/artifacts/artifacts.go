// Package artifacts keeps the full normalized analysis of each run.
package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// InlinePrefix marks result refs for runs whose analysis was not uploaded.
const InlinePrefix = "inline:"

// Store saves an analysis and returns the reference recorded on the run.
type Store interface {
	Save(ctx context.Context, runID string, analysis coreprocessor.CanonicalAnalysis) (string, error)
}

// Config selects an object store. An empty endpoint disables uploads.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Inline records no artifact; the reference only names the run.
type Inline struct{}

func (Inline) Save(_ context.Context, runID string, _ coreprocessor.CanonicalAnalysis) (string, error) {
	return InlinePrefix + runID, nil
}

// MinioStore uploads analyses as JSON objects.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// New returns a MinioStore when an endpoint is configured, else Inline.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Endpoint == "" {
		return Inline{}, nil
	}
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioStore{client: cli, bucket: cfg.Bucket}, nil
}

// ObjectKey is where a run's analysis is stored.
func ObjectKey(runID string) string {
	return path.Join("runs", runID, "analysis.json")
}

func (s *MinioStore) Save(ctx context.Context, runID string, analysis coreprocessor.CanonicalAnalysis) (string, error) {
	data, err := json.Marshal(analysis)
	if err != nil {
		return "", err
	}
	key := ObjectKey(runID)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}
