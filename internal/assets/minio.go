// Package assets stores uploaded files in object storage and probes image
// dimensions at upload time, so rendering never has to touch the asset.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Dimensions are the intrinsic pixel dimensions of an uploaded image.
type Dimensions struct {
	Width  int
	Height int
}

// UploadResult describes a stored asset.
type UploadResult struct {
	Key        string
	URL        string
	Dimensions *Dimensions
}

// Store writes assets to a MinIO (or any S3-compatible) bucket.
type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

func NewStore(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// Upload stores bytes under key and returns the public URL. Image payloads
// additionally get their intrinsic dimensions probed, which the editor
// writes onto the image node's attrs at insertion time.
func (s *Store) Upload(ctx context.Context, key string, data []byte, contentType string) (UploadResult, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("put object %s: %w", key, err)
	}

	result := UploadResult{
		Key: key,
		URL: s.publicURL + "/" + key,
	}
	if strings.HasPrefix(contentType, "image/") {
		if dims, ok := ProbeDimensions(data); ok {
			result.Dimensions = &dims
		}
	}
	return result, nil
}

// ProbeDimensions decodes just the image header. A payload that is not a
// recognized image format reports ok=false rather than an error; assets
// that are not images simply have no dimensions.
func ProbeDimensions(data []byte) (Dimensions, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Dimensions{}, false
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height}, true
}
