package objstore

import (
	"context"
	"io"

	"opsdesk/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("objstore",
	fx.Provide(NewStore),
	fx.Invoke(checkBucket),
)

// Store is the subset of object storage operations the attachment workflow
// needs; mockable in tests.
type Store interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error)
	Remove(ctx context.Context, objectName string) error
}

type minioStore struct {
	client *minio.Client
	bucket string
}

// NewStore builds a minio-backed Store, or returns a nil Store when no
// endpoint is configured. Consumers treat a nil Store as "attachments
// disabled" rather than a startup failure.
func NewStore(c *config.Config) (Store, error) {
	if c.Storage.Endpoint == "" {
		zap.L().Info("object storage not configured, attachments disabled")
		return nil, nil
	}

	client, err := minio.New(c.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Storage.AccessKey, c.Storage.SecretKey, ""),
		Secure: c.Storage.Secure,
	})
	if err != nil {
		zap.L().Error("failed to create object storage client", zap.Error(err))
		return nil, err
	}

	return &minioStore{client: client, bucket: c.Storage.BucketName}, nil
}

func checkBucket(lc fx.Lifecycle, store Store, c *config.Config) {
	s, ok := store.(*minioStore)
	if !ok {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			exists, err := s.client.BucketExists(ctx, s.bucket)
			if err != nil {
				zap.L().Warn("failed to check attachment bucket", zap.String("bucket", s.bucket), zap.Error(err))
				return nil
			}
			zap.L().Info("object storage client initialized", zap.String("endpoint", c.Storage.Endpoint), zap.Bool("bucketExists", exists))
			return nil
		},
	})
}

func (s *minioStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error) {
	info, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return info.Key, nil
}

func (s *minioStore) Remove(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
}
