package publish

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"renderpipe/internal/config"
	"renderpipe/internal/services"
)

// MinioBackend uploads through a minio client.
type MinioBackend struct {
	client *minio.Client
	scheme string
}

// NewMinioBackend creates a client for cfg.Endpoint with static credentials.
func NewMinioBackend(cfg config.Publish) (*MinioBackend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "publish", "minio client", cfg.Endpoint, err)
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return &MinioBackend{client: client, scheme: scheme}, nil
}

func (b *MinioBackend) Name() string { return "minio" }

// Put uploads localPath with FPutObject.
func (b *MinioBackend) Put(ctx context.Context, bucket, key, localPath, contentType string) (string, error) {
	if _, err := b.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s://%s/%s/%s", b.scheme, b.client.EndpointURL().Host, bucket, key), nil
}
