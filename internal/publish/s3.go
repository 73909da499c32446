package publish

import (
	"context"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"renderpipe/internal/config"
	"renderpipe/internal/services"
)

// S3Backend uploads through the S3 upload manager, which switches to
// multipart for large renders.
type S3Backend struct {
	uploader *s3manager.Uploader
}

// NewS3Backend creates a session for cfg. A custom endpoint implies
// path-style addressing so S3-compatible stores work.
func NewS3Backend(cfg config.Publish) (*S3Backend, error) {
	awsCfg := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		awsCfg.Endpoint = aws.String(endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
		awsCfg.DisableSSL = aws.Bool(!cfg.UseSSL)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "publish", "s3 session", "", err)
	}
	return &S3Backend{uploader: s3manager.NewUploader(sess)}, nil
}

func (b *S3Backend) Name() string { return "s3" }

// Put streams localPath to bucket/key.
func (b *S3Backend) Put(ctx context.Context, bucket, key, localPath, contentType string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	out, err := b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}
	return out.Location, nil
}
