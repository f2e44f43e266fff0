package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// ObjectPutter is the part of manager.Uploader used here.
type ObjectPutter interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Uploader pushes finished downloads to a bucket prefix.
type S3Uploader struct {
	uploader ObjectPutter
	bucket   string
	prefix   string
}

// ParseS3URL splits s3://bucket/prefix into its bucket and key parts.
func ParseS3URL(rawURL string) (string, string, error) {
	if !strings.HasPrefix(rawURL, "s3://") {
		return "", "", fmt.Errorf("not an s3 url: %q", rawURL)
	}
	parts := strings.SplitN(rawURL[len("s3://"):], "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("missing bucket in %q", rawURL)
	}
	if len(parts) < 2 {
		return parts[0], "", nil
	}
	return parts[0], parts[1], nil
}

func GetS3Client(ctx context.Context) (*s3.Client, error) {
	profile := os.Getenv("AWS_PROFILE")
	if profile == "" {
		profile = "default"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithSharedConfigProfile(profile), config.WithRetryMode("adaptive"))
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.DisableLogOutputChecksumValidationSkipped = true
	}), nil
}

// NewS3Uploader builds an uploader for target (s3://bucket/prefix) from the
// default AWS credential chain.
func NewS3Uploader(ctx context.Context, target string) (*S3Uploader, error) {
	bucket, prefix, err := ParseS3URL(target)
	if err != nil {
		return nil, err
	}
	client, err := GetS3Client(ctx)
	if err != nil {
		return nil, err
	}
	return NewS3UploaderWith(manager.NewUploader(client), bucket, prefix), nil
}

func NewS3UploaderWith(uploader ObjectPutter, bucket, prefix string) *S3Uploader {
	return &S3Uploader{uploader: uploader, bucket: bucket, prefix: prefix}
}

// ObjectKey is the key a local file is stored under. A prefix ending in "/"
// (or empty) is treated as a folder; anything else is used as the full key.
func (u *S3Uploader) ObjectKey(localPath string) string {
	base := filepath.Base(localPath)
	if u.prefix == "" {
		return base
	}
	if strings.HasSuffix(u.prefix, "/") {
		return path.Join(u.prefix, base)
	}
	return u.prefix
}

// Upload sends localPath to the bucket and returns the resulting s3:// URL.
func (u *S3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	key := u.ObjectKey(localPath)
	log.Debug().Str("op", "storage/s3").Str("bucket", u.bucket).Str("key", key).Msg("Uploading")
	if _, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return "", fmt.Errorf("upload to s3://%s/%s: %w", u.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
