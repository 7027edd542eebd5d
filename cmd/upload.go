package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

var ErrUpload = errors.New("failed to upload file")

// Uploader copies a finished partition file to object storage
type Uploader interface {
	Upload(ctx context.Context, key, path, contentType string) error
}

// S3Uploader uploads files to an S3-compatible bucket
type S3Uploader struct {
	uploader s3manageriface.UploaderAPI
	bucket   string
}

// NewS3Uploader creates an uploader from the S3 settings
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	return &S3Uploader{
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.Bucket,
	}, nil
}

// Upload streams the file at path to key
func (u *S3Uploader) Upload(ctx context.Context, key, path, contentType string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}
	defer file.Close()

	_, err = u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%w to s3://%s/%s: %w", ErrUpload, u.bucket, key, err)
	}
	return nil
}
