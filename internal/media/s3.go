package media

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Uploader stores chat images in an S3 (or S3-compatible) bucket.
type S3Uploader struct {
	uploader *manager.Uploader
	bucket   string
	region   string
}

// NewS3Uploader constructs an uploader against the configured bucket. A
// non-empty endpoint points the client at an S3-compatible store like MinIO.
func NewS3Uploader(ctx context.Context, bucket, region, endpoint string) (*S3Uploader, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		region:   region,
	}, nil
}

// Upload writes the payload under a fresh object key and returns the public URL.
func (u *S3Uploader) Upload(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	key := objectKey(filename)
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return publicURL(u.bucket, u.region, key), nil
}
