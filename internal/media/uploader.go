package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"path"

	"github.com/google/uuid"
)

// ErrUploadFailed marks any failure of the media collaborator. A send that
// hits it must leave nothing persisted.
var ErrUploadFailed = errors.New("media upload failed")

// Uploader stores an image payload and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// NewUploader returns the S3 uploader when a bucket is configured, otherwise
// a disabled uploader that rejects every attach.
func NewUploader(ctx context.Context, bucket, region, endpoint string) Uploader {
	if bucket == "" {
		log.Printf("media uploads disabled: empty bucket")
		return disabledUploader{}
	}
	uploader, err := NewS3Uploader(ctx, bucket, region, endpoint)
	if err != nil {
		log.Printf("media uploads disabled: %v", err)
		return disabledUploader{}
	}
	log.Printf("media uploads enabled bucket=%s", bucket)
	return uploader
}

type disabledUploader struct{}

func (disabledUploader) Upload(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	return "", fmt.Errorf("%w: uploads disabled", ErrUploadFailed)
}

func objectKey(filename string) string {
	return "chat/" + uuid.NewString() + path.Ext(filename)
}

func publicURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, url.PathEscape(key))
}
