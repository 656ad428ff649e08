package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the AWS SDK v2 S3 client used by S3Backend.
// Narrowing to an interface keeps the backend testable without a live
// bucket and matches the SDK's own client shape.
type S3API interface {
	manager.DownloadAPIClient
	manager.UploadAPIClient
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Backend is the one cloud-specific ObjectStore Backend the core
// wires directly (spec §9 keeps provider specificity behind the
// Backend interface; S3 is the reference implementation). Uploads and
// downloads go through the SDK's manager package so large payloads are
// transferred in parts without the caller managing multipart state.
type S3Backend struct {
	client S3API
}

// NewS3Backend constructs an S3Backend over an existing S3 client.
func NewS3Backend(client S3API) *S3Backend {
	return &S3Backend{client: client}
}

// Put uploads data to the given bucket/key, using multipart upload
// transparently for large payloads.
func (b *S3Backend) Put(ctx context.Context, bucket, key string, data []byte) error {
	uploader := manager.NewUploader(b.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("objectstore: s3 put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Get downloads the object at bucket/key, returning ErrNotFound if it
// does not exist.
func (b *S3Backend) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	downloader := manager.NewDownloader(b.client)
	_, err := downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objectstore: s3 get %s/%s: %w", bucket, key, err)
	}
	return buf.Bytes(), nil
}

// Delete removes the object at bucket/key.
func (b *S3Backend) Delete(ctx context.Context, bucket, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("objectstore: s3 delete %s/%s: %w", bucket, key, err)
	}
	return nil
}
