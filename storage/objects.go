package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/leadrelay/leadrelay/lead"
)

// S3API is the slice of the S3 client the object store needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// ObjectStorage reads and deletes lead attachments in one bucket. The upload
// side writes a "name" metadata entry carrying the original file name; objects
// uploaded without it fall back to the key.
type ObjectStorage struct {
	client S3API
	bucket string
}

// NewObjectStorage builds an ObjectStorage for the given bucket.
func NewObjectStorage(client S3API, bucket string) *ObjectStorage {
	return &ObjectStorage{client: client, bucket: bucket}
}

// GetObject opens the object body and returns its display metadata. The caller
// owns the returned reader.
func (o *ObjectStorage) GetObject(ctx context.Context, key string) (io.ReadCloser, lead.ObjectInfo, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, lead.ObjectInfo{}, fmt.Errorf("get object %s: %w", key, err)
	}
	info := lead.ObjectInfo{
		DisplayName: out.Metadata["name"],
		ContentType: aws.ToString(out.ContentType),
	}
	return out.Body, info, nil
}

// DeleteObject removes the object from the bucket.
func (o *ObjectStorage) DeleteObject(ctx context.Context, key string) error {
	_, err := o.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
