package capability

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	pkgerrors "github.com/pkg/errors"
)

// s3API is the subset of *s3.Client this package depends on, narrowed so
// tests can substitute a fake without pulling in the SDK's request
// machinery -- the same interface-segregation the teacher applies to its
// GitHub client.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3ObjectStore implements ObjectStore over an S3-compatible bucket.
type S3ObjectStore struct {
	client    s3API
	bucket    string
	publicURL string // base URL prefix used to build the returned public URL, e.g. a CDN domain.
}

// NewS3ObjectStore builds an ObjectStore backed by an S3-compatible client.
// publicURLBase is prefixed to the object key to form the URL handed back
// from Put (e.g. a CloudFront or bucket website domain).
func NewS3ObjectStore(client *s3.Client, bucket, publicURLBase string) *S3ObjectStore {
	return &S3ObjectStore{client: client, bucket: bucket, publicURL: publicURLBase}
}

func (s *S3ObjectStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return "", pkgerrors.Wrap(joinStorageErr(err), "put object")
	}
	return fmt.Sprintf("%s/%s", s.publicURL, key), nil
}

func (s *S3ObjectStore) BucketExists(ctx context.Context) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return false, joinStorageErr(err)
	}
	return true, nil
}

func joinStorageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
