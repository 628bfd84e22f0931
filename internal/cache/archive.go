package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Archiver is the cold tier for evicted-but-unpinned audio bytes.
// Cache.Retrieve falls back to Fetch when the sqlite backend misses; the
// dispatcher's cache-hit check (Cache.Exists) does not consult it, so a
// fingerprint held only in the archive is synthesized again.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Archiver(client *s3.Client, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

func (a *S3Archiver) objectKey(key string) string {
	return a.prefix + key
}

func (a *S3Archiver) Archive(ctx context.Context, key string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("cache: archive %s to s3: %w", key, err)
	}
	return nil
}

// Fetch checks object presence with a cheap HeadObject before paying for
// a full GetObject body transfer; callers treat (nil, false, nil) as a
// cold-tier miss that should fall through to dispatcher re-enqueue.
func (a *S3Archiver) Fetch(ctx context.Context, key string) ([]byte, bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: head %s in s3: %w", key, err)
	}

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s from s3: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("cache: read %s from s3: %w", key, err)
	}
	return data, true, nil
}

var _ Archiver = (*S3Archiver)(nil)
