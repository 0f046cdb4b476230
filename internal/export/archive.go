package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive stores export artifacts in an S3-compatible bucket so that a
// rendered document can be fetched again without re-running Chrome.
type Archive struct {
	client *minio.Client
	bucket string
}

// NewArchive connects to the object store and creates the bucket if it
// does not exist.
func NewArchive(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Archive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
	}

	return &Archive{client: client, bucket: bucket}, nil
}

// Put stores an artifact under the ref it was exported from, replacing
// any previous artifact with the same filename.
func (a *Archive) Put(ctx context.Context, refID uuid.UUID, res *Result) (string, error) {
	key := fmt.Sprintf("%s/%s", refID, res.Filename)
	_, err := a.client.PutObject(ctx, a.bucket, key,
		bytes.NewReader(res.Data), int64(len(res.Data)),
		minio.PutObjectOptions{ContentType: res.MimeType})
	if err != nil {
		return "", fmt.Errorf("store artifact %s: %w", key, err)
	}
	return key, nil
}

// Get retrieves a previously stored artifact.
func (a *Archive) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch artifact %s: %w", key, err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	return buf.Bytes(), nil
}
