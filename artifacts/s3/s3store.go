package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ethpandaops/zkrelay/artifacts/types"
	dtypes "github.com/ethpandaops/zkrelay/types"
)

type S3Engine struct {
	client     *minio.Client
	bucket     string
	pathPrefix string
}

func NewS3Engine(config dtypes.S3ArtifactsConfig) (types.ArtifactEngine, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.Secure,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	// Check if bucket exists
	exists, err := client.BucketExists(context.Background(), config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", config.Bucket)
	}

	return &S3Engine{
		client:     client,
		bucket:     config.Bucket,
		pathPrefix: strings.TrimPrefix(config.Path, "/"),
	}, nil
}

func (e *S3Engine) Close() error {
	return nil
}

func (e *S3Engine) getObjectKey(name string) string {
	return objectKey(e.pathPrefix, name)
}

func objectKey(prefix string, name string) string {
	return path.Join(prefix, strings.TrimPrefix(name, "/"))
}

func (e *S3Engine) Get(ctx context.Context, name string) ([]byte, error) {
	key := e.getObjectKey(name)

	obj, err := e.client.GetObject(ctx, e.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, e.wrapError(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, e.wrapError(key, err)
	}

	return data, nil
}

func (e *S3Engine) Put(ctx context.Context, name string, data []byte) error {
	key := e.getObjectKey(name)

	// single PutObject calls replace the object atomically
	_, err := e.client.PutObject(ctx, e.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/cbor",
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upload %v: %v", types.ErrIO, key, err)
	}

	return nil
}

func (e *S3Engine) wrapError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: s3://%v/%v", types.ErrNotFound, e.bucket, key)
	}
	return fmt.Errorf("%w: failed to get object %v: %v", types.ErrIO, key, err)
}
