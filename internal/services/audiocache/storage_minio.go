package audiocache

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type minioClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// MinioStorage implements StorageBackend on an S3-compatible bucket.
// A PUT is atomic on the object store, so readers never see partial objects.
type MinioStorage struct {
	client minioClient
	bucket string
	prefix string
}

// NewMinioStorage connects to endpoint and ensures bucket exists
func NewMinioStorage(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	return newMinioStorage(ctx, client, bucket)
}

func newMinioStorage(ctx context.Context, client minioClient, bucket string) (*MinioStorage, error) {
	ok, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, mapMinioErr(err)
	}
	if !ok {
		log.Info("Creating artifact bucket", "bucket", bucket)
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, mapMinioErr(err)
		}
	}
	return &MinioStorage{client: client, bucket: bucket}, nil
}

// WithPrefix returns a storage sharing the bucket whose object names all
// start with prefix, e.g. "generations/"
func (s *MinioStorage) WithPrefix(prefix string) *MinioStorage {
	return &MinioStorage{client: s.client, bucket: s.bucket, prefix: s.prefix + prefix}
}

func (s *MinioStorage) object(key string) string {
	return s.prefix + key
}

// Save uploads data under key
func (s *MinioStorage) Save(ctx context.Context, key string, data io.Reader, size int64) (string, error) {
	opts := minio.PutObjectOptions{ContentType: MimeType(strings.TrimPrefix(path.Ext(key), "."))}
	if _, err := s.client.PutObject(ctx, s.bucket, s.object(key), data, size, opts); err != nil {
		return "", mapMinioErr(err)
	}
	return s.objectPath(key), nil
}

// Load streams the object stored under key
func (s *MinioStorage) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	// GetObject is lazy; stat first so a missing key surfaces here
	if _, err := s.Stat(ctx, key); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.object(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	return obj, nil
}

// Stat returns object metadata
func (s *MinioStorage) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.object(key), minio.StatObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	return &ObjectInfo{
		Key:     key,
		Path:    s.objectPath(key),
		Size:    info.Size,
		ModTime: info.LastModified,
	}, nil
}

func (s *MinioStorage) objectPath(key string) string {
	return "s3://" + s.bucket + "/" + s.object(key)
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey":
		return ErrObjectNotFound
	case "NoSuchBucket":
		return fmt.Errorf("bucket missing: %w", err)
	default:
		return fmt.Errorf("object storage: %w", err)
	}
}
