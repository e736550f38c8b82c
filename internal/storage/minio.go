package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/models"
)

// MinIOStore archives enrollment photos and mark snapshots. Nothing in the
// decision path reads from it; losing the bucket loses audit imagery only.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// PutEnrollmentImage stores one of the photos an identity was enrolled from
// and returns the object key.
func (s *MinIOStore) PutEnrollmentImage(ctx context.Context, kind models.RegistryKind, id string, seq int, data []byte) (string, error) {
	key := fmt.Sprintf("enroll/%s/%s/%d.jpg", kind, id, seq)
	if err := s.putObject(ctx, key, data, "image/jpeg"); err != nil {
		return "", err
	}
	return key, nil
}

// PutMarkSnapshot stores the frame an attendance decision was made from.
func (s *MinIOStore) PutMarkSnapshot(ctx context.Context, subjectID string, at time.Time, data []byte) (string, error) {
	key := fmt.Sprintf("marks/%s/%s/%s.jpg",
		at.Format("2006-01-02"), subjectID, at.Format("150405.000"))
	if err := s.putObject(ctx, key, data, "image/jpeg"); err != nil {
		return "", err
	}
	return key, nil
}

func (s *MinIOStore) putObject(ctx context.Context, key string, data []byte, contentType string) error {
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// GetObject retrieves archived imagery by key.
func (s *MinIOStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// DeleteIdentityImages removes every enrollment photo stored for an identity.
// Called when the identity is revoked.
func (s *MinIOStore) DeleteIdentityImages(ctx context.Context, kind models.RegistryKind, id string) error {
	prefix := fmt.Sprintf("enroll/%s/%s/", kind, id)

	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err == nil {
				objectsCh <- obj
			}
		}
	}()

	for result := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("delete object %s: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}

// Ping checks MinIO connectivity.
func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
