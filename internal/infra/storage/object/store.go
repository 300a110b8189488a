// Package object implements the worker's object-store layer on top of the
// MinIO client.
package object

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/teledash/teledash/internal/config"
	"github.com/teledash/teledash/internal/domain/chat"
	"github.com/teledash/teledash/pkg/common/logger"
)

// Store uploads and removes attachment files.
type Store struct {
	client *minio.Client
	log    *logger.Logger
}

// Connect creates a client and ensures every attachment bucket exists.
func Connect(ctx context.Context, cfg config.Storage, log *logger.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	store := &Store{client: client, log: log}
	if err := store.ensureBuckets(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureBuckets(ctx context.Context) error {
	for _, bucket := range chat.StorageBuckets() {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("checking bucket %q: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			// A concurrent worker may have created it first.
			if resp := minio.ToErrorResponse(err); resp.Code == "BucketAlreadyOwnedByYou" {
				continue
			}
			return fmt.Errorf("creating bucket %q: %w", bucket, err)
		}
		s.log.Info(ctx, "created storage bucket", "bucket", bucket)
	}
	return nil
}

// Upload stores the file at path under bucket/object.
func (s *Store) Upload(ctx context.Context, bucket, object, path, contentType string) error {
	_, err := s.client.FPutObject(ctx, bucket, object, path, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("uploading %s/%s: %w", bucket, object, err)
	}
	return nil
}

// Remove deletes bucket/object.
func (s *Store) Remove(ctx context.Context, bucket, object string) error {
	if err := s.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("removing %s/%s: %w", bucket, object, err)
	}
	return nil
}
