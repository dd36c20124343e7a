// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package objstore is the driver for the S3-compatible object store that
// holds the source documents. It lists, stats, and fetches objects and
// generates presigned URLs; it never mutates the store.
package objstore

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kadirpekel/docsync/pkg/config"
)

// Object describes one object in the store.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// RawDocument is an in-memory snapshot of one object, created at fetch time
// and discarded after extraction.
type RawDocument struct {
	Key          string
	Bytes        []byte
	ContentType  string
	Size         int64
	PresignedURL string
}

// Store is the read-only view of the object store the pipeline needs.
type Store interface {
	// List returns all objects under prefix. Pagination is handled
	// internally; the result is the full listing.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Stat returns object metadata. found is false when the key does not
	// exist; err is reserved for transport failures.
	Stat(ctx context.Context, key string) (obj Object, found bool, err error)

	// Get downloads the object and generates a presigned URL for it.
	Get(ctx context.Context, key string) (*RawDocument, error)
}

// MinioStore implements Store against an S3-compatible endpoint.
type MinioStore struct {
	client        *minio.Client
	bucket        string
	getTimeout    time.Duration
	presignExpiry time.Duration
}

// New creates a MinioStore from configuration.
func New(cfg config.StoreConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, NewStoreError("connect", "", "failed to create client", err)
	}

	return &MinioStore{
		client:        client,
		bucket:        cfg.Bucket,
		getTimeout:    cfg.GetTimeout,
		presignExpiry: cfg.PresignExpiry,
	}, nil
}

// List walks the bucket under prefix. The underlying client paginates with
// continuation tokens; cancellation stops the walk mid-listing.
func (s *MinioStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object

	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, NewStoreError("list", prefix, "listing failed", info.Err)
		}

		// Directory markers carry no content
		if info.Size == 0 && len(info.Key) > 0 && info.Key[len(info.Key)-1] == '/' {
			continue
		}

		objects = append(objects, Object{
			Key:          info.Key,
			Size:         info.Size,
			LastModified: info.LastModified,
			ContentType:  info.ContentType,
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, NewStoreError("list", prefix, "listing cancelled", err)
	}

	slog.Debug("Listed objects", "prefix", prefix, "count", len(objects))
	return objects, nil
}

// Stat fetches object metadata without downloading the body.
func (s *MinioStore) Stat(ctx context.Context, key string) (Object, bool, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return Object{}, false, nil
		}
		return Object{}, false, NewStoreError("stat", key, "stat failed", err)
	}

	return Object{
		Key:          info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
	}, true, nil
}

// Get downloads the full object body and attaches a presigned URL so that
// downstream consumers can reference the source without store credentials.
func (s *MinioStore) Get(ctx context.Context, key string) (*RawDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, s.getTimeout)
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, NewStoreError("get", key, "get failed", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, NewStoreError("get", key, "object not found", ErrNotFound)
		}
		return nil, NewStoreError("get", key, "read failed", err)
	}

	info, err := obj.Stat()
	if err != nil {
		if isNotFound(err) {
			return nil, NewStoreError("get", key, "object not found", ErrNotFound)
		}
		return nil, NewStoreError("get", key, "stat failed", err)
	}

	presigned, err := s.Presign(ctx, key)
	if err != nil {
		// Presigning failure should not block ingestion
		slog.Warn("Failed to presign object URL", "key", key, "error", err)
		presigned = ""
	}

	return &RawDocument{
		Key:          key,
		Bytes:        data,
		ContentType:  info.ContentType,
		Size:         info.Size,
		PresignedURL: presigned,
	}, nil
}

// Presign generates a time-limited GET URL for the object.
func (s *MinioStore) Presign(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignExpiry, url.Values{})
	if err != nil {
		return "", NewStoreError("presign", key, "presign failed", err)
	}
	return u.String(), nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == 404
}

var _ Store = (*MinioStore)(nil)
