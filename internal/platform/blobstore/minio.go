package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// User metadata keys stored alongside each object.
const (
	metaFileName  = "file-name"
	metaOwnerID   = "owner-id"
	metaCategory  = "category"
	metaHash      = "sha256"
	metaCreatedBy = "created-by"
	metaCreatedAt = "created-at"
)

// MinioBlobStore implements BlobStore on MinIO/S3 compatible storage. Blob IDs
// are object keys.
type MinioBlobStore struct {
	client *minio.Client
	bucket string
}

// NewMinioBlobStore connects to MinIO and ensures the bucket exists.
func NewMinioBlobStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioBlobStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioBlobStore{client: client, bucket: bucket}, nil
}

// objectKey groups objects by category so a bucket listing stays navigable.
func objectKey(category, id string) string {
	if category == "" {
		category = "other"
	}
	return category + "/" + id
}

func (m *MinioBlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if err := validate(&meta); err != nil {
		return nil, err
	}
	data, hash, err := readLimited(content)
	if err != nil {
		return nil, err
	}

	meta.ID = objectKey(meta.Category, uuid.New().String())
	meta.Size = int64(len(data))
	meta.Hash = hash
	meta.CreatedAt = time.Now().UTC()

	_, err = m.client.PutObject(ctx, m.bucket, meta.ID, bytes.NewReader(data), meta.Size, minio.PutObjectOptions{
		ContentType:  meta.ContentType,
		UserMetadata: toUserMetadata(meta),
	})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}
	return &meta, nil
}

func (m *MinioBlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	meta, err := m.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get object: %w", err)
	}
	return obj, meta, nil
}

func (m *MinioBlobStore) Delete(ctx context.Context, id string) error {
	if _, err := m.GetMetadata(ctx, id); err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, m.bucket, id, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (m *MinioBlobStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	info, err := m.client.StatObject(ctx, m.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}
	meta := fromUserMetadata(info.UserMetadata)
	meta.ID = id
	meta.ContentType = info.ContentType
	meta.Size = info.Size
	return &meta, nil
}

// PresignGet returns a time-limited download URL for id.
func (m *MinioBlobStore) PresignGet(ctx context.Context, id string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, id, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return u.String(), nil
}

func toUserMetadata(meta BlobMetadata) map[string]string {
	return map[string]string{
		metaFileName:  meta.FileName,
		metaOwnerID:   meta.OwnerID,
		metaCategory:  meta.Category,
		metaHash:      meta.Hash,
		metaCreatedBy: meta.CreatedBy,
		metaCreatedAt: strconv.FormatInt(meta.CreatedAt.Unix(), 10),
	}
}

// fromUserMetadata reads metadata back from a stat response. S3 returns the
// keys in canonical header form, so lookups ignore case.
func fromUserMetadata(um map[string]string) BlobMetadata {
	get := func(key string) string {
		for k, v := range um {
			if strings.EqualFold(strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-"), key) {
				return v
			}
		}
		return ""
	}
	meta := BlobMetadata{
		FileName:  get(metaFileName),
		OwnerID:   get(metaOwnerID),
		Category:  get(metaCategory),
		Hash:      get(metaHash),
		CreatedBy: get(metaCreatedBy),
	}
	if sec, err := strconv.ParseInt(get(metaCreatedAt), 10, 64); err == nil {
		meta.CreatedAt = time.Unix(sec, 0).UTC()
	}
	return meta
}
