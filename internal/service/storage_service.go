package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"speaking_backend/internal/config"
	"speaking_backend/internal/util"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore 录音对象存储
type ObjectStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	PutFile(ctx context.Context, key string, localPath string, contentType string) error
	Delete(ctx context.Context, key string) error
	// URL 返回语音网关可直接拉取的地址
	URL(key string) string
}

func joinPublicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// LocalStore 本地磁盘，由 /uploads 静态路由对外提供
type LocalStore struct {
	root    string
	baseURL string
}

func NewLocalStore(cfg *config.StorageConfig) *LocalStore {
	base := cfg.PublicBaseURL
	if base == "" {
		base = "/uploads"
	}
	return &LocalStore{root: cfg.LocalPath, baseURL: base}
}

func (s *LocalStore) path(key string) (string, error) {
	dst := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, dst)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}
	return dst, nil
}

func (s *LocalStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, reader)
	return err
}

func (s *LocalStore) PutFile(ctx context.Context, key string, localPath string, contentType string) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	if localPath == dst {
		return nil
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	return s.Put(ctx, key, src, -1, contentType)
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	return os.Remove(dst)
}

func (s *LocalStore) URL(key string) string {
	return joinPublicURL(s.baseURL, key)
}

type MinioStore struct {
	cfg    *config.StorageConfig
	client *minio.Client
}

func NewMinioStore(cfg *config.StorageConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioSecure,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStore{cfg: cfg, client: client}, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.cfg.MinioBucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *MinioStore) PutFile(ctx context.Context, key string, localPath string, contentType string) error {
	_, err := s.client.FPutObject(ctx, s.cfg.MinioBucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.cfg.MinioBucket, key, minio.RemoveObjectOptions{})
}

func (s *MinioStore) URL(key string) string {
	if s.cfg.PublicBaseURL != "" {
		return joinPublicURL(s.cfg.PublicBaseURL, key)
	}
	return joinPublicURL(s.client.EndpointURL().String()+"/"+s.cfg.MinioBucket, key)
}

type OSSStore struct {
	cfg    *config.StorageConfig
	bucket *oss.Bucket
}

func NewOSSStore(cfg *config.StorageConfig) (*OSSStore, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	bucket, err := client.Bucket(cfg.OSSBucket)
	if err != nil {
		return nil, err
	}
	return &OSSStore{cfg: cfg, bucket: bucket}, nil
}

func (s *OSSStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	return s.bucket.PutObject(key, reader, oss.ContentType(contentType), oss.WithContext(ctx))
}

func (s *OSSStore) PutFile(ctx context.Context, key string, localPath string, contentType string) error {
	return s.bucket.PutObjectFromFile(key, localPath, oss.ContentType(contentType), oss.WithContext(ctx))
}

func (s *OSSStore) Delete(ctx context.Context, key string) error {
	return s.bucket.DeleteObject(key, oss.WithContext(ctx))
}

func (s *OSSStore) URL(key string) string {
	if s.cfg.PublicBaseURL != "" {
		return joinPublicURL(s.cfg.PublicBaseURL, key)
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(s.cfg.OSSEndpoint, "https://"), "http://")
	return fmt.Sprintf("https://%s.%s/%s", s.cfg.OSSBucket, endpoint, key)
}

// NewObjectStore 按 storage.type 选择实现
func NewObjectStore(cfg *config.StorageConfig) (ObjectStore, error) {
	switch cfg.Type {
	case util.StorageMinio:
		return NewMinioStore(cfg)
	case util.StorageOSS:
		return NewOSSStore(cfg)
	case util.StorageLocal, "":
		return NewLocalStore(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}
