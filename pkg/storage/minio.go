package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage MinIO对象存储的产物存储实现
// 产物名直接作为对象名，覆盖写入天然幂等
type MinioStorage struct {
	client     *minio.Client
	bucketName string
}

// MinioConfig MinIO存储配置
type MinioConfig struct {
	Endpoint  string // MinIO服务端点
	AccessKey string // 访问密钥ID
	SecretKey string // 秘密访问密钥
	UseSSL    bool   // 是否使用SSL
	Bucket    string // 存储桶名称
}

// NewMinioStorage 创建MinIO存储实例
func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioStorage{
		client:     client,
		bucketName: cfg.Bucket,
	}, nil
}

// Save 以指定名字保存产物，已存在时覆盖
func (s *MinioStorage) Save(name string, reader io.Reader) (ArtifactInfo, error) {
	if name == "" {
		return ArtifactInfo{}, fmt.Errorf("artifact name cannot be empty")
	}

	// 读入内存获取大小。产物是切块后的文本文件，体量可控
	content, err := io.ReadAll(reader)
	if err != nil {
		return ArtifactInfo{}, fmt.Errorf("failed to read artifact content: %w", err)
	}

	size := int64(len(content))
	contentType := getMimeType(name)

	_, err = s.client.PutObject(
		context.Background(),
		s.bucketName,
		name,
		bytes.NewReader(content),
		size,
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return ArtifactInfo{}, fmt.Errorf("failed to upload artifact: %w", err)
	}

	return ArtifactInfo{
		Name:     name,
		Size:     size,
		MimeType: contentType,
	}, nil
}

// Get 获取产物内容
func (s *MinioStorage) Get(name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(
		context.Background(),
		s.bucketName,
		name,
		minio.GetObjectOptions{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	// GetObject是惰性的，Stat确认对象真实存在
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("artifact not found: %s", name)
	}
	return obj, nil
}

// Delete 删除产物
func (s *MinioStorage) Delete(name string) error {
	err := s.client.RemoveObject(
		context.Background(),
		s.bucketName,
		name,
		minio.RemoveObjectOptions{},
	)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// List 列出指定前缀下的所有产物
func (s *MinioStorage) List(prefix string) ([]ArtifactInfo, error) {
	var artifacts []ArtifactInfo

	objectCh := s.client.ListObjects(
		context.Background(),
		s.bucketName,
		minio.ListObjectsOptions{Prefix: prefix, Recursive: true},
	)

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %w", object.Err)
		}

		artifacts = append(artifacts, ArtifactInfo{
			Name:     object.Key,
			Size:     object.Size,
			MimeType: getMimeType(object.Key),
		})
	}

	return artifacts, nil
}

// Exists 检查产物是否存在
func (s *MinioStorage) Exists(name string) (bool, error) {
	_, err := s.client.StatObject(
		context.Background(),
		s.bucketName,
		name,
		minio.StatObjectOptions{},
	)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || strings.Contains(err.Error(), "does not exist") {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}
