package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig はMinioStoreの接続設定。
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore はMinIO（S3互換）オブジェクトストレージに保存するStore。
// バケットは非公開のまま使用し、読み出しは常にAPI経由で行う。
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore はMinIOクライアントを生成し、バケットが無ければ作成する。
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// NewPath はUUIDのオブジェクトキーを返す。
func (s *MinioStore) NewPath() string {
	return uuid.NewString()
}

// Put はdataをオブジェクトとしてアップロードする。
// S3のPUTはオブジェクト単位で不可分なため、読み手は旧データか新データのどちらかを観測する。
func (s *MinioStore) Put(ctx context.Context, path string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", path, err)
	}
	return nil
}

// Get はオブジェクトの内容を返す。存在しない場合はErrNotFoundを返す。
func (s *MinioStore) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError(path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioError(path, err)
	}
	return data, nil
}

// mapMinioError はオブジェクト未存在のエラーをErrNotFoundに変換する。
func mapMinioError(path string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return ErrNotFound
	}
	return fmt.Errorf("get object %q: %w", path, err)
}

// compile-time interface check
var _ Store = (*MinioStore)(nil)
