// Package storage 提供文档来源的实现：MinIO 对象存储和本地目录。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"aec-rag-go/internal/config"
	"aec-rag-go/internal/fingerprint"
	"aec-rag-go/internal/provider"
	"aec-rag-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// hashMetaKey 是上传时写入的内容指纹元数据，列举时可省去一次读取。
const hashMetaKey = "Content-Hash"

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(ctx context.Context, cfg config.MinIOConfig) error {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}
	MinioClient = client
	log.Info("MinIO 客户端初始化成功")
	return nil
}

// MinioStore 把一个存储桶（可选前缀）作为文档来源。
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

var (
	_ provider.ObjectStore  = (*MinioStore)(nil)
	_ provider.ObjectWriter = (*MinioStore)(nil)
)

// NewMinioStore 创建 MinioStore。
func NewMinioStore(client *minio.Client, bucket, prefix string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, prefix: prefix}
}

// Name 实现 provider.ObjectStore。
func (s *MinioStore) Name() string {
	return "minio://" + s.bucket + "/" + s.prefix
}

// URIFor 返回对象键对应的 URI。
func (s *MinioStore) URIFor(key string) string {
	return "minio://" + s.bucket + "/" + key
}

// KeyOf 从 URI 中取出对象键；URI 不属于该存储桶时返回 false。
func (s *MinioStore) KeyOf(uri string) (string, bool) {
	p := "minio://" + s.bucket + "/"
	if !strings.HasPrefix(uri, p) {
		return "", false
	}
	return strings.TrimPrefix(uri, p), true
}

func (s *MinioStore) ListChangedSince(ctx context.Context, since time.Time) ([]provider.ObjectInfo, error) {
	var out []provider.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:       s.prefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("列举对象失败: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") || obj.LastModified.Before(since) {
			continue
		}
		info := provider.ObjectInfo{
			URI:         s.URIFor(obj.Key),
			Key:         obj.Key,
			ContentType: obj.ContentType,
			Size:        obj.Size,
			ModifiedAt:  obj.LastModified,
			ContentHash: userMeta(obj.UserMetadata, hashMetaKey),
		}
		if info.ContentHash == "" {
			data, err := s.read(ctx, obj.Key)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.Warnf("[MinIO] 读取对象计算哈希失败, key: %s, error: %v", obj.Key, err)
				info.Err = err
			} else {
				info.ContentHash = fingerprint.Sum(data)
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// userMeta 兼容 ListObjects 返回的 X-Amz-Meta- 前缀与 StatObject 返回的裸键。
func userMeta(meta map[string]string, key string) string {
	for k, v := range meta {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if k == strings.ToLower(key) {
			return v
		}
	}
	return ""
}

func (s *MinioStore) read(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return data, nil
}

func (s *MinioStore) mapErr(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %v", provider.ErrObjectNotFound, err)
	}
	return err
}

func (s *MinioStore) Read(ctx context.Context, uri string) ([]byte, error) {
	key, ok := s.KeyOf(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrObjectNotFound, uri)
	}
	return s.read(ctx, key)
}

func (s *MinioStore) Stat(ctx context.Context, uri string) (provider.ObjectInfo, error) {
	key, ok := s.KeyOf(uri)
	if !ok {
		return provider.ObjectInfo{}, fmt.Errorf("%w: %s", provider.ErrObjectNotFound, uri)
	}
	st, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return provider.ObjectInfo{}, s.mapErr(err)
	}
	info := provider.ObjectInfo{
		URI:         uri,
		Key:         key,
		ContentType: st.ContentType,
		Size:        st.Size,
		ModifiedAt:  st.LastModified,
		ContentHash: userMeta(st.UserMetadata, hashMetaKey),
	}
	if info.ContentHash == "" {
		data, err := s.read(ctx, key)
		if err != nil {
			return provider.ObjectInfo{}, err
		}
		info.ContentHash = fingerprint.Sum(data)
	}
	return info, nil
}

// Put 上传对象并在用户元数据中记录内容指纹。
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (provider.ObjectInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return provider.ObjectInfo{}, err
	}
	hash := fingerprint.Sum(data)
	key = s.prefix + strings.TrimPrefix(key, "/")
	up, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{hashMetaKey: hash},
	})
	if err != nil {
		return provider.ObjectInfo{}, fmt.Errorf("上传对象失败: %w", err)
	}
	log.Infof("[MinioStore] 上传完成 key=%s size=%d", key, up.Size)
	return provider.ObjectInfo{
		URI:         s.URIFor(key),
		Key:         key,
		ContentHash: hash,
		ContentType: contentType,
		Size:        up.Size,
		ModifiedAt:  up.LastModified,
	}, nil
}
