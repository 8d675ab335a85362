package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"time"

	"resume-tailor/internal/config"
	"resume-tailor/internal/constants"
	"resume-tailor/internal/tracing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var minioTracer = otel.Tracer("resume-tailor/storage/minio")

// ObjectStorage 对象存储接口
type ObjectStorage interface {
	// PresignUpload 为客户端直传签发 PUT URL
	PresignUpload(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	// DownloadFile 读取整个对象
	DownloadFile(ctx context.Context, objectKey string) ([]byte, error)
	// UploadJSON 写入 JSON 对象
	UploadJSON(ctx context.Context, objectKey string, data []byte) error
}

var _ ObjectStorage = (*MinIO)(nil)

// UploadEvent 一次对象创建通知
type UploadEvent struct {
	Bucket    string
	ObjectKey string
	Size      int64
}

// MinIO 提供对象存储功能
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	bucket string
	logger *log.Logger
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	logger.Printf("[MinIO] 初始化客户端 endpoint=%s bucket=%s", cfg.Endpoint, cfg.BucketName)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client: client,
		cfg:    cfg,
		bucket: cfg.BucketName,
		logger: logger,
	}

	ctx := context.Background()
	if err := m.ensureBucketExists(ctx, cfg.Location); err != nil {
		return nil, fmt.Errorf("确保存储桶 %s 存在失败: %w", m.bucket, err)
	}

	if cfg.GenerationArchiveExpireDays > 0 {
		if err := m.setupArchiveLifecycle(ctx, cfg.GenerationArchiveExpireDays); err != nil {
			logger.Printf("[MinIO] 警告: 设置生成结果归档生命周期失败: %v", err)
		}
	}

	return m, nil
}

func (m *MinIO) ensureBucketExists(ctx context.Context, location string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", m.bucket, err)
	}
	m.logger.Printf("[MinIO] 存储桶 %s 已创建", m.bucket)
	return nil
}

// setupArchiveLifecycle 只对生成结果归档设置过期，原始简历不过期
func (m *MinIO) setupArchiveLifecycle(ctx context.Context, expiryDays int) error {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{
		{
			ID:     "expire-generation-archives",
			Status: "Enabled",
			RuleFilter: lifecycle.Filter{
				And: lifecycle.And{
					Prefix: constants.UserObjectPrefix,
					Tags:   []lifecycle.Tag{{Key: archiveTagKey, Value: archiveTagValue}},
				},
			},
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, m.bucket, cfg)
}

const (
	archiveTagKey   = "kind"
	archiveTagValue = "generation"
)

func (m *MinIO) startSpan(ctx context.Context, operation, objectKey string) (context.Context, trace.Span) {
	return minioTracer.Start(ctx, "MinIO."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("object_store.system", "minio"),
			attribute.String("object_store.bucket", m.bucket),
			attribute.String("object_store.key", tracing.TruncateString(objectKey, tracing.DefaultMaxLength)),
		))
}

// PresignUpload 签发预签名 PUT URL
func (m *MinIO) PresignUpload(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	ctx, span := m.startSpan(ctx, "PresignUpload", objectKey)
	defer span.End()

	u, err := m.client.PresignedPutObject(ctx, m.bucket, objectKey, expiry)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return "", fmt.Errorf("生成上传预签名URL失败: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return u.String(), nil
}

// PresignDownload 签发预签名 GET URL
func (m *MinIO) PresignDownload(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	ctx, span := m.startSpan(ctx, "PresignDownload", objectKey)
	defer span.End()

	u, err := m.client.PresignedGetObject(ctx, m.bucket, objectKey, expiry, url.Values{})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return "", fmt.Errorf("生成下载预签名URL失败: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return u.String(), nil
}

// DownloadFile 下载文件
func (m *MinIO) DownloadFile(ctx context.Context, objectKey string) ([]byte, error) {
	ctx, span := m.startSpan(ctx, "DownloadFile", objectKey)
	defer span.End()

	obj, err := m.client.GetObject(ctx, m.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", m.bucket, objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", m.bucket, objectKey, err)
	}
	span.SetAttributes(attribute.Int("object_store.size", len(data)))
	span.SetStatus(codes.Ok, "")
	return data, nil
}

// UploadJSON 上传 JSON 文档，用于归档生成结果
func (m *MinIO) UploadJSON(ctx context.Context, objectKey string, data []byte) error {
	ctx, span := m.startSpan(ctx, "UploadJSON", objectKey)
	defer span.End()

	_, err := m.client.PutObject(ctx, m.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserTags:    map[string]string{archiveTagKey: archiveTagValue},
	})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return fmt.Errorf("上传对象 %s/%s 失败: %w", m.bucket, objectKey, err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// ListenUploads 监听 user- 前缀下新建的 .pdf 对象，直到 ctx 取消
func (m *MinIO) ListenUploads(ctx context.Context, handle func(context.Context, UploadEvent) error) {
	events := []string{"s3:ObjectCreated:*"}
	m.logger.Printf("[MinIO] 开始监听存储桶 %s 的上传通知", m.bucket)

	for info := range m.client.ListenBucketNotification(ctx, m.bucket, constants.UserObjectPrefix, ".pdf", events) {
		if info.Err != nil {
			m.logger.Printf("[MinIO] 上传通知出错: %v", info.Err)
			continue
		}
		for _, record := range info.Records {
			key, err := url.QueryUnescape(record.S3.Object.Key)
			if err != nil {
				key = record.S3.Object.Key
			}
			event := UploadEvent{
				Bucket:    record.S3.Bucket.Name,
				ObjectKey: key,
				Size:      record.S3.Object.Size,
			}
			if err := handle(ctx, event); err != nil {
				m.logger.Printf("[MinIO] 处理上传通知 %s 失败: %v", key, err)
			}
		}
	}
	m.logger.Printf("[MinIO] 上传通知监听已停止")
}

// Ping 健康检查
func (m *MinIO) Ping(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucket)
	return err
}

func (m *MinIO) Bucket() string {
	return m.bucket
}
