package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"resume-tailor/internal/config"
	"resume-tailor/internal/constants"
	"resume-tailor/internal/jobs"
	"resume-tailor/internal/logger"
	"resume-tailor/internal/processor"
	"resume-tailor/internal/storage"
	"resume-tailor/internal/storage/models"
)

// IngestionRunner 由 processor.IngestionPipeline 实现
type IngestionRunner interface {
	Process(ctx context.Context, req processor.IngestionRequest) (*processor.IngestionResult, error)
}

// GenerationRunner 由 processor.GenerationPipeline 实现
type GenerationRunner interface {
	Run(ctx context.Context, req processor.GenerationRequest) error
}

// JobReader 读取任务当前视图
type JobReader interface {
	Get(ctx context.Context, jobID string) (*models.GenerationJob, error)
}

// Publisher 由 storage.RabbitMQ 实现
type Publisher interface {
	PublishJSON(ctx context.Context, exchangeName, routingKey string, data interface{}, persistent bool) error
}

// Consumer 启动消费循环，由 storage.RabbitMQ 实现
type Consumer interface {
	StartConsumer(ctx context.Context, queueName string, prefetchCount int, handler func(context.Context, []byte) storage.Delivery) error
}

// IngestConsumer 处理上传完成消息
type IngestConsumer struct {
	pipeline IngestionRunner
}

// NewIngestConsumer 创建入库消费者
func NewIngestConsumer(pipeline IngestionRunner) *IngestConsumer {
	return &IngestConsumer{pipeline: pipeline}
}

// Handle 已落库的失败和重复投递都确认；文件还没被改动之前的基础设施错误重新入队
func (h *IngestConsumer) Handle(ctx context.Context, body []byte) storage.Delivery {
	var msg storage.ResumeUploadedMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.ObjectKey == "" {
		logger.Error().Err(err).Str("body", string(body)).Msg("无法解析上传消息，丢弃")
		return storage.Reject
	}

	res, err := h.pipeline.Process(ctx, processor.IngestionRequest{ObjectKey: msg.ObjectKey})
	switch {
	case err == nil:
		logger.Info().
			Str("file_id", res.FileID).
			Int("chunks", res.ChunkCount).
			Int("ingestion_version", res.IngestionVersion).
			Msg("简历入库完成")
		return storage.Ack
	case errors.Is(err, processor.ErrIngestionInProgress):
		logger.Info().Str("object_key", msg.ObjectKey).Msg("文件正在入库，忽略重复消息")
		return storage.Ack
	case errors.Is(err, processor.ErrIngestionFailed):
		logger.Warn().Err(err).Str("object_key", msg.ObjectKey).Msg("简历入库失败，已记录到文件状态")
		return storage.Ack
	case errors.Is(err, storage.ErrInvalidObjectKey), errors.Is(err, storage.ErrNotFound):
		logger.Warn().Err(err).Str("object_key", msg.ObjectKey).Msg("上传对象没有对应的文件记录，丢弃")
		return storage.Reject
	default:
		logger.Error().Err(err).Str("object_key", msg.ObjectKey).Msg("入库暂时失败，重新入队")
		return storage.Requeue
	}
}

// GenerationConsumer 处理生成请求消息
type GenerationConsumer struct {
	jobs     JobReader
	pipeline GenerationRunner
}

// NewGenerationConsumer 创建生成消费者
func NewGenerationConsumer(jobs JobReader, pipeline GenerationRunner) *GenerationConsumer {
	return &GenerationConsumer{jobs: jobs, pipeline: pipeline}
}

// Handle 只处理仍在 PROCESSING 的任务。流水线失败已写入任务终态，消息一律确认；
// 终态写入本身失败的任务由截止时间视图兜底。
func (h *GenerationConsumer) Handle(ctx context.Context, body []byte) storage.Delivery {
	var msg storage.GenerationRequestedMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.JobID == "" {
		logger.Error().Err(err).Str("body", string(body)).Msg("无法解析生成消息，丢弃")
		return storage.Reject
	}

	job, err := h.jobs.Get(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			logger.Warn().Str("job_id", msg.JobID).Msg("任务不存在或已过期，跳过")
			return storage.Ack
		}
		logger.Error().Err(err).Str("job_id", msg.JobID).Msg("读取任务失败，重新入队")
		return storage.Requeue
	}
	if job.Status != constants.JobStatusProcessing {
		logger.Info().Str("job_id", msg.JobID).Str("status", job.Status).Msg("任务已是终态，跳过")
		return storage.Ack
	}

	err = h.pipeline.Run(ctx, processor.GenerationRequest{
		JobID:          job.JobID,
		FileID:         job.FileID,
		UserID:         job.OwnerUserID,
		JobDescription: job.JobDescription,
		PromptVersion:  job.PromptVersion,
	})
	if err != nil {
		logger.Warn().Err(err).Str("job_id", job.JobID).Msg("生成任务以失败结束")
	}
	return storage.Ack
}

// UploadNotifier 把对象存储的上传通知转发到入库队列
type UploadNotifier struct {
	publisher  Publisher
	exchange   string
	routingKey string
	now        func() time.Time
}

// NewUploadNotifier 使用 resume_exchange / ingest_routing_key
func NewUploadNotifier(publisher Publisher, cfg config.RabbitMQConfig) *UploadNotifier {
	return &UploadNotifier{
		publisher:  publisher,
		exchange:   cfg.ResumeExchange,
		routingKey: cfg.IngestRoutingKey,
		now:        time.Now,
	}
}

// HandleUpload 只转发符合 user-{userId}/{fileId}-{filename} 的对象
func (n *UploadNotifier) HandleUpload(ctx context.Context, ev storage.UploadEvent) error {
	if _, err := storage.ParseResumeObjectKey(ev.ObjectKey); err != nil {
		logger.Debug().Str("object_key", ev.ObjectKey).Msg("忽略非简历对象")
		return nil
	}
	msg := storage.ResumeUploadedMessage{
		ObjectKey:  ev.ObjectKey,
		Bucket:     ev.Bucket,
		Size:       ev.Size,
		ReceivedAt: n.now().UTC(),
	}
	if err := n.publisher.PublishJSON(ctx, n.exchange, n.routingKey, msg, true); err != nil {
		return err
	}
	logger.Info().Str("object_key", ev.ObjectKey).Int64("size", ev.Size).Msg("上传通知已转发到入库队列")
	return nil
}

// RunConsumer 消费循环意外退出时按间隔重启，直到 ctx 取消
func RunConsumer(ctx context.Context, consumer Consumer, queue string, prefetch int, retry time.Duration, handle func(context.Context, []byte) storage.Delivery) {
	if retry <= 0 {
		retry = 5 * time.Second
	}
	for {
		err := consumer.StartConsumer(ctx, queue, prefetch, handle)
		if ctx.Err() != nil {
			return
		}
		logger.Error().Err(err).Str("queue", queue).Dur("retry_in", retry).Msg("消费者退出，稍后重启")
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}
