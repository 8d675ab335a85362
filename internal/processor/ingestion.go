package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"resume-tailor/internal/constants"
	"resume-tailor/internal/parser"
	"resume-tailor/internal/storage"
	"resume-tailor/internal/tracing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("resume-tailor/processor")

const (
	defaultUpsertBatch = 100
	defaultChunkSize   = 1000
	defaultOverlap     = 100
)

// ErrIngestionFailed 文件已被标记为 FAILED，消息不应重投
var ErrIngestionFailed = errors.New("ingestion failed")

// IngestionComponents 入库流程依赖的组件
type IngestionComponents struct {
	Store     IngestionStore
	Objects   ObjectFetcher
	Extractor TextExtractor
	Embedder  embedding.Embedder
	Index     ChunkIndex
}

// IngestionRequest 由上传通知驱动
type IngestionRequest struct {
	ObjectKey string
}

// IngestionResult 一次成功入库的结果
type IngestionResult struct {
	FileID           string
	OwnerUserID      string
	ChunkCount       int
	IngestionVersion int
}

// IngestionPipeline 下载 → 提取 → 校验 → 分块 → 向量化 → 写入索引
type IngestionPipeline struct {
	store       IngestionStore
	objects     ObjectFetcher
	extractor   TextExtractor
	embedder    embedding.Embedder
	index       ChunkIndex
	locker      IngestLocker
	chunker     *TextChunker
	validator   *ResumeValidator
	upsertBatch int
	settings    IngestionSettings
	log         zerolog.Logger
}

// NewIngestionPipeline 校验组件并按设置补默认值
func NewIngestionPipeline(comp IngestionComponents, set IngestionSettings, opts ...IngestionOpt) (*IngestionPipeline, error) {
	if comp.Store == nil || comp.Objects == nil || comp.Extractor == nil || comp.Embedder == nil || comp.Index == nil {
		return nil, fmt.Errorf("入库流程缺少必要组件")
	}
	if set.ChunkSize <= 0 {
		set.ChunkSize = defaultChunkSize
		if set.ChunkOverlap == 0 {
			set.ChunkOverlap = defaultOverlap
		}
	}
	chunker, err := NewTextChunker(set.ChunkSize, set.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if set.UpsertBatch <= 0 {
		set.UpsertBatch = defaultUpsertBatch
	}

	p := &IngestionPipeline{
		store:       comp.Store,
		objects:     comp.Objects,
		extractor:   comp.Extractor,
		embedder:    comp.Embedder,
		index:       comp.Index,
		chunker:     chunker,
		upsertBatch: set.UpsertBatch,
		settings:    set,
		log:         zerolog.Nop(),
	}
	if set.ValidateResume {
		p.validator = NewResumeValidator()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process 处理一次上传。返回 ErrIngestionInProgress 表示同一文件正在被处理；
// 返回的错误包装了 ErrIngestionFailed 时文件已落库为 FAILED。
func (p *IngestionPipeline) Process(ctx context.Context, req IngestionRequest) (*IngestionResult, error) {
	ctx, span := tracer.Start(ctx, "IngestionPipeline.Process",
		trace.WithAttributes(attribute.String("object_key", req.ObjectKey)))
	defer span.End()

	key, err := storage.ParseResumeObjectKey(req.ObjectKey)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	fileID := key.FileID
	span.SetAttributes(attribute.String("file_id", fileID), attribute.String("user_id", key.OwnerUserID))
	log := p.log.With().Str("file_id", fileID).Str("user_id", key.OwnerUserID).Logger()

	file, err := p.store.GetResumeFile(ctx, fileID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("读取文件记录 %s 失败: %w", fileID, err)
	}
	if file.OwnerUserID == "" || file.OwnerUserID != key.OwnerUserID {
		cause := fmt.Errorf("object key owner %q does not match file owner %q", key.OwnerUserID, file.OwnerUserID)
		return nil, p.fail(ctx, span, log, fileID, NewOwnerResolutionError(fileID, cause))
	}

	if p.locker != nil {
		release, err := p.locker.AcquireIngestLock(ctx, fileID, p.settings.LockTTL)
		if errors.Is(err, storage.ErrLockHeld) {
			log.Info().Msg("文件正在入库，跳过重复消息")
			return nil, ErrIngestionInProgress
		}
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeRedis)
			return nil, fmt.Errorf("获取入库锁失败: %w", err)
		}
		defer release(context.WithoutCancel(ctx))
	}

	version, err := p.store.BeginIngestion(ctx, fileID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("标记文件 %s 开始入库失败: %w", fileID, err)
	}
	log.Info().Int("ingestion_version", version).Msg("开始入库")

	count, err := p.ingest(ctx, file.FileID, key.OwnerUserID, req.ObjectKey, version)
	if err != nil {
		return nil, p.fail(ctx, span, log, fileID, err)
	}
	if err := p.store.MarkFileReady(ctx, fileID, count); err != nil {
		return nil, p.fail(ctx, span, log, fileID, err)
	}

	span.SetAttributes(attribute.Int("chunk_count", count))
	log.Info().Int("chunk_count", count).Msg("入库完成")
	return &IngestionResult{
		FileID:           fileID,
		OwnerUserID:      key.OwnerUserID,
		ChunkCount:       count,
		IngestionVersion: version,
	}, nil
}

func (p *IngestionPipeline) ingest(ctx context.Context, fileID, ownerUserID, objectKey string, version int) (int, error) {
	data, err := p.objects.DownloadFile(ctx, objectKey)
	if err != nil {
		return 0, fmt.Errorf("下载简历文件失败: %w", err)
	}

	text, err := p.extractor.ExtractText(ctx, data, objectKey)
	if err != nil {
		return 0, NewExtractionError(fileID, err)
	}
	if strings.TrimSpace(text) == "" {
		return 0, NewExtractionError(fileID, nil)
	}

	if p.validator != nil {
		if err := p.validator.Validate(fileID, text); err != nil {
			return 0, err
		}
	}

	chunks := p.chunker.Split(text)
	if len(chunks) == 0 {
		return 0, NewExtractionError(fileID, nil)
	}

	vectors, err := p.embedder.EmbedStrings(ctx, chunks, parser.WithTaskType(constants.TaskTypeRetrievalDocument))
	if err != nil {
		return 0, fmt.Errorf("简历分块向量化失败: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("向量数量 %d 与分块数量 %d 不一致", len(vectors), len(chunks))
	}

	points := make([]storage.ChunkPoint, len(chunks))
	for i, chunk := range chunks {
		points[i] = storage.ChunkPoint{
			OwnerUserID:      ownerUserID,
			FileID:           fileID,
			ChunkIndex:       i,
			Text:             chunk,
			IngestionVersion: version,
			Vector:           vectors[i],
		}
	}

	// 重新入库时先清掉旧向量
	if err := p.index.DeleteFileChunks(ctx, ownerUserID, fileID); err != nil {
		return 0, fmt.Errorf("删除旧向量失败: %w", err)
	}
	for start := 0; start < len(points); start += p.upsertBatch {
		end := min(start+p.upsertBatch, len(points))
		if err := p.index.UpsertChunks(ctx, points[start:end]); err != nil {
			return 0, fmt.Errorf("写入向量 [%d, %d) 失败: %w", start, end, err)
		}
	}
	return len(points), nil
}

// fail 把文件标记为 FAILED，返回包装了 ErrIngestionFailed 的错误
func (p *IngestionPipeline) fail(ctx context.Context, span trace.Span, log zerolog.Logger, fileID string, err error) error {
	errorType, detail := ClassifyIngestionError(err)
	if errorType == constants.ErrorTypeValidation {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		log.Warn().Err(err).Str("error_type", errorType).Msg("简历未通过校验")
	} else {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		log.Error().Err(err).Str("error_type", errorType).Msg("入库失败")
	}

	if markErr := p.store.MarkFileFailed(context.WithoutCancel(ctx), fileID, errorType, detail); markErr != nil {
		log.Error().Err(markErr).Msg("标记文件失败状态时出错")
		return fmt.Errorf("入库失败且无法更新状态: %w", errors.Join(err, markErr))
	}
	return fmt.Errorf("%w: %w", ErrIngestionFailed, err)
}
