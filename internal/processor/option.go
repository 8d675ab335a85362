package processor

import (
	"time"

	"resume-tailor/internal/config"
	"resume-tailor/internal/parser"

	"github.com/rs/zerolog"
)

// IngestionSettings 入库流程的纯配置项
type IngestionSettings struct {
	ChunkSize      int
	ChunkOverlap   int
	UpsertBatch    int // 每批写入向量库的点数
	ValidateResume bool
	LockTTL        time.Duration
}

// GenerationSettings 生成流程的纯配置项
type GenerationSettings struct {
	TopK           int
	RetryDelay     time.Duration // 首次检索为空时的等待时间
	PromptVersion  string
	ArchiveResults bool
}

// IngestionSettingsFromConfig 读取 ingestion 配置段
func IngestionSettingsFromConfig(cfg config.IngestionConfig) IngestionSettings {
	return IngestionSettings{
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		UpsertBatch:    cfg.UpsertBatch,
		ValidateResume: config.BoolOr(cfg.ValidateResume, true),
		LockTTL:        config.GetDuration(cfg.LockTTL, 10*time.Minute),
	}
}

// GenerationSettingsFromConfig 读取 generation 配置段
func GenerationSettingsFromConfig(cfg config.GenerationConfig) GenerationSettings {
	return GenerationSettings{
		TopK:           cfg.TopK,
		RetryDelay:     config.GetDuration(cfg.RetryDelay, 2*time.Second),
		PromptVersion:  cfg.PromptVersion,
		ArchiveResults: config.BoolOr(cfg.ArchiveResults, true),
	}
}

// IngestionOpt 入库流程选项
type IngestionOpt func(*IngestionPipeline)

// GenerationOpt 生成流程选项
type GenerationOpt func(*GenerationPipeline)

// WithIngestionLogger 设置入库流程日志
func WithIngestionLogger(log zerolog.Logger) IngestionOpt {
	return func(p *IngestionPipeline) {
		p.log = log
	}
}

// WithIngestLocker 设置单文件入库锁
func WithIngestLocker(locker IngestLocker) IngestionOpt {
	return func(p *IngestionPipeline) {
		p.locker = locker
	}
}

// WithGenerationLogger 设置生成流程日志
func WithGenerationLogger(log zerolog.Logger) GenerationOpt {
	return func(p *GenerationPipeline) {
		p.log = log
	}
}

// WithJobInfoExtractor 启用公司名/职位抽取
func WithJobInfoExtractor(e *parser.JobInfoExtractor) GenerationOpt {
	return func(p *GenerationPipeline) {
		p.jobInfo = e
	}
}

// WithResultArchiver 设置生成结果归档目标，仅在 ArchiveResults 开启时使用
func WithResultArchiver(a ResultArchiver) GenerationOpt {
	return func(p *GenerationPipeline) {
		p.archiver = a
	}
}
