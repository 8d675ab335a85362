package processor

import (
	"context"
	"fmt"
	"time"

	"resume-tailor/internal/config"
	"resume-tailor/internal/logger"
	"resume-tailor/internal/parser"
	"resume-tailor/internal/storage"
	"resume-tailor/pkg/ratelimit"

	"github.com/cloudwego/eino/components/embedding"
)

// Pipelines 进程内共享的两条流水线
type Pipelines struct {
	Ingestion  *IngestionPipeline
	Generation *GenerationPipeline
}

// ServiceDeps 构建流水线需要的外部依赖
type ServiceDeps struct {
	Config  *config.Config
	Storage *storage.Storage
	GenAI   parser.GenAIModels
	Limits  *ratelimit.Registry
	Jobs    JobRecorder
}

// NewIngestionPipelineFromConfig 只构建入库流水线，供离线重跑等不需要生成链路的场景使用
func NewIngestionPipelineFromConfig(ctx context.Context, deps ServiceDeps) (*IngestionPipeline, error) {
	if deps.Config == nil || deps.Storage == nil || deps.GenAI == nil || deps.Limits == nil {
		return nil, fmt.Errorf("构建入库流水线缺少依赖")
	}
	embedder, _, err := newEmbedder(deps)
	if err != nil {
		return nil, err
	}
	return newIngestionPipeline(ctx, deps, embedder)
}

// NewPipelinesFromConfig 按配置创建模型、提取器与流水线，所有模型调用都经过限流
func NewPipelinesFromConfig(ctx context.Context, deps ServiceDeps) (*Pipelines, error) {
	cfg := deps.Config
	if cfg == nil || deps.Storage == nil || deps.GenAI == nil || deps.Limits == nil || deps.Jobs == nil {
		return nil, fmt.Errorf("构建流水线缺少依赖")
	}
	timeout := config.GetDuration(cfg.Gemini.RequestTimeout, 120*time.Second)

	embedder, modelVersion, err := newEmbedder(deps)
	if err != nil {
		return nil, err
	}

	// 生成模型
	generator, err := parser.NewGeminiChatModel(deps.GenAI, cfg.Gemini.GenerationModel, cfg.Gemini.Temperature, timeout)
	if err != nil {
		return nil, fmt.Errorf("创建生成模型失败: %w", err)
	}
	llm := deps.Limits.WrapChatModel(generator, cfg.Gemini.GenerationModel)

	ingestion, err := newIngestionPipeline(ctx, deps, embedder)
	if err != nil {
		return nil, err
	}

	vectorizer, err := NewQueryVectorizer(embedder, deps.Storage.Redis, modelVersion, logger.Component("query_vector"))
	if err != nil {
		return nil, err
	}
	prompts, err := LoadPromptLibrary(cfg.Generation.PromptDir)
	if err != nil {
		return nil, fmt.Errorf("加载提示词失败: %w", err)
	}

	genOpts := []GenerationOpt{
		WithGenerationLogger(logger.Component("generation")),
		WithResultArchiver(deps.Storage.MinIO),
	}
	if config.BoolOr(cfg.Generation.ExtractJobInfo, true) {
		// 抽取用小模型，温度由抽取器自己设置
		small, err := parser.NewGeminiChatModel(deps.GenAI, cfg.Gemini.ExtractionModel, 0.1, timeout)
		if err != nil {
			return nil, fmt.Errorf("创建抽取模型失败: %w", err)
		}
		genOpts = append(genOpts, WithJobInfoExtractor(parser.NewJobInfoExtractor(
			deps.Limits.WrapChatModel(small, cfg.Gemini.ExtractionModel),
			logger.StdLogger("[JobInfo] "),
		)))
	}

	generation, err := NewGenerationPipeline(GenerationComponents{
		Files:      deps.Storage.MySQL,
		Searcher:   deps.Storage.Qdrant,
		Vectorizer: vectorizer,
		LLM:        llm,
		Prompts:    prompts,
		Jobs:       deps.Jobs,
	}, GenerationSettingsFromConfig(cfg.Generation), genOpts...)
	if err != nil {
		return nil, fmt.Errorf("创建生成流水线失败: %w", err)
	}

	logger.Info().
		Str("generation_model", cfg.Gemini.GenerationModel).
		Str("embedding_model", modelVersion).
		Strs("prompt_versions", prompts.Versions()).
		Msg("流水线初始化完成")

	return &Pipelines{Ingestion: ingestion, Generation: generation}, nil
}

// newEmbedder 创建限流后的向量模型，并返回写入缓存键的模型版本
func newEmbedder(deps ServiceDeps) (embedding.Embedder, string, error) {
	cfg := deps.Config
	timeout := config.GetDuration(cfg.Gemini.RequestTimeout, 120*time.Second)
	geminiEmbedder, err := parser.NewGeminiEmbedder(deps.GenAI, cfg.Gemini.EmbeddingModel, cfg.Gemini.EmbeddingDimension, timeout)
	if err != nil {
		return nil, "", fmt.Errorf("创建向量模型失败: %w", err)
	}
	return deps.Limits.WrapEmbedder(geminiEmbedder, cfg.Gemini.EmbeddingModel), geminiEmbedder.ModelVersion(), nil
}

func newIngestionPipeline(ctx context.Context, deps ServiceDeps, embedder embedding.Embedder) (*IngestionPipeline, error) {
	extractor, err := parser.NewEinoPDFTextExtractor(ctx, parser.WithEinoLogger(logger.StdLogger("[EinoPDF] ")))
	if err != nil {
		return nil, fmt.Errorf("创建PDF解析器失败: %w", err)
	}
	ingestion, err := NewIngestionPipeline(IngestionComponents{
		Store:     deps.Storage.MySQL,
		Objects:   deps.Storage.MinIO,
		Extractor: extractor,
		Embedder:  embedder,
		Index:     deps.Storage.Qdrant,
	}, IngestionSettingsFromConfig(deps.Config.Ingestion),
		WithIngestLocker(deps.Storage.Redis),
		WithIngestionLogger(logger.Component("ingestion")),
	)
	if err != nil {
		return nil, fmt.Errorf("创建入库流水线失败: %w", err)
	}
	return ingestion, nil
}
