package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"resume-tailor/internal/constants"
	"resume-tailor/internal/jobs"
	"resume-tailor/internal/parser"
	"resume-tailor/internal/storage"
	"resume-tailor/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
)

const defaultTopK = 5

// GenerationComponents 生成流程依赖的组件
type GenerationComponents struct {
	Files      FileLookup
	Searcher   ChunkSearcher
	Vectorizer *QueryVectorizer
	LLM        model.BaseChatModel
	Prompts    *PromptLibrary
	Jobs       JobRecorder
}

// GenerationRequest 一次生成任务的输入
type GenerationRequest struct {
	JobID          string
	FileID         string
	UserID         string // 为空时不校验调用方身份
	JobDescription string
	PromptVersion  string // 为空时使用配置的版本
}

// GenerationPipeline 检索简历片段 → 渲染提示词 → 调用模型 → 校验 → 写入任务终态
type GenerationPipeline struct {
	files      FileLookup
	searcher   ChunkSearcher
	vectorizer *QueryVectorizer
	llm        model.BaseChatModel
	prompts    *PromptLibrary
	jobs       JobRecorder
	jobInfo    *parser.JobInfoExtractor
	archiver   ResultArchiver
	settings   GenerationSettings
	log        zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// NewGenerationPipeline 校验组件，确认默认提示词版本存在
func NewGenerationPipeline(comp GenerationComponents, set GenerationSettings, opts ...GenerationOpt) (*GenerationPipeline, error) {
	if comp.Files == nil || comp.Searcher == nil || comp.Vectorizer == nil || comp.LLM == nil || comp.Prompts == nil || comp.Jobs == nil {
		return nil, fmt.Errorf("生成流程缺少必要组件")
	}
	if set.TopK <= 0 {
		set.TopK = defaultTopK
	}
	if set.PromptVersion == "" {
		set.PromptVersion = "structured-v1"
	}
	if _, err := comp.Prompts.Get(set.PromptVersion); err != nil {
		return nil, err
	}

	p := &GenerationPipeline{
		files:      comp.Files,
		searcher:   comp.Searcher,
		vectorizer: comp.Vectorizer,
		llm:        comp.LLM,
		prompts:    comp.Prompts,
		jobs:       comp.Jobs,
		settings:   set,
		log:        zerolog.Nop(),
		sleep:      sleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// PromptVersion 新任务记录的默认提示词版本
func (p *GenerationPipeline) PromptVersion() string {
	return p.settings.PromptVersion
}

// Run 执行一次生成并写入任务终态；任何步骤失败都会把任务置为 FAILED，error_message 为错误文本
func (p *GenerationPipeline) Run(ctx context.Context, req GenerationRequest) error {
	ctx, span := tracer.Start(ctx, "GenerationPipeline.Run",
		trace.WithAttributes(
			attribute.String("job_id", req.JobID),
			attribute.String("file_id", req.FileID),
		))
	defer span.End()
	log := p.log.With().Str("job_id", req.JobID).Str("file_id", req.FileID).Logger()

	completion, err := p.generate(ctx, req, log)
	if err != nil {
		tracing.RecordError(span, err, generationErrorType(err))
		log.Error().Err(err).Msg("生成失败")
		return p.failJob(ctx, req.JobID, err, log)
	}

	// 结果已生成，写终态不受调用方取消影响
	if err := p.jobs.Complete(context.WithoutCancel(ctx), req.JobID, completion); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		if errors.Is(err, jobs.ErrJobAlreadyTerminal) {
			log.Warn().Msg("任务已是终态，丢弃本次生成结果")
			return err
		}
		log.Error().Err(err).Msg("写入生成结果失败")
		return p.failJob(ctx, req.JobID, fmt.Errorf("保存生成结果失败: %w", err), log)
	}
	log.Info().Str("company", completion.CompanyName).Str("title", completion.JobTitle).Msg("生成完成")
	return nil
}

// failJob 把任务置为 FAILED，error_message 为 cause 的文本
func (p *GenerationPipeline) failJob(ctx context.Context, jobID string, cause error, log zerolog.Logger) error {
	ferr := p.jobs.Fail(context.WithoutCancel(ctx), jobID, cause.Error())
	if ferr == nil {
		return cause
	}
	if errors.Is(ferr, jobs.ErrJobAlreadyTerminal) {
		log.Warn().Msg("任务已是终态，忽略失败结果")
		return cause
	}
	return errors.Join(cause, ferr)
}

func (p *GenerationPipeline) generate(ctx context.Context, req GenerationRequest, log zerolog.Logger) (jobs.Completion, error) {
	var out jobs.Completion

	if strings.TrimSpace(req.JobDescription) == "" {
		return out, fmt.Errorf("岗位描述为空")
	}

	// 1. 确认简历所有者
	file, err := p.files.GetResumeFile(ctx, req.FileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return out, NewOwnerResolutionError(req.FileID, err)
		}
		return out, fmt.Errorf("读取简历文件 %s 失败: %w", req.FileID, err)
	}
	owner := file.OwnerUserID
	if owner == "" {
		return out, NewOwnerResolutionError(req.FileID, nil)
	}
	if req.UserID != "" && req.UserID != owner {
		return out, NewOwnerResolutionError(req.FileID, fmt.Errorf("requester %q is not the owner", req.UserID))
	}

	// 2. 公司名与职位，失败时使用占位值
	info := parser.JobInfo{CompanyName: constants.UnknownCompany, JobTitle: constants.UnknownPosition}
	if p.jobInfo != nil {
		var infoErr error
		info, infoErr = p.jobInfo.Extract(ctx, req.JobDescription)
		if infoErr != nil {
			log.Debug().Err(infoErr).Msg("公司名/职位抽取失败，使用占位值")
		}
	}

	// 3-4. JD 向量与检索
	vector, err := p.vectorizer.Vectorize(ctx, req.JobDescription)
	if err != nil {
		return out, err
	}
	matches, err := p.retrieve(ctx, vector, owner, req.FileID, req.JobID, log)
	if err != nil {
		return out, err
	}

	// 5. 拼接上下文，保持检索排序
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	resumeContext := strings.Join(texts, constants.ContextChunkSeparator)

	// 6. 渲染提示词
	version := req.PromptVersion
	if version == "" {
		version = p.settings.PromptVersion
	}
	tmpl, err := p.prompts.Get(version)
	if err != nil {
		return out, err
	}
	prompt, err := tmpl.Render(PromptData{
		JobDescription: req.JobDescription,
		ResumeContext:  resumeContext,
		CompanyName:    info.CompanyName,
		JobTitle:       info.JobTitle,
	})
	if err != nil {
		return out, err
	}

	// 7. 调用模型
	messages := make([]*schema.Message, 0, 2)
	if tmpl.System != "" {
		messages = append(messages, schema.SystemMessage(tmpl.System))
	}
	messages = append(messages, schema.UserMessage(prompt))
	callOpts := []model.Option{parser.WithJSONResponse()}
	if tmpl.Temperature > 0 {
		callOpts = append(callOpts, model.WithTemperature(tmpl.Temperature))
	}
	resp, err := p.llm.Generate(ctx, messages, callOpts...)
	if err != nil {
		return out, fmt.Errorf("调用生成模型失败: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return out, parser.ErrEmptyModelResponse
	}

	// 8-9. 解析并校验
	obj, err := parser.DecodeJSONObject(resp.Content)
	if err != nil {
		return out, fmt.Errorf("解析模型输出失败: %w", err)
	}
	if err := tmpl.ValidateOutput(obj); err != nil {
		return out, err
	}
	result, err := json.Marshal(obj)
	if err != nil {
		return out, fmt.Errorf("序列化生成结果失败: %w", err)
	}

	out = jobs.Completion{
		Result:        datatypes.JSON(result),
		CompanyName:   info.CompanyName,
		JobTitle:      info.JobTitle,
		PromptVersion: tmpl.Version,
	}

	// 10. 归档，失败只记录
	if p.settings.ArchiveResults && p.archiver != nil {
		p.archive(ctx, owner, req.JobID, out, log)
	}
	return out, nil
}

// retrieve 首次检索为空时等待 RetryDelay 再试一次，刚入库的向量可能尚未可见
func (p *GenerationPipeline) retrieve(ctx context.Context, vector []float64, owner, fileID, jobID string, log zerolog.Logger) ([]storage.ChunkMatch, error) {
	matches, err := p.searcher.SearchChunks(ctx, vector, owner, fileID, p.settings.TopK)
	if err != nil {
		return nil, fmt.Errorf("检索简历片段失败: %w", err)
	}
	if len(matches) > 0 {
		return matches, nil
	}

	log.Warn().Dur("retry_delay", p.settings.RetryDelay).Msg("未检索到简历片段，稍后重试一次")
	if err := p.sleep(ctx, p.settings.RetryDelay); err != nil {
		return nil, err
	}
	matches, err = p.searcher.SearchChunks(ctx, vector, owner, fileID, p.settings.TopK)
	if err != nil {
		return nil, fmt.Errorf("检索简历片段失败: %w", err)
	}
	if len(matches) == 0 {
		return nil, NewNoRelevantContextError(jobID)
	}
	return matches, nil
}

type archivedGeneration struct {
	JobID         string          `json:"jobId"`
	CompanyName   string          `json:"companyName"`
	JobTitle      string          `json:"jobTitle"`
	PromptVersion string          `json:"promptVersion"`
	GeneratedAt   time.Time       `json:"generatedAt"`
	Result        json.RawMessage `json:"result"`
}

func (p *GenerationPipeline) archive(ctx context.Context, owner, jobID string, c jobs.Completion, log zerolog.Logger) {
	body, err := json.Marshal(archivedGeneration{
		JobID:         jobID,
		CompanyName:   c.CompanyName,
		JobTitle:      c.JobTitle,
		PromptVersion: c.PromptVersion,
		GeneratedAt:   p.now().UTC(),
		Result:        json.RawMessage(c.Result),
	})
	if err != nil {
		log.Warn().Err(err).Msg("序列化归档内容失败")
		return
	}
	if err := p.archiver.UploadJSON(ctx, storage.GenerationArchiveKey(owner, jobID), body); err != nil {
		log.Warn().Err(err).Msg("归档生成结果失败")
	}
}

func generationErrorType(err error) tracing.ErrorType {
	switch {
	case errors.Is(err, ErrSchemaValidation), errors.Is(err, ErrNoRelevantContext):
		return tracing.ErrorTypeValidation
	case errors.Is(err, ErrOwnerResolution):
		return tracing.ErrorTypePermission
	default:
		return tracing.ErrorTypeLLM
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
