package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"resume-tailor/internal/billing"
	"resume-tailor/internal/constants"
	"resume-tailor/internal/jobs"
	"resume-tailor/internal/logger"
	"resume-tailor/internal/storage"
	"resume-tailor/internal/storage/models"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// JobService 生成任务仓储，由 jobs.Manager 实现
type JobService interface {
	Create(ctx context.Context, req jobs.CreateRequest) (*models.GenerationJob, error)
	Get(ctx context.Context, jobID string) (*models.GenerationJob, error)
	ListCompleted(ctx context.Context, userID string) ([]models.GenerationJob, error)
}

// FileLookup 读取简历文件记录
type FileLookup interface {
	GetResumeFile(ctx context.Context, fileID string) (*models.ResumeFile, error)
}

// GenerationHandler 创建与查询生成任务
type GenerationHandler struct {
	files         FileLookup
	jobs          JobService
	promptVersion string
}

// NewGenerationHandler promptVersion 为新任务记录的提示词版本
func NewGenerationHandler(files FileLookup, jobs JobService, promptVersion string) *GenerationHandler {
	return &GenerationHandler{files: files, jobs: jobs, promptVersion: promptVersion}
}

// StartGenerationRequest POST /generations 请求体
type StartGenerationRequest struct {
	FileID         string `json:"fileId" validate:"required"`
	JobDescription string `json:"jobDescription" validate:"required"`
}

// GenerationStatusResponse 任务状态
type GenerationStatusResponse struct {
	JobID        string          `json:"jobId"`
	Status       string          `json:"status"`
	CreatedAt    string          `json:"createdAt"`
	CompanyName  string          `json:"companyName"`
	JobTitle     string          `json:"jobTitle"`
	Result       json.RawMessage `json:"result,omitempty"`
	CompletedAt  string          `json:"completedAt,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// GenerationSummary 历史列表中的一项
type GenerationSummary struct {
	JobID       string          `json:"jobId"`
	FileID      string          `json:"fileId"`
	CompanyName string          `json:"companyName"`
	JobTitle    string          `json:"jobTitle"`
	CreatedAt   string          `json:"createdAt"`
	CompletedAt string          `json:"completedAt,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// HandleStartGeneration POST /generations
func (h *GenerationHandler) HandleStartGeneration(ctx context.Context, c *app.RequestContext) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req StartGenerationRequest
	if err := decodeAndValidate(c, &req); err != nil {
		writeError(c, consts.StatusBadRequest, "fileId and jobDescription are required")
		return
	}
	if strings.TrimSpace(req.JobDescription) == "" {
		writeError(c, consts.StatusBadRequest, "fileId and jobDescription are required")
		return
	}

	// 1. 文件必须属于本人且已可检索
	file, err := h.files.GetResumeFile(ctx, req.FileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, consts.StatusNotFound, "File not found")
			return
		}
		internalError(c, err, "查询简历文件失败")
		return
	}
	if file.OwnerUserID != userID {
		writeError(c, consts.StatusNotFound, "File not found")
		return
	}
	if file.ProcessingStatus != constants.FileStatusReadyForQuery {
		writeError(c, consts.StatusConflict, "Resume is not ready yet (status: "+file.ProcessingStatus+")")
		return
	}

	// 2. 扣额度、建任务、写发件箱在同一事务
	job, err := h.jobs.Create(ctx, jobs.CreateRequest{
		UserID:         userID,
		FileID:         req.FileID,
		JobDescription: req.JobDescription,
		PromptVersion:  h.promptVersion,
	})
	if err != nil {
		var noCredits *billing.InsufficientCreditsError
		if errors.As(err, &noCredits) {
			writeError(c, consts.StatusForbidden, noCredits.Error())
			return
		}
		internalError(c, err, "创建生成任务失败")
		return
	}

	logger.Info().Str("job_id", job.JobID).Str("file_id", job.FileID).Str("user_id", userID).Msg("生成任务已创建")
	c.JSON(consts.StatusOK, map[string]interface{}{
		"jobId":   job.JobID,
		"status":  job.Status,
		"message": "Generation started. Poll /generations/status for the result.",
	})
}

// HandleGenerationStatus GET /generations/status?jobId=
func (h *GenerationHandler) HandleGenerationStatus(ctx context.Context, c *app.RequestContext) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	jobID := strings.TrimSpace(c.Query("jobId"))
	if jobID == "" {
		writeError(c, consts.StatusBadRequest, "jobId is required")
		return
	}

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(c, consts.StatusNotFound, "Job not found")
			return
		}
		internalError(c, err, "查询生成任务失败")
		return
	}
	if job.OwnerUserID != userID {
		writeError(c, consts.StatusForbidden, "Forbidden")
		return
	}

	resp := GenerationStatusResponse{
		JobID:        job.JobID,
		Status:       job.Status,
		CreatedAt:    job.CreatedAt.UTC().Format(timeLayout),
		CompanyName:  job.CompanyName,
		JobTitle:     job.JobTitle,
		ErrorMessage: job.ErrorMessage,
	}
	if job.Status == constants.JobStatusCompleted {
		resp.Result = json.RawMessage(job.Result)
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.UTC().Format(timeLayout)
	}
	c.JSON(consts.StatusOK, resp)
}

// HandleListGenerations GET /generations
func (h *GenerationHandler) HandleListGenerations(ctx context.Context, c *app.RequestContext) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	list, err := h.jobs.ListCompleted(ctx, userID)
	if err != nil {
		internalError(c, err, "查询生成历史失败")
		return
	}
	items := make([]GenerationSummary, 0, len(list))
	for _, job := range list {
		item := GenerationSummary{
			JobID:       job.JobID,
			FileID:      job.FileID,
			CompanyName: job.CompanyName,
			JobTitle:    job.JobTitle,
			CreatedAt:   job.CreatedAt.UTC().Format(timeLayout),
			Result:      json.RawMessage(job.Result),
		}
		if job.CompletedAt != nil {
			item.CompletedAt = job.CompletedAt.UTC().Format(timeLayout)
		}
		items = append(items, item)
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"generations": items,
		"count":       len(items),
	})
}
