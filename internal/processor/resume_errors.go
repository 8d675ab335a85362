package processor

import (
	"errors"

	"resume-tailor/internal/constants"
)

// 定义基础错误类型
var (
	ErrExtraction          = errors.New("无法从PDF中提取文本")
	ErrNotAResume          = errors.New("上传的文档不像简历")
	ErrOwnerResolution     = errors.New("无法确定简历所有者")
	ErrNoRelevantContext   = errors.New("没有检索到相关简历内容")
	ErrSchemaValidation    = errors.New("模型输出不符合结构约束")
	ErrIngestionInProgress = errors.New("该文件正在入库")
)

// PipelineError 包含操作、对象ID和用户可读原因的流水线错误
type PipelineError struct {
	ID      string // fileId 或 jobId
	Op      string
	BaseErr error
	Detail  string // 面向用户的原因
	Cause   error
}

// Error 以用户可读原因开头，便于直接写入 error_detail / error_message
func (e *PipelineError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.BaseErr.Error()
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *PipelineError) Is(target error) bool {
	return e.BaseErr == target
}

// UserMessage 不带底层原因的用户提示
func (e *PipelineError) UserMessage() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.BaseErr.Error()
}

// 错误构造函数
func NewExtractionError(fileID string, cause error) error {
	return &PipelineError{
		ID:      fileID,
		Op:      "extract",
		BaseErr: ErrExtraction,
		Detail:  constants.NoTextExtractedMessage,
		Cause:   cause,
	}
}

func NewNotAResumeError(fileID, reason string) error {
	return &PipelineError{
		ID:      fileID,
		Op:      "validate",
		BaseErr: ErrNotAResume,
		Detail:  reason,
	}
}

func NewOwnerResolutionError(fileID string, cause error) error {
	return &PipelineError{
		ID:      fileID,
		Op:      "resolve_owner",
		BaseErr: ErrOwnerResolution,
		Detail:  "Could not resolve the owner of resume file " + fileID + ".",
		Cause:   cause,
	}
}

func NewNoRelevantContextError(jobID string) error {
	return &PipelineError{
		ID:      jobID,
		Op:      "retrieve",
		BaseErr: ErrNoRelevantContext,
		Detail:  constants.NoRelevantContextMessage,
	}
}

// ClassifyIngestionError 返回写入 resume_files 的 error_type 与 error_detail
func ClassifyIngestionError(err error) (errorType, detail string) {
	var pe *PipelineError
	if errors.As(err, &pe) && (errors.Is(err, ErrNotAResume) || errors.Is(err, ErrExtraction)) {
		return constants.ErrorTypeValidation, pe.UserMessage()
	}
	return constants.ErrorTypeProcessing, err.Error()
}
