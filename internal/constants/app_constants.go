package constants

import "time"

// ResumeFile.processing_status
const (
	FileStatusPending       = "PENDING"
	FileStatusProcessing    = "PROCESSING"
	FileStatusReadyForQuery = "READY_FOR_QUERY"
	FileStatusFailed        = "FAILED"
	FileStatusCompleted     = "COMPLETED"
)

// ResumeFile.error_type
const (
	ErrorTypeValidation = "VALIDATION_ERROR"
	ErrorTypeProcessing = "PROCESSING_ERROR"
)

// GenerationJob.status
const (
	JobStatusProcessing = "PROCESSING"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
)

// OutboxMessage.status
const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

const (
	// 对象存储 key 前缀，完整格式 user-{userId}/{fileId}-{filename}
	UserObjectPrefix = "user-"
	// 生成结果归档目录，完整格式 user-{userId}/generations/{jobId}.json
	GenerationArchiveDir = "generations"

	UnknownCompany  = "Unknown Company"
	UnknownPosition = "Unknown Position"

	// 状态查询时 FAILED 任务缺省的错误信息
	DefaultJobErrorMessage = "Unknown error"
	// 超过截止时间仍在 PROCESSING 的任务按此信息视为失败
	JobTimedOutMessage = "generation timed out before completion"

	NoTextExtractedMessage   = "No text could be extracted from the PDF."
	NoRelevantContextMessage = "Could not find any relevant sections in the master resume for this job description."

	// 检索结果拼接分隔符
	ContextChunkSeparator = "\n---\n"

	// 向量检索查询与文档的任务类型
	TaskTypeRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskTypeRetrievalQuery    = "RETRIEVAL_QUERY"

	DefaultQueryVectorTTL = 24 * time.Hour
)
