package storage

import "time"

// ResumeUploadedMessage 上传完成后投递到 ingest 队列
type ResumeUploadedMessage struct {
	ObjectKey  string    `json:"object_key"`
	Bucket     string    `json:"bucket,omitempty"`
	Size       int64     `json:"size,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// GenerationRequestedMessage 生成任务创建后经发件箱投递
type GenerationRequestedMessage struct {
	JobID  string `json:"job_id"`
	FileID string `json:"file_id"`
	UserID string `json:"user_id"`
}
