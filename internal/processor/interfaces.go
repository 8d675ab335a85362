package processor

import (
	"context"
	"time"

	"resume-tailor/internal/jobs"
	"resume-tailor/internal/storage"
	"resume-tailor/internal/storage/models"
)

//
// 存储相关接口，由 internal/storage 实现
//

// FileLookup 读取简历文件记录
type FileLookup interface {
	GetResumeFile(ctx context.Context, fileID string) (*models.ResumeFile, error)
}

// IngestionStore 入库流程需要的文件状态读写
type IngestionStore interface {
	FileLookup
	// BeginIngestion 置为 PROCESSING 并返回新的入库版本号
	BeginIngestion(ctx context.Context, fileID string) (int, error)
	MarkFileReady(ctx context.Context, fileID string, chunkCount int) error
	MarkFileFailed(ctx context.Context, fileID, errorType, detail string) error
}

// ObjectFetcher 从对象存储下载原始文件
type ObjectFetcher interface {
	DownloadFile(ctx context.Context, objectKey string) ([]byte, error)
}

// ResultArchiver 归档生成结果
type ResultArchiver interface {
	UploadJSON(ctx context.Context, objectKey string, data []byte) error
}

// ChunkIndex 向量索引写入
type ChunkIndex interface {
	DeleteFileChunks(ctx context.Context, ownerUserID, fileID string) error
	UpsertChunks(ctx context.Context, points []storage.ChunkPoint) error
}

// ChunkSearcher 按 owner + file 过滤的相似度检索
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, vector []float64, ownerUserID, fileID string, limit int) ([]storage.ChunkMatch, error)
}

// IngestLocker 单文件入库锁，返回释放函数
type IngestLocker interface {
	AcquireIngestLock(ctx context.Context, fileID string, ttl time.Duration) (func(context.Context), error)
}

// QueryVectorCache JD 查询向量缓存
type QueryVectorCache interface {
	GetJobVector(ctx context.Context, jdMD5 string, modelVersion string) ([]float64, error)
	SetJobVector(ctx context.Context, jdMD5 string, vector []float64, modelVersion string) error
}

//
// 解析相关接口，由 internal/parser 实现
//

// TextExtractor PDF 文本提取
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, uri string) (string, error)
}

//
// 任务相关接口，由 internal/jobs 实现
//

// JobRecorder 写入生成任务终态
type JobRecorder interface {
	Complete(ctx context.Context, jobID string, c jobs.Completion) error
	Fail(ctx context.Context, jobID, message string) error
}
