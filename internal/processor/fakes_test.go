package processor

import (
	"context"
	"sync"
	"time"

	"resume-tailor/internal/jobs"
	"resume-tailor/internal/parser"
	"resume-tailor/internal/storage"
	"resume-tailor/internal/storage/models"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	testUserID = "user-42"
	testFileID = "0190a6b2-7c1d-7e8f-9a0b-1c2d3e4f5a6b"
)

var testObjectKey = storage.BuildResumeObjectKey(testUserID, testFileID, "resume.pdf")

type fileUpdate struct {
	status    string
	errorType string
	detail    string
	chunks    int
}

// fakeFileStore 记录文件状态变化
type fakeFileStore struct {
	mu       sync.Mutex
	files    map[string]*models.ResumeFile
	getErr   error
	updates  []fileUpdate
	versions int
}

func newFakeFileStore(owner string) *fakeFileStore {
	return &fakeFileStore{files: map[string]*models.ResumeFile{
		testFileID: {FileID: testFileID, OwnerUserID: owner, ObjectKey: testObjectKey, ProcessingStatus: "PENDING"},
	}}
}

func (f *fakeFileStore) GetResumeFile(_ context.Context, fileID string) (*models.ResumeFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	file, ok := f.files[fileID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *file
	return &cp, nil
}

func (f *fakeFileStore) BeginIngestion(_ context.Context, fileID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions++
	f.updates = append(f.updates, fileUpdate{status: "PROCESSING"})
	return f.versions, nil
}

func (f *fakeFileStore) MarkFileReady(_ context.Context, fileID string, chunkCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fileUpdate{status: "READY_FOR_QUERY", chunks: chunkCount})
	return nil
}

func (f *fakeFileStore) MarkFileFailed(_ context.Context, fileID, errorType, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fileUpdate{status: "FAILED", errorType: errorType, detail: detail})
	return nil
}

func (f *fakeFileStore) last() fileUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return fileUpdate{}
	}
	return f.updates[len(f.updates)-1]
}

type fakeObjects struct {
	data     map[string][]byte
	uploaded map[string][]byte
	err      error
}

func (f *fakeObjects) DownloadFile(_ context.Context, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data[key], nil
}

func (f *fakeObjects) UploadJSON(_ context.Context, key string, data []byte) error {
	if f.uploaded == nil {
		f.uploaded = map[string][]byte{}
	}
	f.uploaded[key] = data
	return f.err
}

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) ExtractText(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

// fakeEmbedder 每段文本返回 [长度, 1]，并记录任务类型
type fakeEmbedder struct {
	mu        sync.Mutex
	calls     int
	taskTypes []string
	err       error
}

func (f *fakeEmbedder) EmbedStrings(_ context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	o := embedding.GetImplSpecificOptions(&parser.GeminiEmbeddingOptions{}, opts...)
	f.taskTypes = append(f.taskTypes, o.TaskType)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = []float64{float64(len([]rune(t))), 1}
	}
	return out, nil
}

// fakeIndex 记录写入顺序
type fakeIndex struct {
	ops     []string
	batches [][]storage.ChunkPoint
	err     error
}

func (f *fakeIndex) DeleteFileChunks(_ context.Context, owner, fileID string) error {
	f.ops = append(f.ops, "delete:"+owner+"/"+fileID)
	return nil
}

func (f *fakeIndex) UpsertChunks(_ context.Context, points []storage.ChunkPoint) error {
	f.ops = append(f.ops, "upsert")
	f.batches = append(f.batches, points)
	return f.err
}

func (f *fakeIndex) points() []storage.ChunkPoint {
	var all []storage.ChunkPoint
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

type fakeLocker struct {
	held     bool
	released int
}

func (f *fakeLocker) AcquireIngestLock(context.Context, string, time.Duration) (func(context.Context), error) {
	if f.held {
		return nil, storage.ErrLockHeld
	}
	return func(context.Context) { f.released++ }, nil
}

// fakeSearcher 依次返回预设的检索结果
type fakeSearcher struct {
	results [][]storage.ChunkMatch
	calls   int
	owner   string
	limit   int
}

func (f *fakeSearcher) SearchChunks(_ context.Context, _ []float64, owner, _ string, limit int) ([]storage.ChunkMatch, error) {
	f.owner, f.limit = owner, limit
	idx := f.calls
	f.calls++
	if idx < len(f.results) {
		return f.results[idx], nil
	}
	return nil, nil
}

type fakeVectorCache struct {
	vectors map[string][]float64
}

func (f *fakeVectorCache) GetJobVector(_ context.Context, md5, version string) ([]float64, error) {
	v, ok := f.vectors[md5+"@"+version]
	if !ok {
		return nil, storage.ErrCacheMiss
	}
	return v, nil
}

func (f *fakeVectorCache) SetJobVector(_ context.Context, md5 string, v []float64, version string) error {
	if f.vectors == nil {
		f.vectors = map[string][]float64{}
	}
	f.vectors[md5+"@"+version] = v
	return nil
}

type fakeJobs struct {
	completed   map[string]jobs.Completion
	failed      map[string]string
	completeErr error
	checkCtx    bool // 为 true 时已取消的 ctx 写入失败
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{completed: map[string]jobs.Completion{}, failed: map[string]string{}}
}

func (f *fakeJobs) Complete(ctx context.Context, jobID string, c jobs.Completion) error {
	if f.checkCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed[jobID] = c
	return nil
}

func (f *fakeJobs) Fail(_ context.Context, jobID, message string) error {
	f.failed[jobID] = message
	return nil
}

// scriptedChatModel 固定回复的聊天模型
type scriptedChatModel struct {
	reply string
	err   error
	calls int
	input []*schema.Message
	opts  []model.Option

	onGenerate func()
}

func (s *scriptedChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	s.calls++
	s.input, s.opts = input, opts
	if s.onGenerate != nil {
		s.onGenerate()
	}
	if s.err != nil {
		return nil, s.err
	}
	return schema.AssistantMessage(s.reply, nil), nil
}

func (s *scriptedChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := s.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}
