package handler

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"resume-tailor/internal/constants"
	"resume-tailor/internal/logger"
	"resume-tailor/internal/storage"
	"resume-tailor/internal/storage/models"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"
)

const defaultUploadURLExpiry = time.Hour

// ResumeFileStore 简历文件记录
type ResumeFileStore interface {
	CreateResumeFile(ctx context.Context, file *models.ResumeFile) error
	GetResumeFile(ctx context.Context, fileID string) (*models.ResumeFile, error)
	ListResumeFiles(ctx context.Context, ownerUserID string) ([]models.ResumeFile, error)
}

// UploadPresigner 生成直传对象存储的预签名 PUT 地址
type UploadPresigner interface {
	PresignUpload(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// ResumeHandler 主简历上传地址与文件状态查询
type ResumeHandler struct {
	files     ResumeFileStore
	presigner UploadPresigner
	expiry    time.Duration
	newID     func() (string, error)
}

// NewResumeHandler 创建简历处理器
func NewResumeHandler(files ResumeFileStore, presigner UploadPresigner, expiry time.Duration) *ResumeHandler {
	if expiry <= 0 {
		expiry = defaultUploadURLExpiry
	}
	return &ResumeHandler{
		files:     files,
		presigner: presigner,
		expiry:    expiry,
		newID: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
}

// UploadURLResponse 上传地址响应
type UploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	FileID    string `json:"fileId"`
	S3Key     string `json:"s3Key"`
}

// ResumeFileView 文件状态
type ResumeFileView struct {
	FileID           string `json:"fileId"`
	OriginalFilename string `json:"originalFilename"`
	ProcessingStatus string `json:"processingStatus"`
	ErrorType        string `json:"errorType,omitempty"`
	ErrorDetail      string `json:"errorDetail,omitempty"`
	ChunkCount       int    `json:"chunkCount"`
	UploadedAt       string `json:"uploadedAt"`
}

func newResumeFileView(f *models.ResumeFile) ResumeFileView {
	return ResumeFileView{
		FileID:           f.FileID,
		OriginalFilename: f.OriginalFilename,
		ProcessingStatus: f.ProcessingStatus,
		ErrorType:        f.ErrorType,
		ErrorDetail:      f.ErrorDetail,
		ChunkCount:       f.ChunkCount,
		UploadedAt:       f.CreatedAt.UTC().Format(timeLayout),
	}
}

// HandleUploadURL GET /uploads/url?fileName=
// 先登记 PENDING 文件记录，再返回预签名地址；上传完成后由存储通知触发入库
func (h *ResumeHandler) HandleUploadURL(ctx context.Context, c *app.RequestContext) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	fileName := path.Base(strings.TrimSpace(c.Query("fileName")))
	if fileName == "" || fileName == "." || fileName == "/" {
		writeError(c, consts.StatusBadRequest, "fileName is required")
		return
	}
	if !strings.EqualFold(path.Ext(fileName), ".pdf") {
		writeError(c, consts.StatusBadRequest, "Only PDF files are supported")
		return
	}

	fileID, err := h.newID()
	if err != nil {
		internalError(c, err, "生成文件ID失败")
		return
	}
	objectKey := storage.BuildResumeObjectKey(userID, fileID, fileName)

	uploadURL, err := h.presigner.PresignUpload(ctx, objectKey, h.expiry)
	if err != nil {
		internalError(c, err, "生成上传地址失败")
		return
	}

	file := &models.ResumeFile{
		FileID:           fileID,
		OwnerUserID:      userID,
		OriginalFilename: fileName,
		ObjectKey:        objectKey,
		ProcessingStatus: constants.FileStatusPending,
	}
	if err := h.files.CreateResumeFile(ctx, file); err != nil {
		internalError(c, err, "登记简历文件失败")
		return
	}

	logger.Info().
		Str("user_id", userID).
		Str("file_id", fileID).
		Str("object_key", objectKey).
		Msg("已签发简历上传地址")

	c.JSON(consts.StatusOK, UploadURLResponse{UploadURL: uploadURL, FileID: fileID, S3Key: objectKey})
}

// HandleListFiles GET /files
func (h *ResumeHandler) HandleListFiles(ctx context.Context, c *app.RequestContext) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	files, err := h.files.ListResumeFiles(ctx, userID)
	if err != nil {
		internalError(c, err, "查询简历列表失败")
		return
	}
	views := make([]ResumeFileView, 0, len(files))
	for i := range files {
		views = append(views, newResumeFileView(&files[i]))
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"resumes": views,
		"count":   len(views),
	})
}

// HandleGetFile GET /files/:fileId，非本人的文件同样返回 404
func (h *ResumeHandler) HandleGetFile(ctx context.Context, c *app.RequestContext) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	file, err := h.files.GetResumeFile(ctx, c.Param("fileId"))
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
	c.JSON(consts.StatusOK, newResumeFileView(file))
}
