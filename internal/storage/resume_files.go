package storage

import (
	"context"
	"errors"
	"fmt"

	"resume-tailor/internal/constants"
	"resume-tailor/internal/storage/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

// CreateResumeFile 签发上传URL时创建 PENDING 记录
func (m *MySQL) CreateResumeFile(ctx context.Context, file *models.ResumeFile) error {
	if file.ProcessingStatus == "" {
		file.ProcessingStatus = constants.FileStatusPending
	}
	if err := m.db.WithContext(ctx).Create(file).Error; err != nil {
		return fmt.Errorf("创建简历文件记录失败: %w", err)
	}
	return nil
}

// GetResumeFile 按 fileId 读取
func (m *MySQL) GetResumeFile(ctx context.Context, fileID string) (*models.ResumeFile, error) {
	var file models.ResumeFile
	err := m.db.WithContext(ctx).Where("file_id = ?", fileID).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询简历文件失败: %w", err)
	}
	return &file, nil
}

// ListResumeFiles 列出用户的全部简历，新上传的在前
func (m *MySQL) ListResumeFiles(ctx context.Context, ownerUserID string) ([]models.ResumeFile, error) {
	var files []models.ResumeFile
	err := m.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at DESC").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("查询用户简历列表失败: %w", err)
	}
	return files, nil
}

// BeginIngestion 把文件置为 PROCESSING 并递增入库版本，返回新版本号
func (m *MySQL) BeginIngestion(ctx context.Context, fileID string) (int, error) {
	var version int
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file models.ResumeFile
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("file_id = ?", fileID).First(&file).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		version = file.IngestionVersion + 1
		return tx.Model(&models.ResumeFile{}).
			Where("file_id = ?", fileID).
			Updates(map[string]interface{}{
				"processing_status": constants.FileStatusProcessing,
				"error_type":        "",
				"error_detail":      "",
				"ingestion_version": version,
			}).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("标记文件开始入库失败: %w", err)
	}
	return version, nil
}

// MarkFileReady 入库成功
func (m *MySQL) MarkFileReady(ctx context.Context, fileID string, chunkCount int) error {
	err := m.db.WithContext(ctx).Model(&models.ResumeFile{}).
		Where("file_id = ?", fileID).
		Updates(map[string]interface{}{
			"processing_status": constants.FileStatusReadyForQuery,
			"chunk_count":       chunkCount,
			"error_type":        "",
			"error_detail":      "",
		}).Error
	if err != nil {
		return fmt.Errorf("更新文件状态为 READY_FOR_QUERY 失败: %w", err)
	}
	return nil
}

// MarkFileFailed 入库失败，errorType 区分校验失败与处理失败
func (m *MySQL) MarkFileFailed(ctx context.Context, fileID, errorType, detail string) error {
	err := m.db.WithContext(ctx).Model(&models.ResumeFile{}).
		Where("file_id = ?", fileID).
		Updates(map[string]interface{}{
			"processing_status": constants.FileStatusFailed,
			"error_type":        errorType,
			"error_detail":      detail,
		}).Error
	if err != nil {
		return fmt.Errorf("更新文件状态为 FAILED 失败: %w", err)
	}
	return nil
}
