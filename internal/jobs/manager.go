// Package jobs 生成任务的生命周期：创建、终态转换、超时视图与过期清理
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resume-tailor/internal/constants"
	"resume-tailor/internal/outbox"
	"resume-tailor/internal/storage"
	"resume-tailor/internal/storage/models"

	"github.com/gofrs/uuid/v5"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// EventGenerationRequested 发件箱事件类型
	EventGenerationRequested = "GenerationRequested"

	defaultDeadline = 10 * time.Minute
	defaultTTL      = 24 * time.Hour
)

var (
	// ErrJobNotFound 任务不存在或已过期
	ErrJobNotFound = errors.New("job not found")
	// ErrJobAlreadyTerminal 任务已是 COMPLETED/FAILED，终态只写一次
	ErrJobAlreadyTerminal = errors.New("job already in terminal state")
)

// CreditGate 在创建任务的事务内扣减额度
type CreditGate interface {
	Consume(tx *gorm.DB, userID string) error
}

// CreateRequest 创建任务的入参
type CreateRequest struct {
	UserID         string
	FileID         string
	JobDescription string
	PromptVersion  string
}

// Completion 生成成功时写入的字段
type Completion struct {
	Result        datatypes.JSON
	CompanyName   string
	JobTitle      string
	PromptVersion string
}

// Manager 任务仓储与状态机
type Manager struct {
	db         *gorm.DB
	gate       CreditGate
	exchange   string
	routingKey string
	deadline   time.Duration
	ttl        time.Duration
	now        func() time.Time
	newID      func() (string, error)
}

// Option Manager 参数
type Option func(*Manager)

// WithDeadline PROCESSING 状态允许持续的最长时间
func WithDeadline(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.deadline = d
		}
	}
}

// WithTTL 任务记录保留时长
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager 创建任务管理器。exchange/routingKey 为生成请求的投递目标。
func NewManager(db *gorm.DB, gate CreditGate, exchange, routingKey string, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		gate:       gate,
		exchange:   exchange,
		routingKey: routingKey,
		deadline:   defaultDeadline,
		ttl:        defaultTTL,
		now:        time.Now,
		newID: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create 在同一事务内扣额度、写任务、写发件箱。额度不足时什么都不落库。
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.GenerationJob, error) {
	jobID, err := m.newID()
	if err != nil {
		return nil, fmt.Errorf("生成任务ID失败: %w", err)
	}
	now := m.now().UTC()
	job := &models.GenerationJob{
		JobID:          jobID,
		OwnerUserID:    req.UserID,
		FileID:         req.FileID,
		JobDescription: req.JobDescription,
		Status:         constants.JobStatusProcessing,
		PromptVersion:  req.PromptVersion,
		CreatedAt:      now,
		DeadlineAt:     now.Add(m.deadline),
		ExpiresAt:      now.Add(m.ttl),
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if m.gate != nil {
			if err := m.gate.Consume(tx, req.UserID); err != nil {
				return err
			}
		}
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("创建生成任务失败: %w", err)
		}
		return outbox.Enqueue(tx, jobID, EventGenerationRequested, m.exchange, m.routingKey,
			storage.GenerationRequestedMessage{JobID: jobID, FileID: req.FileID, UserID: req.UserID})
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Complete PROCESSING -> COMPLETED
func (m *Manager) Complete(ctx context.Context, jobID string, c Completion) error {
	return m.finish(ctx, jobID, map[string]interface{}{
		"status":         constants.JobStatusCompleted,
		"result":         c.Result,
		"company_name":   c.CompanyName,
		"job_title":      c.JobTitle,
		"prompt_version": c.PromptVersion,
		"completed_at":   m.now().UTC(),
	})
}

// Fail PROCESSING -> FAILED
func (m *Manager) Fail(ctx context.Context, jobID, message string) error {
	if message == "" {
		message = constants.DefaultJobErrorMessage
	}
	return m.finish(ctx, jobID, map[string]interface{}{
		"status":        constants.JobStatusFailed,
		"error_message": message,
		"completed_at":  m.now().UTC(),
	})
}

func (m *Manager) finish(ctx context.Context, jobID string, updates map[string]interface{}) error {
	res := m.db.WithContext(ctx).Model(&models.GenerationJob{}).
		Where("job_id = ? AND status = ?", jobID, constants.JobStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("更新任务 %s 状态失败: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobAlreadyTerminal
	}
	return nil
}

// Get 读取任务并套用读时视图：过期视为不存在，超过截止时间仍在 PROCESSING 视为失败
func (m *Manager) Get(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	var job models.GenerationJob
	err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询任务失败: %w", err)
	}
	if !m.applyView(&job) {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

// ListCompleted 用户已完成且未过期的任务，最近完成的在前
func (m *Manager) ListCompleted(ctx context.Context, userID string) ([]models.GenerationJob, error) {
	var list []models.GenerationJob
	err := m.db.WithContext(ctx).
		Where("owner_user_id = ? AND status = ? AND expires_at > ?", userID, constants.JobStatusCompleted, m.now().UTC()).
		Order("completed_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("查询已完成任务失败: %w", err)
	}
	for i := range list {
		m.applyView(&list[i])
	}
	return list, nil
}

// applyView 返回 false 表示记录已过期
func (m *Manager) applyView(job *models.GenerationJob) bool {
	now := m.now()
	if !job.ExpiresAt.IsZero() && now.After(job.ExpiresAt) {
		return false
	}
	if job.Status == constants.JobStatusProcessing && !job.DeadlineAt.IsZero() && now.After(job.DeadlineAt) {
		job.Status = constants.JobStatusFailed
		job.ErrorMessage = constants.JobTimedOutMessage
	}
	if job.Status == constants.JobStatusFailed && job.ErrorMessage == "" {
		job.ErrorMessage = constants.DefaultJobErrorMessage
	}
	if job.CompanyName == "" {
		job.CompanyName = constants.UnknownCompany
	}
	if job.JobTitle == "" {
		job.JobTitle = constants.UnknownPosition
	}
	return true
}

// FailOverdue 把超过截止时间的 PROCESSING 任务落库为 FAILED
func (m *Manager) FailOverdue(ctx context.Context) (int64, error) {
	now := m.now().UTC()
	res := m.db.WithContext(ctx).Model(&models.GenerationJob{}).
		Where("status = ? AND deadline_at < ?", constants.JobStatusProcessing, now).
		Updates(map[string]interface{}{
			"status":        constants.JobStatusFailed,
			"error_message": constants.JobTimedOutMessage,
			"completed_at":  now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("标记超时任务失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteExpired 删除超过保留时长的任务
func (m *Manager) DeleteExpired(ctx context.Context) (int64, error) {
	res := m.db.WithContext(ctx).
		Where("expires_at < ?", m.now().UTC()).
		Delete(&models.GenerationJob{})
	if res.Error != nil {
		return 0, fmt.Errorf("清理过期任务失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}
