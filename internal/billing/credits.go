// Package billing 额度闸门、用户资料与购买回调入账
package billing

import (
	"errors"
	"fmt"

	"resume-tailor/internal/config"
	"resume-tailor/internal/storage/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInsufficientCredits 额度不足
var ErrInsufficientCredits = errors.New("insufficient credits")

// InsufficientCreditsError 额度耗尽时返回，对外映射为 403
type InsufficientCreditsError struct {
	UserID string
}

func (e *InsufficientCreditsError) Error() string {
	return "No credits remaining. Please purchase more credits to continue."
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// Gate 在创建任务的事务内扣减一次生成额度
type Gate struct {
	defaultCredits int
	defaultTier    string
	unlimitedTier  string
}

// NewGate 从配置创建额度闸门
func NewGate(cfg config.CreditsConfig) *Gate {
	g := &Gate{
		defaultCredits: cfg.DefaultCredits,
		defaultTier:    cfg.DefaultTier,
		unlimitedTier:  cfg.UnlimitedTier,
	}
	if g.defaultTier == "" {
		g.defaultTier = "free"
	}
	if g.unlimitedTier == "" {
		g.unlimitedTier = "unlimited"
	}
	return g
}

// Consume 必须在调用方事务内执行。
// 没有资料的用户自动建档并赠送默认额度；unlimited 档位不扣减。
func (g *Gate) Consume(tx *gorm.DB, userID string) error {
	profile, err := g.lockProfile(tx, userID)
	if err != nil {
		return err
	}
	if profile.SubscriptionTier == g.unlimitedTier {
		return nil
	}

	res := tx.Model(&models.UserProfile{}).
		Where("user_id = ? AND credits_remaining > 0", userID).
		Update("credits_remaining", gorm.Expr("credits_remaining - 1"))
	if res.Error != nil {
		return fmt.Errorf("扣减额度失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &InsufficientCreditsError{UserID: userID}
	}
	return nil
}

// lockProfile 对用户资料加行锁，不存在时创建
func (g *Gate) lockProfile(tx *gorm.DB, userID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&profile).Error
	if err == nil {
		return &profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询用户额度失败: %w", err)
	}

	profile = models.UserProfile{
		UserID:           userID,
		CreditsRemaining: g.defaultCredits,
		SubscriptionTier: g.defaultTier,
		PurchaseHistory:  []byte("[]"),
	}
	if err := tx.Create(&profile).Error; err != nil {
		return nil, fmt.Errorf("创建用户资料失败: %w", err)
	}
	return &profile, nil
}
