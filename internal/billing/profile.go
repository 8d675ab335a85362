package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"resume-tailor/internal/config"
	"resume-tailor/internal/storage/models"
	"resume-tailor/pkg/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrProfileNotFound 用户尚未建档
	ErrProfileNotFound = errors.New("profile not found")
	// ErrInvalidPurchase 回调数据缺少必填项
	ErrInvalidPurchase = errors.New("invalid purchase")
	// ErrDuplicateWebhook 同一回调ID已经入账
	ErrDuplicateWebhook = errors.New("webhook already processed")
)

// ProfileUpdate 用户可编辑的资料字段，额度相关字段不在此列
type ProfileUpdate struct {
	Name               string `json:"name" validate:"required,max=255"`
	Email              string `json:"email" validate:"required,email"`
	Phone              string `json:"phone" validate:"omitempty,max=64"`
	Location           string `json:"location" validate:"omitempty,max=255"`
	LinkedinURL        string `json:"linkedinUrl" validate:"omitempty,url"`
	GithubURL          string `json:"githubUrl" validate:"omitempty,url"`
	PortfolioURL       string `json:"portfolioUrl" validate:"omitempty,url"`
	CustomURL          string `json:"customUrl" validate:"omitempty,url"`
	CustomURLLabel     string `json:"customUrlLabel" validate:"omitempty,max=128"`
	OnboardingComplete bool   `json:"onboardingComplete"`
}

// Purchase 一次支付成功回调
type Purchase struct {
	UserID     string `json:"userId"`
	ProductID  string `json:"productId"`
	Credits    int    `json:"credits"`
	Amount     int64  `json:"amount"`
	PaymentID  string `json:"paymentId"`
	CustomerID string `json:"customerId"`
}

// Validate 校验必填项
func (p Purchase) Validate() error {
	var missing []string
	if strings.TrimSpace(p.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(p.ProductID) == "" {
		missing = append(missing, "productId")
	}
	if p.Credits <= 0 {
		missing = append(missing, "credits")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing or invalid %s", ErrInvalidPurchase, strings.Join(missing, ", "))
	}
	return nil
}

// Service 用户资料读写与入账
type Service struct {
	db   *gorm.DB
	gate *Gate
	now  func() time.Time
}

// NewService 创建资料服务
func NewService(db *gorm.DB, cfg config.CreditsConfig) *Service {
	return &Service{db: db, gate: NewGate(cfg), now: time.Now}
}

// Gate 返回创建任务时使用的额度闸门
func (s *Service) Gate() *Gate {
	return s.gate
}

// GetProfile 读取用户资料
func (s *Service) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户资料失败: %w", err)
	}
	return &profile, nil
}

// SaveProfile 新建或更新联系方式，保留额度、档位和购买记录
func (s *Service) SaveProfile(ctx context.Context, userID string, update ProfileUpdate) (*models.UserProfile, error) {
	var saved models.UserProfile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile, err := s.gate.lockProfile(tx, userID)
		if err != nil {
			return err
		}
		err = tx.Model(&models.UserProfile{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"name":                update.Name,
				"email":               update.Email,
				"phone":               update.Phone,
				"location":            update.Location,
				"linkedin_url":        update.LinkedinURL,
				"github_url":          update.GithubURL,
				"portfolio_url":       update.PortfolioURL,
				"custom_url":          update.CustomURL,
				"custom_url_label":    update.CustomURLLabel,
				"onboarding_complete": update.OnboardingComplete,
			}).Error
		if err != nil {
			return fmt.Errorf("更新用户资料失败: %w", err)
		}

		saved = *profile
		saved.Name = update.Name
		saved.Email = update.Email
		saved.Phone = update.Phone
		saved.Location = update.Location
		saved.LinkedinURL = update.LinkedinURL
		saved.GithubURL = update.GithubURL
		saved.PortfolioURL = update.PortfolioURL
		saved.CustomURL = update.CustomURL
		saved.CustomURLLabel = update.CustomURLLabel
		saved.OnboardingComplete = update.OnboardingComplete
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// ApplyPurchase 为用户入账额度。webhookID 非空时先登记，重复的回调返回 ErrDuplicateWebhook。
func (s *Service) ApplyPurchase(ctx context.Context, webhookID string, p Purchase) (*models.UserProfile, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var updated models.UserProfile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if webhookID != "" {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&models.ProcessedWebhook{WebhookID: webhookID, ProcessedAt: s.now().UTC()})
			if res.Error != nil {
				return fmt.Errorf("登记回调ID失败: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrDuplicateWebhook
			}
		}

		profile, err := s.gate.lockProfile(tx, p.UserID)
		if err != nil {
			return err
		}

		purchasedAt := s.now().UTC()
		history, err := utils.AppendJSONArray(profile.PurchaseHistory, models.PurchaseRecord{
			ProductID:    p.ProductID,
			Credits:      p.Credits,
			Amount:       p.Amount,
			PaymentID:    p.PaymentID,
			PurchaseDate: purchasedAt,
		})
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"credits_remaining":        gorm.Expr("credits_remaining + ?", p.Credits),
			"total_credits_purchased":  gorm.Expr("total_credits_purchased + ?", p.Credits),
			"last_purchase_product_id": p.ProductID,
			"last_purchase_credits":    p.Credits,
			"last_purchase_amount":     p.Amount,
			"last_purchase_date":       purchasedAt,
			"last_payment_id":          p.PaymentID,
			"purchase_history":         history,
		}
		if p.CustomerID != "" {
			updates["customer_id"] = p.CustomerID
		}
		if err := tx.Model(&models.UserProfile{}).Where("user_id = ?", p.UserID).Updates(updates).Error; err != nil {
			return fmt.Errorf("入账额度失败: %w", err)
		}

		updated = *profile
		updated.CreditsRemaining += p.Credits
		updated.TotalCreditsPurchased += p.Credits
		updated.LastPurchaseProductID = p.ProductID
		updated.LastPurchaseCredits = p.Credits
		updated.LastPurchaseAmount = p.Amount
		updated.LastPurchaseDate = &purchasedAt
		updated.LastPaymentID = p.PaymentID
		if p.CustomerID != "" {
			updated.CustomerID = p.CustomerID
		}
		updated.PurchaseHistory = history
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
