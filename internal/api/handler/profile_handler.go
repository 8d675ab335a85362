package handler

import (
	"context"
	"encoding/json"
	"errors"

	"resume-tailor/internal/auth"
	"resume-tailor/internal/billing"
	"resume-tailor/internal/logger"
	"resume-tailor/internal/storage/models"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// ProfileService 用户资料与入账，由 billing.Service 实现
type ProfileService interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	SaveProfile(ctx context.Context, userID string, update billing.ProfileUpdate) (*models.UserProfile, error)
	ApplyPurchase(ctx context.Context, webhookID string, p billing.Purchase) (*models.UserProfile, error)
}

// WebhookVerifier 由 auth.WebhookVerifier 实现
type WebhookVerifier interface {
	Verify(id, timestamp, signatures string, body []byte) error
}

// ProfileHandler 资料读写与支付回调
type ProfileHandler struct {
	profiles ProfileService
	webhooks WebhookVerifier
}

// NewProfileHandler 创建资料处理器
func NewProfileHandler(profiles ProfileService, webhooks WebhookVerifier) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, webhooks: webhooks}
}

// ProfileView 资料响应，包含只读的额度字段
type ProfileView struct {
	UserID                string          `json:"userId"`
	Name                  string          `json:"name"`
	Email                 string          `json:"email"`
	Phone                 string          `json:"phone"`
	Location              string          `json:"location"`
	LinkedinURL           string          `json:"linkedinUrl"`
	GithubURL             string          `json:"githubUrl"`
	PortfolioURL          string          `json:"portfolioUrl"`
	CustomURL             string          `json:"customUrl"`
	CustomURLLabel        string          `json:"customUrlLabel"`
	OnboardingComplete    bool            `json:"onboardingComplete"`
	CreditsRemaining      int             `json:"creditsRemaining"`
	SubscriptionTier      string          `json:"subscriptionTier"`
	TotalCreditsPurchased int             `json:"totalCreditsPurchased"`
	LastPurchaseDate      string          `json:"lastPurchaseDate,omitempty"`
	PurchaseHistory       json.RawMessage `json:"purchaseHistory,omitempty"`
}

func newProfileView(p *models.UserProfile) *ProfileView {
	v := &ProfileView{
		UserID:                p.UserID,
		Name:                  p.Name,
		Email:                 p.Email,
		Phone:                 p.Phone,
		Location:              p.Location,
		LinkedinURL:           p.LinkedinURL,
		GithubURL:             p.GithubURL,
		PortfolioURL:          p.PortfolioURL,
		CustomURL:             p.CustomURL,
		CustomURLLabel:        p.CustomURLLabel,
		OnboardingComplete:    p.OnboardingComplete,
		CreditsRemaining:      p.CreditsRemaining,
		SubscriptionTier:      p.SubscriptionTier,
		TotalCreditsPurchased: p.TotalCreditsPurchased,
		PurchaseHistory:       json.RawMessage(p.PurchaseHistory),
	}
	if p.LastPurchaseDate != nil {
		v.LastPurchaseDate = p.LastPurchaseDate.UTC().Format(timeLayout)
	}
	return v
}

// HandleGetProfile GET /profile
func (h *ProfileHandler) HandleGetProfile(ctx context.Context, c *app.RequestContext) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	profile, err := h.profiles.GetProfile(ctx, userID)
	if errors.Is(err, billing.ErrProfileNotFound) {
		c.JSON(consts.StatusOK, map[string]interface{}{"hasProfile": false, "profile": nil})
		return
	}
	if err != nil {
		internalError(c, err, "查询用户资料失败")
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"hasProfile": true, "profile": newProfileView(profile)})
}

// HandleSaveProfile POST /profile
func (h *ProfileHandler) HandleSaveProfile(ctx context.Context, c *app.RequestContext) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var update billing.ProfileUpdate
	if err := decodeAndValidate(c, &update); err != nil {
		writeError(c, consts.StatusBadRequest, err.Error())
		return
	}
	profile, err := h.profiles.SaveProfile(ctx, userID, update)
	if err != nil {
		internalError(c, err, "保存用户资料失败")
		return
	}
	c.JSON(consts.StatusOK, newProfileView(profile))
}

// HandleSubscriptionWebhook POST /webhooks/subscription，签名校验代替 Bearer 鉴权
func (h *ProfileHandler) HandleSubscriptionWebhook(ctx context.Context, c *app.RequestContext) {
	body := c.Request.Body()
	webhookID := string(c.GetHeader(auth.HeaderWebhookID))
	err := h.webhooks.Verify(
		webhookID,
		string(c.GetHeader(auth.HeaderWebhookTimestamp)),
		string(c.GetHeader(auth.HeaderWebhookSignature)),
		body,
	)
	if err != nil {
		logger.Warn().Err(err).Str("webhook_id", webhookID).Msg("支付回调签名校验失败")
		writeError(c, consts.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	var purchase billing.Purchase
	if err := json.Unmarshal(body, &purchase); err != nil {
		writeError(c, consts.StatusBadRequest, "Invalid JSON body")
		return
	}

	profile, err := h.profiles.ApplyPurchase(ctx, webhookID, purchase)
	switch {
	case errors.Is(err, billing.ErrInvalidPurchase):
		writeError(c, consts.StatusBadRequest, err.Error())
		return
	case errors.Is(err, billing.ErrDuplicateWebhook):
		logger.Info().Str("webhook_id", webhookID).Msg("重复的支付回调，已忽略")
		c.JSON(consts.StatusOK, map[string]interface{}{"success": true, "duplicate": true})
		return
	case err != nil:
		internalError(c, err, "支付回调入账失败")
		return
	}

	logger.Info().
		Str("webhook_id", webhookID).
		Str("user_id", purchase.UserID).
		Str("product_id", purchase.ProductID).
		Int("credits", purchase.Credits).
		Msg("额度已入账")
	c.JSON(consts.StatusOK, map[string]interface{}{"success": true, "profile": newProfileView(profile)})
}
