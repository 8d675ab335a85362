package auth

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"resume-tailor/internal/config"

	svix "github.com/svix/svix-webhooks/go"
)

// Standard Webhooks 头
const (
	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"

	secretPrefix     = "whsec_"
	defaultTolerance = 5 * time.Minute
)

var (
	ErrMissingWebhookHeaders = errors.New("missing webhook headers")
	ErrWebhookTimestamp      = errors.New("webhook timestamp outside tolerance")
	ErrWebhookSignature      = errors.New("no matching webhook signature")
)

// WebhookVerifier 基于 svix 的 Standard Webhooks 签名校验，时间窗口按配置
type WebhookVerifier struct {
	wh        *svix.Webhook
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhookVerifier secret 带 whsec_ 前缀时按 base64 解码，否则按原始字节作为密钥
func NewWebhookVerifier(cfg config.WebhookConfig) (*WebhookVerifier, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("webhook.secret 未配置")
	}
	var (
		wh  *svix.Webhook
		err error
	)
	if strings.HasPrefix(cfg.Secret, secretPrefix) {
		wh, err = svix.NewWebhook(cfg.Secret)
	} else {
		wh, err = svix.NewWebhookRaw([]byte(cfg.Secret))
	}
	if err != nil {
		return nil, fmt.Errorf("webhook.secret 不合法: %w", err)
	}
	return &WebhookVerifier{
		wh:        wh,
		tolerance: config.GetDuration(cfg.Tolerance, defaultTolerance),
		now:       time.Now,
	}, nil
}

// Verify 签名头可包含多个以空格分隔的 v1,<sig>，任意一个匹配即通过
func (w *WebhookVerifier) Verify(id, timestamp, signatures string, body []byte) error {
	if id == "" || timestamp == "" || signatures == "" {
		return ErrMissingWebhookHeaders
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrWebhookTimestamp, timestamp)
	}
	if math.Abs(float64(w.now().Unix()-ts)) > w.tolerance.Seconds() {
		return ErrWebhookTimestamp
	}

	headers := http.Header{}
	headers.Set(HeaderWebhookID, id)
	headers.Set(HeaderWebhookTimestamp, timestamp)
	headers.Set(HeaderWebhookSignature, signatures)
	// 时间窗口已按配置检查
	if err := w.wh.VerifyIgnoringTimestamp(body, headers); err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}
	return nil
}

// Sign 返回完整的签名头值 v1,<base64>
func (w *WebhookVerifier) Sign(id string, timestamp time.Time, body []byte) (string, error) {
	return w.wh.Sign(id, timestamp, body)
}
