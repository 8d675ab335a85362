package auth

import (
	"context"

	"resume-tailor/internal/logger"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

// ContextUserID 请求上下文中保存用户ID的键
const ContextUserID = "user_id"

// TokenVerifier 由 Verifier 实现
type TokenVerifier interface {
	Verify(tokenString string) (string, error)
}

// Middleware 从 Authorization: Bearer 取 token，校验通过后把 sub 写入请求上下文
func Middleware(v TokenVerifier) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, token string) (bool, error) {
			userID, err := v.Verify(token)
			if err != nil {
				return false, err
			}
			c.Set(ContextUserID, userID)
			return true, nil
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			logger.Debug().Err(err).Str("path", string(c.Path())).Msg("鉴权失败")
			c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "Unauthorized"})
		}),
	)
}

// UserID 取中间件写入的用户ID
func UserID(c *app.RequestContext) (string, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
