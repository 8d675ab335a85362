// Package auth 校验调用方身份：前端的 Bearer JWT 与支付平台的回调签名。
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"resume-tailor/internal/config"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier 校验 RS256 签名的 JWT，sub 即用户ID
type Verifier struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience string
	jwks     *keyfunc.JWKS
	parser   *jwt.Parser
}

// NewVerifier 使用给定的取钥函数，issuer/audience 为空时不校验
func NewVerifier(keyFunc jwt.Keyfunc, issuer, audience string) *Verifier {
	return &Verifier{
		keyFunc:  keyFunc,
		issuer:   issuer,
		audience: audience,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})),
	}
}

// NewJWKSVerifier 从 JWKS 地址拉取公钥，后台定时刷新，遇到未知 kid 时立即刷新
func NewJWKSVerifier(cfg config.AuthConfig) (*Verifier, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("auth.jwks_url 未配置")
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
		RefreshInterval:   config.GetDuration(cfg.RefreshInterval, time.Hour),
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("获取JWKS失败: %w", err)
	}
	v := NewVerifier(jwks.Keyfunc, cfg.Issuer, cfg.Audience)
	v.jwks = jwks
	return v, nil
}

// Verify 校验签名、有效期及 issuer/audience，返回 sub
func (v *Verifier) Verify(tokenString string) (string, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return "", ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, v.keyFunc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return "", fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return "", fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Close 停止 JWKS 后台刷新
func (v *Verifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
