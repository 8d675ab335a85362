package handler

import (
	"context"
	"time"

	"resume-tailor/internal/logger"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// HealthChecker 由 storage.Storage 实现，返回各依赖的检查结果
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

// HandleHealthz GET /healthz，任一依赖不可用返回 503
func HandleHealthz(checker HealthChecker) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		components := map[string]string{}
		healthy := true
		for name, err := range checker.HealthCheck(ctx) {
			if err != nil {
				healthy = false
				components[name] = err.Error()
				logger.Warn().Err(err).Str("component", name).Msg("健康检查失败")
				continue
			}
			components[name] = "ok"
		}

		status := consts.StatusOK
		overall := "ok"
		if !healthy {
			status = consts.StatusServiceUnavailable
			overall = "degraded"
		}
		c.JSON(status, map[string]interface{}{"status": overall, "components": components})
	}
}
