package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"resume-tailor/internal/auth"
	"resume-tailor/internal/logger"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/go-playground/validator/v10"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

var validate = newValidator()

// newValidator 错误信息里使用 json 字段名
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeError(c *app.RequestContext, status int, message string) {
	c.JSON(status, utils.H{"error": message})
}

// requireUser 取鉴权中间件写入的用户ID，缺失时直接返回 401
func requireUser(c *app.RequestContext) (string, bool) {
	userID, ok := auth.UserID(c)
	if !ok {
		writeError(c, consts.StatusUnauthorized, "Unauthorized")
		return "", false
	}
	return userID, true
}

// decodeAndValidate 解析 JSON 请求体并按 validate 标签校验
func decodeAndValidate(c *app.RequestContext, dst interface{}) error {
	body := c.Request.Body()
	if len(body) == 0 {
		return errors.New("request body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	return nil
}

// validationMessage 把 validator 的错误转成字段名列表
func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid fields: %s", strings.Join(fields, ", "))
}

func internalError(c *app.RequestContext, err error, msg string) {
	logger.Error().Err(err).Str("path", string(c.Path())).Msg(msg)
	writeError(c, consts.StatusInternalServerError, "Internal server error")
}
