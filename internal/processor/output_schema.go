package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

const schemaFileSuffix = ".schema.json"

// Violation 一条结构校验问题
type Violation struct {
	Path    string
	Message string
}

func (v Violation) String() string {
	return v.Path + ": " + v.Message
}

// SchemaValidationError 汇总一次校验发现的全部问题
type SchemaValidationError struct {
	Schema     string
	Violations []Violation
}

func (e *SchemaValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("generated output failed %s validation (%d issues): %s",
		e.Schema, len(e.Violations), strings.Join(parts, "; "))
}

func (e *SchemaValidationError) Is(target error) bool {
	return target == ErrSchemaValidation
}

// OutputSchema 与提示词一起发布的输出结构，文件为 OpenAPI 3 Schema 的 JSON
type OutputSchema struct {
	ID     string
	schema *openapi3.Schema
}

// ParseOutputSchema 解析并检查结构文档本身是否合法
func ParseOutputSchema(id string, data []byte) (*OutputSchema, error) {
	var s openapi3.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("解析输出结构 %s 失败: %w", id, err)
	}
	if err := s.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("输出结构 %s 不合法: %w", id, err)
	}
	return &OutputSchema{ID: id, schema: &s}, nil
}

// Validate 校验解析后的模型输出，一次返回全部问题
func (o *OutputSchema) Validate(obj map[string]interface{}) error {
	// 统一为 encoding/json 默认类型，json.Number 与 int 都转成 float64
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("序列化模型输出失败: %w", err)
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("解析模型输出失败: %w", err)
	}

	err = o.schema.VisitJSON(value, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	var violations []Violation
	collectViolations(err, &violations)
	return &SchemaValidationError{Schema: o.ID, Violations: violations}
}

func collectViolations(err error, out *[]Violation) {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		for _, e := range multi {
			collectViolations(e, out)
		}
		return
	}
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		*out = append(*out, Violation{Path: pointerPath(se.JSONPointer()), Message: violationMessage(se)})
		return
	}
	*out = append(*out, Violation{Message: err.Error()})
}

// pointerPath 把 ["resume","skills","0","category"] 转成 resume.skills[0].category
func pointerPath(segments []string) string {
	var b strings.Builder
	for _, seg := range segments {
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

func violationMessage(se *openapi3.SchemaError) string {
	s := se.Schema
	switch se.SchemaField {
	case "required":
		return "required field is missing"
	case "nullable":
		return "must not be null"
	case "pattern", "minLength":
		return "must not be empty"
	case "anyOf", "oneOf":
		return "must be a string or number"
	case "minimum", "maximum":
		if s != nil && s.Min != nil && s.Max != nil {
			return fmt.Sprintf("must be between %v and %v, got %v", *s.Min, *s.Max, se.Value)
		}
	case "type":
		if s != nil {
			switch s.Type {
			case openapi3.TypeString:
				return "must be a string"
			case openapi3.TypeInteger:
				return "must be an integer"
			case openapi3.TypeNumber:
				return "must be a number"
			case openapi3.TypeArray:
				return "must be an array"
			case openapi3.TypeObject:
				return "must be an object"
			}
		}
	}
	return se.Reason
}

// loadOutputSchemas 加载内置结构，再用 dir 中的 *.schema.json 覆盖或追加
func loadOutputSchemas(dir string) (map[string]*OutputSchema, error) {
	out := make(map[string]*OutputSchema)

	entries, err := fs.Glob(builtinPrompts, "prompts/*"+schemaFileSuffix)
	if err != nil {
		return nil, err
	}
	for _, name := range entries {
		data, err := builtinPrompts.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("读取内置输出结构 %s 失败: %w", name, err)
		}
		if err := addOutputSchema(out, name, data); err != nil {
			return nil, err
		}
	}

	if dir == "" {
		return out, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*"+schemaFileSuffix))
	if err != nil {
		return nil, fmt.Errorf("扫描输出结构目录 %s 失败: %w", dir, err)
	}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取输出结构文件 %s 失败: %w", path, err)
		}
		if err := addOutputSchema(out, path, data); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func addOutputSchema(into map[string]*OutputSchema, source string, data []byte) error {
	id := strings.TrimSuffix(filepath.Base(source), schemaFileSuffix)
	s, err := ParseOutputSchema(id, data)
	if err != nil {
		return err
	}
	into[id] = s
	return nil
}
