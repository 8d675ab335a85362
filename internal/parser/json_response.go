package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// ErrNoJSONObject 模型输出里找不到 JSON 对象
var ErrNoJSONObject = errors.New("模型输出中没有 JSON 对象")

var fencedJSONPattern = regexp.MustCompile("(?s)^```(?:json|JSON)?\\s*(.*?)\\s*```$")

// StripCodeFences 去掉 BOM 和包裹整段输出的 ``` / ```json 围栏
func StripCodeFences(text string) string {
	text = strings.TrimSpace(strings.TrimPrefix(text, "\uFEFF"))
	if m := fencedJSONPattern.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return text
}

// ExtractJSONObject 先去围栏，仍不是合法 JSON 时截取第一个完整的花括号对象
func ExtractJSONObject(text string) (string, error) {
	cleaned := StripCodeFences(text)
	if !utf8.ValidString(cleaned) {
		cleaned = strings.ToValidUTF8(cleaned, "")
	}
	if gjson.Valid(cleaned) && strings.HasPrefix(cleaned, "{") {
		return cleaned, nil
	}

	obj := outermostObject(cleaned)
	if obj == "" || !gjson.Valid(obj) {
		return "", ErrNoJSONObject
	}
	return obj, nil
}

// DecodeJSONObject 把模型输出解析为 map，数值保留为 json.Number
func DecodeJSONObject(text string) (map[string]interface{}, error) {
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("解析模型 JSON 输出失败: %w", err)
	}
	return out, nil
}

// outermostObject 括号配对时跳过字符串字面量里的花括号
func outermostObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	inStr := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			level++
		case '}':
			level--
			if level == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}
