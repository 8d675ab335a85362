package utils

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// TimePtr returns a pointer to a time.Time object
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// CalculateMD5 computes the MD5 hash of a byte slice.
func CalculateMD5(data []byte) string {
	hasher := md5.New()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

// ToJSON 序列化为 JSON 列，nil 存为 null
func ToJSON(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return datatypes.JSON("null"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("序列化 JSON 列失败: %w", err)
	}
	return datatypes.JSON(b), nil
}

// AppendJSONArray 向 JSON 数组列追加一个元素，空列视为空数组
func AppendJSONArray[T any](column datatypes.JSON, item T) (datatypes.JSON, error) {
	var items []T
	if len(column) > 0 && string(column) != "null" {
		if err := json.Unmarshal(column, &items); err != nil {
			return nil, fmt.Errorf("解析 JSON 数组列失败: %w", err)
		}
	}
	items = append(items, item)
	return ToJSON(items)
}
