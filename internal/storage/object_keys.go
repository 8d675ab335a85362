package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"resume-tailor/internal/constants"

	"github.com/gofrs/uuid/v5"
)

// ErrInvalidObjectKey 对象 key 不符合 user-{userId}/{fileId}-{filename}
var ErrInvalidObjectKey = errors.New("对象key格式无效")

// ResumeObjectKey 简历原件 key 的组成部分
type ResumeObjectKey struct {
	OwnerUserID string
	FileID      string
	FileName    string
}

// BuildResumeObjectKey user-{userId}/{fileId}-{filename}
func BuildResumeObjectKey(ownerUserID, fileID, fileName string) string {
	return fmt.Sprintf("%s%s/%s-%s", constants.UserObjectPrefix, ownerUserID, fileID, path.Base(fileName))
}

// ParseResumeObjectKey 解析简历原件 key，fileId 必须是合法 UUID
func ParseResumeObjectKey(key string) (ResumeObjectKey, error) {
	var parsed ResumeObjectKey

	dir, file, ok := strings.Cut(key, "/")
	if !ok || !strings.HasPrefix(dir, constants.UserObjectPrefix) || strings.Contains(file, "/") {
		return parsed, fmt.Errorf("%w: %s", ErrInvalidObjectKey, key)
	}
	parsed.OwnerUserID = strings.TrimPrefix(dir, constants.UserObjectPrefix)
	if parsed.OwnerUserID == "" {
		return parsed, fmt.Errorf("%w: 缺少用户ID: %s", ErrInvalidObjectKey, key)
	}

	// UUID 固定 36 个字符，后面跟一个连字符
	const uuidLen = 36
	if len(file) < uuidLen+2 || file[uuidLen] != '-' {
		return parsed, fmt.Errorf("%w: 缺少文件ID: %s", ErrInvalidObjectKey, key)
	}
	id, err := uuid.FromString(file[:uuidLen])
	if err != nil {
		return parsed, fmt.Errorf("%w: 文件ID不是UUID: %s", ErrInvalidObjectKey, key)
	}
	parsed.FileID = id.String()
	parsed.FileName = file[uuidLen+1:]
	return parsed, nil
}

// GenerationArchiveKey user-{userId}/generations/{jobId}.json
func GenerationArchiveKey(ownerUserID, jobID string) string {
	return fmt.Sprintf("%s%s/%s/%s.json", constants.UserObjectPrefix, ownerUserID, constants.GenerationArchiveDir, jobID)
}
