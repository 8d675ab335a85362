package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abc", TruncateString("abcdef", 3))
	// (9-3)/2 = 3，保留首尾各 3 个字符
	assert.Equal(t, "abc...xyz", TruncateString("abcdefghijklmnopqrstuvwxyz", 9))
}

func TestMaskPII(t *testing.T) {
	assert.Equal(t, "", MaskPII(""))
	assert.Equal(t, "a", MaskPII("a"))
	assert.Equal(t, "j*", MaskPII("jo"))
	assert.Equal(t, "j*e", MaskPII("joe"))
	assert.Equal(t, "ja************om", MaskPII("jane@example.com"))
}

func TestSafeAttributeValue(t *testing.T) {
	assert.Equal(t, "ja************om", SafeAttributeValue("user.email", "jane@example.com", 100), "email 属性应被掩码")
	assert.Equal(t, "a...z", SafeAttributeValue("db.statement", "abcdefghijklmnopqrstuvwxyz", 5), "普通属性只截断")
}
