package flatten

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

// DefaultMaxFilenameBytes 文件名字节上限的默认值
// 多数文件系统与数据库限制255，留出安全余量
const DefaultMaxFilenameBytes = 240

// SafeFileName 将文档相对路径转换为长度受限的唯一扁平文件名
// 路径分隔符替换为下划线；超过字节上限时退化为 {stem}_{8位哈希}{ext}，
// 仍然超限时兜底为 doc_{8位哈希}{ext}。哈希取自完整相对路径，
// 相同输入永远得到相同文件名，不会静默覆盖不相关内容
func SafeFileName(relPath string, maxBytes int) string {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFilenameBytes
	}

	normalized := strings.ReplaceAll(relPath, "\\", "/")
	flat := strings.ReplaceAll(normalized, "/", "_")

	// 用UTF-8字节长度度量，这是存储端实际执行的限制
	if len(flat) <= maxBytes {
		return flat
	}

	ext := path.Ext(normalized)
	stem := strings.TrimSuffix(path.Base(normalized), ext)
	hash := pathHash(normalized)

	candidate := fmt.Sprintf("%s_%s%s", stem, hash, ext)
	if len(candidate) <= maxBytes {
		return candidate
	}

	return fmt.Sprintf("doc_%s%s", hash, ext)
}

// pathHash 返回路径md5哈希的前8个十六进制字符
func pathHash(p string) string {
	sum := md5.Sum([]byte(p))
	return hex.EncodeToString(sum[:])[:8]
}
