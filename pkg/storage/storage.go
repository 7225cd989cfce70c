package storage

import (
	"io"
)

// ArtifactInfo 产物文件元数据
type ArtifactInfo struct {
	Name     string // 相对存储根的产物名（确定性命名）
	Size     int64  // 文件大小(字节)
	MimeType string // 文件MIME类型
}

// Storage 产物存储接口
// 管线的中间产物（扁平化Markdown、导出JSON）用确定性名字写入，
// 重复入库同一文档时覆盖旧产物，保证幂等
type Storage interface {
	// Save 以指定名字保存产物，已存在时覆盖
	Save(name string, reader io.Reader) (ArtifactInfo, error)

	// Get 获取产物内容
	Get(name string) (io.ReadCloser, error)

	// Delete 删除产物
	Delete(name string) error

	// List 列出指定前缀下的所有产物
	List(prefix string) ([]ArtifactInfo, error)

	// Exists 检查产物是否存在
	Exists(name string) (bool, error)
}
