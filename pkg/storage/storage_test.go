package storage

import (
	"io"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLocalStorage 在临时目录下创建本地存储
func newLocalStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)
	return s
}

// readArtifact 读出产物全部内容
func readArtifact(t *testing.T, s Storage, name string) string {
	t.Helper()
	rc, err := s.Get(name)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

// TestLocalSaveAndGet 测试产物的保存与读取
func TestLocalSaveAndGet(t *testing.T) {
	s := newLocalStorage(t)

	info, err := s.Save("markdown/scripts_base_init.md", strings.NewReader("# title\n\nbody\n"))
	require.NoError(t, err)
	assert.Equal(t, "markdown/scripts_base_init.md", info.Name)
	assert.Equal(t, int64(len("# title\n\nbody\n")), info.Size)
	assert.Equal(t, "text/markdown", info.MimeType)

	assert.Equal(t, "# title\n\nbody\n", readArtifact(t, s, "markdown/scripts_base_init.md"))
}

// TestLocalSaveOverwrite 测试同名覆盖写入的幂等性
func TestLocalSaveOverwrite(t *testing.T) {
	s := newLocalStorage(t)

	_, err := s.Save("json/doc.json", strings.NewReader(`{"v": 1}`))
	require.NoError(t, err)
	_, err = s.Save("json/doc.json", strings.NewReader(`{"v": 2}`))
	require.NoError(t, err)

	assert.Equal(t, `{"v": 2}`, readArtifact(t, s, "json/doc.json"))

	// 覆盖后仍只有一个产物
	artifacts, err := s.List("json/")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
}

// TestLocalGetMissing 测试读取不存在的产物
func TestLocalGetMissing(t *testing.T) {
	s := newLocalStorage(t)

	_, err := s.Get("missing.md")
	assert.Error(t, err)
}

// TestLocalListPrefix 测试按前缀列出产物
func TestLocalListPrefix(t *testing.T) {
	s := newLocalStorage(t)

	for _, name := range []string{
		"markdown/a.md",
		"markdown/sub_b.md",
		"json/a.json",
	} {
		_, err := s.Save(name, strings.NewReader("x"))
		require.NoError(t, err)
	}

	artifacts, err := s.List("markdown/")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	var names []string
	for _, a := range artifacts {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"markdown/a.md", "markdown/sub_b.md"}, names)

	// 空前缀列出全部
	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// TestLocalExistsAndDelete 测试存在性检查与删除
func TestLocalExistsAndDelete(t *testing.T) {
	s := newLocalStorage(t)

	_, err := s.Save("a.md", strings.NewReader("content"))
	require.NoError(t, err)

	exists, err := s.Exists("a.md")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete("a.md"))

	exists, err = s.Exists("a.md")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Error(t, s.Delete("a.md"))
}

// TestLocalRejectsEscapingNames 测试越界路径被拒绝
func TestLocalRejectsEscapingNames(t *testing.T) {
	s := newLocalStorage(t)

	_, err := s.Save("../escape.md", strings.NewReader("x"))
	assert.Error(t, err)

	_, err = s.Save("/etc/passwd", strings.NewReader("x"))
	assert.Error(t, err)

	_, err = s.Save("", strings.NewReader("x"))
	assert.Error(t, err)

	_, err = s.Get("../../outside")
	assert.Error(t, err)
}

// TestGetMimeType 测试MIME类型推断
func TestGetMimeType(t *testing.T) {
	assert.Equal(t, "text/markdown", getMimeType("a.md"))
	assert.Equal(t, "application/json", getMimeType("tree.json"))
	assert.Equal(t, "text/x-rst", getMimeType("page.rst"))
	assert.Equal(t, "application/octet-stream", getMimeType("blob.bin"))
}

// TestMinioStorage 测试MinIO存储实现
// 需要先启动MinIO服务：docker-compose -f docker-compose.test.yml up -d
func TestMinioStorage(t *testing.T) {
	if os.Getenv("MINIO_TEST") == "" {
		t.Skip("MINIO_TEST environment variable not set, skipping MinIO tests")
	}

	s, err := NewMinioStorage(MinioConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		UseSSL:    false,
		Bucket:    "doc-rag-test",
	})
	require.NoError(t, err)

	t.Run("SaveAndGet", func(t *testing.T) {
		_, err := s.Save("markdown/minio_test.md", strings.NewReader("minio content"))
		require.NoError(t, err)
		assert.Equal(t, "minio content", readArtifact(t, s, "markdown/minio_test.md"))
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		artifacts, err := s.List("markdown/")
		require.NoError(t, err)
		assert.NotEmpty(t, artifacts)

		require.NoError(t, s.Delete("markdown/minio_test.md"))
		exists, err := s.Exists("markdown/minio_test.md")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}
