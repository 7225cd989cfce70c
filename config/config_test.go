package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults 测试缺失配置文件时的默认值
func TestLoadDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://localhost:8000", cfg.Sphinx.BaseURL)
	assert.Equal(t, 3, cfg.Sphinx.MaxRetries)
	assert.Equal(t, "per_block", cfg.Normalize.Strategy)
	assert.Equal(t, 8000, cfg.Normalize.MaxRawBytes)
	assert.Equal(t, 6000, cfg.Normalize.MaxEmbedChars)
	assert.Equal(t, "ollama", cfg.Embed.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embed.Model)
	assert.Equal(t, 768, cfg.Embed.Dimensions)
	assert.Equal(t, "memory", cfg.VectorDB.Type)
	assert.Equal(t, "cosine", cfg.VectorDB.Distance)
	assert.Equal(t, 500, cfg.VectorDB.InsertBatchSize)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.False(t, cfg.Dify.Enable)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "zeek", cfg.Transform.DomainKeyword)
	assert.Equal(t, "doc/scripts", cfg.Source.DocRoot)

	// 默认配置文件会被写出，便于后续修改
	_, err = os.Stat(configPath)
	assert.NoError(t, err)
}

// TestLoadFromFile 测试从配置文件加载并覆盖默认值
func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
sphinx:
  base_url: http://sphinx:8000
  timeout: 45s
normalize:
  strategy: per_section
  max_raw_bytes: 4000
embed:
  provider: openai
  model: text-embedding-3-small
  dimensions: 1536
dify:
  enable: true
  dataset_id: ds-42
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://sphinx:8000", cfg.Sphinx.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Sphinx.Timeout)
	assert.Equal(t, "per_section", cfg.Normalize.Strategy)
	assert.Equal(t, 4000, cfg.Normalize.MaxRawBytes)
	assert.Equal(t, "openai", cfg.Embed.Provider)
	assert.Equal(t, 1536, cfg.Embed.Dimensions)
	assert.True(t, cfg.Dify.Enable)
	assert.Equal(t, "ds-42", cfg.Dify.DatasetID)

	// 未覆盖的字段保持默认值
	assert.Equal(t, 6000, cfg.Normalize.MaxEmbedChars)
	assert.Equal(t, "memory", cfg.VectorDB.Type)
}

// TestEnvVarExpansion 测试${VAR}形式的密钥引用展开
func TestEnvVarExpansion(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
embed:
  api_key: ${TEST_EMBED_KEY}
dify:
  api_key: ${TEST_DIFY_KEY}
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	t.Setenv("TEST_EMBED_KEY", "sk-embed-secret")
	t.Setenv("TEST_DIFY_KEY", "dataset-secret")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "sk-embed-secret", cfg.Embed.APIKey)
	assert.Equal(t, "dataset-secret", cfg.Dify.APIKey)
}

// TestExpandEnvRef 测试环境变量引用的解析规则
func TestExpandEnvRef(t *testing.T) {
	t.Setenv("TEST_REF_VAR", "resolved")

	assert.Equal(t, "resolved", expandEnvRef("${TEST_REF_VAR}"))
	// 非引用形式原样返回
	assert.Equal(t, "plain-value", expandEnvRef("plain-value"))
	// 未设置的变量保留原文
	assert.Equal(t, "${TEST_UNSET_VAR}", expandEnvRef("${TEST_UNSET_VAR}"))
}

// TestLoadInvalidFile 测试格式错误的配置文件
func TestLoadInvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [broken"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}
