package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaClient 对接本地Ollama服务的嵌入客户端
type OllamaClient struct {
	httpClient *http.Client
	config     *Config
}

// NewOllamaClient 创建新的Ollama嵌入客户端
func NewOllamaClient(opts ...Option) (Client, error) {
	config := NewConfig(opts...)

	if config.BaseURL == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, "ollama base URL is required")
	}
	if config.Model == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, "ollama model name is required")
	}

	return &OllamaClient{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
	}, nil
}

// Name 返回模型名称
func (c *OllamaClient) Name() string {
	return c.config.Model
}

// Health 检查Ollama服务可达且目标模型已拉取
func (c *OllamaClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(c.config.BaseURL, "/")+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewEmbeddingError(ErrCodeNetworkError, "ollama service unreachable: "+err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NewEmbeddingError(ErrCodeServerError,
			fmt.Sprintf("ollama health check failed with status %d", resp.StatusCode))
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("failed to decode ollama tags response: %w", err)
	}

	// 模型名允许带":latest"等标签后缀
	for _, m := range tags.Models {
		if m.Name == c.config.Model || strings.HasPrefix(m.Name, c.config.Model+":") {
			return nil
		}
	}
	return NewEmbeddingError(ErrCodeModelNotReady,
		"model not available on ollama server: "+c.config.Model)
}

// Embed 生成单条文本的向量表示
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, NewEmbeddingError(ErrCodeServerError, "ollama returned no embedding")
	}
	return vectors[0], nil
}

// EmbedBatch 批量生成多条文本的向量表示
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if c.config.BatchSize > 0 && len(texts) > c.config.BatchSize {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest,
			fmt.Sprintf("batch size %d exceeds limit %d", len(texts), c.config.BatchSize))
	}

	reqBody := map[string]interface{}{
		"model": c.config.Model,
		"input": texts,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		vectors, err := c.doEmbed(ctx, payload)
		if err == nil {
			if err := c.checkDimensions(vectors, len(texts)); err != nil {
				return nil, err
			}
			return vectors, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("ollama embed failed after %d retries: %w", c.config.MaxRetries, lastErr)
}

// doEmbed 执行一次嵌入请求
func (c *OllamaClient) doEmbed(ctx context.Context, payload []byte) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.config.BaseURL, "/")+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewEmbeddingError(ErrCodeNetworkError, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, NewEmbeddingError(ErrCodeRateLimited, ErrMsgRateLimited)
		}
		return nil, NewEmbeddingError(ErrCodeServerError,
			fmt.Sprintf("ollama embed returned status %d: %s", resp.StatusCode, string(body)))
	}

	var result struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	return result.Embeddings, nil
}

// checkDimensions 校验返回向量的数量和维度
func (c *OllamaClient) checkDimensions(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return NewEmbeddingError(ErrCodeServerError,
			fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(vectors), want))
	}
	if c.config.Dimensions > 0 {
		for _, v := range vectors {
			if len(v) != c.config.Dimensions {
				return NewEmbeddingError(ErrCodeDimensionMismatch,
					fmt.Sprintf("expected dimension %d, got %d", c.config.Dimensions, len(v)))
			}
		}
	}
	return nil
}

// 在包初始化时注册Ollama客户端
func init() {
	RegisterClient("ollama", NewOllamaClient)
}
