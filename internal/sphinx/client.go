package sphinx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyerfyer/doc-rag-ingest/internal/doctree"
)

// Client 文档树解析服务客户端接口
// 解析本身是外部协作方的职责，这里只消费其产出的节点树
type Client interface {
	// ParseDoc 请求边车解析一个文档，返回其节点树
	// docName是相对文档根的标识路径（不含扩展名）
	ParseDoc(ctx context.Context, docName string) (*doctree.Node, error)

	// ListDocs 返回边车构建环境发现的全部文档名（有序）
	ListDocs(ctx context.Context) ([]string, error)
}

// APIError 边车服务返回的错误
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sphinx API error (status code: %d): %s - %s", e.StatusCode, e.Message, e.Detail)
}

// HTTPClient 基于HTTP的边车客户端实现
type HTTPClient struct {
	client  *http.Client
	config  *Config
	headers map[string]string
}

// NewClient 创建边车客户端
func NewClient(config *Config) (*HTTPClient, error) {
	if config == nil {
		config = DefaultConfig()
	}

	client := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPClient{
		client: client,
		config: config,
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"User-Agent":   "doc-rag-ingest/1.0",
		},
	}, nil
}

// ParseDoc 请求解析单个文档
func (c *HTTPClient) ParseDoc(ctx context.Context, docName string) (*doctree.Node, error) {
	reqBody := map[string]string{"docname": docName}

	var resp struct {
		DocName string        `json:"docname"`
		Tree    *doctree.Node `json:"tree"`
	}
	if err := c.post(ctx, "/doctree", reqBody, &resp); err != nil {
		return nil, err
	}
	if resp.Tree == nil {
		return nil, fmt.Errorf("sphinx: empty doctree for %s", docName)
	}
	return resp.Tree, nil
}

// ListDocs 获取文档名列表
func (c *HTTPClient) ListDocs(ctx context.Context) ([]string, error) {
	var resp struct {
		Docs []string `json:"docs"`
	}
	if err := c.get(ctx, "/docs", &resp); err != nil {
		return nil, err
	}
	return resp.Docs, nil
}

// get 发送GET请求
func (c *HTTPClient) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	return c.doRequestWithRetry(req, result)
}

// post 发送POST请求
func (c *HTTPClient) post(ctx context.Context, path string, data interface{}, result interface{}) error {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request data: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	return c.doRequestWithRetry(req, result)
}

// doRequestWithRetry 执行HTTP请求并线性退避重试
func (c *HTTPClient) doRequestWithRetry(req *http.Request, result interface{}) error {
	var lastErr error
	var resp *http.Response

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return fmt.Errorf("request context canceled: %w", req.Context().Err())
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
			// 重试前重建请求体
			if req.GetBody != nil {
				if body, err := req.GetBody(); err == nil {
					req.Body = body
				}
			}
		}

		resp, lastErr = c.client.Do(req)
		if lastErr == nil {
			break
		}
	}

	if lastErr != nil {
		return fmt.Errorf("HTTP request failed: %w", lastErr)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    "API call failed",
		}
		var errResp struct {
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Detail != "" {
			apiErr.Detail = errResp.Detail
		} else {
			apiErr.Detail = string(body)
		}
		return apiErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response JSON: %w", err)
		}
	}
	return nil
}
