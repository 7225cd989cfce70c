package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Config Dify知识库服务配置
type Config struct {
	BaseURL   string        // API基础URL，如 https://api.dify.ai/v1
	APIKey    string        // 知识库API密钥
	DatasetID string        // 目标知识库ID
	Timeout   time.Duration // 单次请求超时
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "https://api.dify.ai/v1",
		Timeout: 120 * time.Second,
	}
}

// Dataset 知识库元信息
type Dataset struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DocCount  int    `json:"document_count"`
	WordCount int    `json:"word_count"`
}

// UploadResult 单个文件的上传结果
type UploadResult struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	Batch      string `json:"batch"`
}

// Client Dify知识库客户端
// 将扁平化产出的Markdown文件推送到远端知识库
type Client struct {
	httpClient *http.Client
	config     *Config
}

// NewClient 创建Dify客户端
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("dify: API key is required")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("dify: base URL is required")
	}

	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
	}, nil
}

// ListDatasets 列出可用的知识库
func (c *Client) ListDatasets(ctx context.Context) ([]Dataset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/datasets?page=1&limit=100", nil)
	if err != nil {
		return nil, fmt.Errorf("dify: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dify: list datasets failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dify: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dify: list datasets returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data []Dataset `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("dify: failed to decode datasets: %w", err)
	}
	return result.Data, nil
}

// UploadFile 按文件创建知识库文档
// 使用父子分段模式：父块按标题切分保留上下文，子块用于召回
func (c *Client) UploadFile(ctx context.Context, filePath string) (*UploadResult, error) {
	if c.config.DatasetID == "" {
		return nil, fmt.Errorf("dify: dataset ID is required for upload")
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("dify: failed to open file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	dataField, err := json.Marshal(processRule())
	if err != nil {
		return nil, fmt.Errorf("dify: failed to marshal process rule: %w", err)
	}
	if err := writer.WriteField("data", string(dataField)); err != nil {
		return nil, fmt.Errorf("dify: failed to write data field: %w", err)
	}

	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, fmt.Errorf("dify: failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("dify: failed to copy file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("dify: failed to finalize multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/datasets/%s/document/create_by_file", c.config.BaseURL, c.config.DatasetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("dify: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dify: upload request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dify: failed to read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("dify: upload returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Document struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"document"`
		Batch string `json:"batch"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("dify: failed to decode upload response: %w", err)
	}

	return &UploadResult{
		DocumentID: result.Document.ID,
		Name:       result.Document.Name,
		Batch:      result.Batch,
	}, nil
}

// processRule 构造层级分段的入库规则
// 父块以###标题为界，子块按换行切分，预处理去多余空白
func processRule() map[string]interface{} {
	return map[string]interface{}{
		"indexing_technique": "high_quality",
		"doc_form":           "hierarchical_model",
		"process_rule": map[string]interface{}{
			"mode": "hierarchical",
			"rules": map[string]interface{}{
				"pre_processing_rules": []map[string]interface{}{
					{"id": "remove_extra_spaces", "enabled": true},
					{"id": "remove_urls_emails", "enabled": false},
				},
				"segmentation": map[string]interface{}{
					"separator":  "###",
					"max_tokens": 4000,
				},
				"parent_mode": "paragraph",
				"subchunk_segmentation": map[string]interface{}{
					"separator":  "\n",
					"max_tokens": 1024,
				},
			},
		},
	}
}
