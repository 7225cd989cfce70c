package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskIngestDocument 单文档入库任务
	TaskIngestDocument TaskType = "ingest_document"
	// TaskIngestRun 全量入库流水任务
	TaskIngestRun TaskType = "ingest_run"
	// TaskUploadDify 知识库上传任务
	TaskUploadDify TaskType = "upload_dify"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	DocPath     string          `json:"doc_path"`     // 关联的文档路径（流水级任务为空）
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷数据
	Result      json.RawMessage `json:"result"`       // 任务结果数据
	Error       string          `json:"error"`        // 错误信息（如果处理失败）
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 尝试次数
	MaxRetries  int             `json:"max_retries"`  // 最大重试次数
}

// IngestDocumentPayload 单文档入库任务载荷
type IngestDocumentPayload struct {
	DocPath string `json:"doc_path"` // 相对文档根的路径
	Version string `json:"version"`  // 文档集版本
}

// IngestDocumentResult 单文档入库任务结果
type IngestDocumentResult struct {
	DocPath      string `json:"doc_path"`      // 文档路径
	SectionCount int    `json:"section_count"` // 章节数量
	ChunkCount   int    `json:"chunk_count"`   // 切块数量
	SymbolCount  int    `json:"symbol_count"`  // 符号数量
	Error        string `json:"error"`         // 错误信息（如果有）
}

// IngestRunPayload 全量入库流水任务载荷
type IngestRunPayload struct {
	Version string   `json:"version"` // 文档集版本
	Stages  []string `json:"stages"`  // 要执行的阶段，空表示全部
}

// IngestRunResult 全量入库流水任务结果
type IngestRunResult struct {
	RunID         string `json:"run_id"`         // 流水ID
	TotalDocs     int    `json:"total_docs"`     // 发现的文档总数
	SucceededDocs int    `json:"succeeded_docs"` // 成功的文档数
	FailedDocs    int    `json:"failed_docs"`    // 失败的文档数
	ChunkCount    int    `json:"chunk_count"`    // 切块总数
	Error         string `json:"error"`          // 错误信息（如果有）
}

// UploadDifyPayload 知识库上传任务载荷
type UploadDifyPayload struct {
	Prefix string `json:"prefix"` // 要上传的产物前缀
}

// UploadDifyResult 知识库上传任务结果
type UploadDifyResult struct {
	Total     int    `json:"total"`     // 提交的文件总数
	Succeeded int    `json:"succeeded"` // 成功数
	Failed    int    `json:"failed"`    // 失败数
	Error     string `json:"error"`     // 错误信息（如果有）
}
