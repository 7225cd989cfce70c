package model

import (
	"time"

	"github.com/fyerfyer/doc-rag-ingest/internal/models"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// TaskEnqueuedResponse 任务入队响应
type TaskEnqueuedResponse struct {
	TaskID  string `json:"task_id"`            // 任务ID
	Type    string `json:"type"`               // 任务类型
	DocPath string `json:"doc_path,omitempty"` // 关联的文档路径
	Status  string `json:"status"`             // 任务状态
}

// DocumentStatusResponse 文档状态查询响应
type DocumentStatusResponse struct {
	DocPath      string `json:"doc_path"`               // 文档路径
	Title        string `json:"title,omitempty"`        // 文档标题
	Version      string `json:"version,omitempty"`      // 文档集版本
	Status       string `json:"status"`                 // 处理状态
	Stage        string `json:"stage"`                  // 当前处理阶段
	SectionCount int    `json:"section_count"`          // 章节数量
	ChunkCount   int    `json:"chunk_count"`            // 切块数量
	SymbolCount  int    `json:"symbol_count"`           // 符号数量
	Error        string `json:"error,omitempty"`        // 错误信息（如果有）
	DiscoveredAt string `json:"discovered_at"`          // 发现时间
	ProcessedAt  string `json:"processed_at,omitempty"` // 处理完成时间
}

// NewDocumentStatusResponse 从文档记录构建状态响应
func NewDocumentStatusResponse(doc *models.IngestDocument) *DocumentStatusResponse {
	resp := &DocumentStatusResponse{
		DocPath:      doc.DocPath,
		Title:        doc.Title,
		Version:      doc.Version,
		Status:       string(doc.Status),
		Stage:        string(doc.Stage),
		SectionCount: doc.SectionCount,
		ChunkCount:   doc.ChunkCount,
		SymbolCount:  doc.SymbolCount,
		Error:        doc.Error,
		DiscoveredAt: doc.DiscoveredAt.Format(time.RFC3339),
	}
	if doc.ProcessedAt != nil {
		resp.ProcessedAt = doc.ProcessedAt.Format(time.RFC3339)
	}
	return resp
}

// DocumentListResponse 文档列表响应
type DocumentListResponse struct {
	Total     int64                     `json:"total"`     // 总数量
	Page      int                       `json:"page"`      // 当前页码
	PageSize  int                       `json:"page_size"` // 每页大小
	Documents []*DocumentStatusResponse `json:"documents"` // 文档列表
}

// RunStatusResponse 入库流水状态响应
type RunStatusResponse struct {
	RunID         string `json:"run_id"`                // 流水ID
	Version       string `json:"version"`               // 文档集版本
	Status        string `json:"status"`                // 流水状态
	TotalDocs     int    `json:"total_docs"`            // 发现的文档总数
	SucceededDocs int    `json:"succeeded_docs"`        // 成功的文档数
	FailedDocs    int    `json:"failed_docs"`           // 失败的文档数
	ChunkCount    int    `json:"chunk_count"`           // 切块总数
	StartedAt     string `json:"started_at"`            // 开始时间
	FinishedAt    string `json:"finished_at,omitempty"` // 结束时间
	Error         string `json:"error,omitempty"`       // 错误信息
}

// NewRunStatusResponse 从流水记录构建状态响应
func NewRunStatusResponse(run *models.IngestRun) *RunStatusResponse {
	resp := &RunStatusResponse{
		RunID:         run.RunID,
		Version:       run.Version,
		Status:        string(run.Status),
		TotalDocs:     run.TotalDocs,
		SucceededDocs: run.SucceededDocs,
		FailedDocs:    run.FailedDocs,
		ChunkCount:    run.ChunkCount,
		StartedAt:     run.StartedAt.Format(time.RFC3339),
		Error:         run.Error,
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return resp
}
