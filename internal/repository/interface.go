package repository

import (
	"context"

	"github.com/fyerfyer/doc-rag-ingest/internal/models"
)

// IngestRepository 入库跟踪数据的仓储接口
type IngestRepository interface {
	// CreateDocument 登记一个新发现的文档
	CreateDocument(doc *models.IngestDocument) error

	// UpsertDocument 按ID创建或更新文档记录
	UpsertDocument(doc *models.IngestDocument) error

	// GetDocument 根据ID获取文档记录
	GetDocument(id string) (*models.IngestDocument, error)

	// GetDocumentByPath 根据文档路径和版本获取记录
	GetDocumentByPath(docPath, version string) (*models.IngestDocument, error)

	// ListDocuments 分页列出文档记录，支持按状态和版本过滤
	ListDocuments(offset, limit int, filters map[string]interface{}) ([]*models.IngestDocument, int64, error)

	// UpdateDocumentStatus 更新文档的状态、阶段和错误信息
	UpdateDocumentStatus(id string, status models.IngestStatus, stage models.IngestStage, errorMsg string) error

	// UpdateDocumentCounts 更新文档的产出统计
	UpdateDocumentCounts(id string, sections, chunks, symbols int) error

	// DeleteDocument 删除文档记录
	DeleteDocument(id string) error

	// CreateRun 登记一次入库流水
	CreateRun(run *models.IngestRun) error

	// GetRun 根据流水ID获取记录
	GetRun(runID string) (*models.IngestRun, error)

	// FinishRun 结束一次流水并写入汇总
	FinishRun(runID string, status models.IngestStatus, summary RunSummary) error

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) IngestRepository
}

// RunSummary 流水结束时的汇总数据
type RunSummary struct {
	TotalDocs     int
	SucceededDocs int
	FailedDocs    int
	ChunkCount    int
	Error         string
}
