package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/doc-rag-ingest/internal/models"
	"github.com/fyerfyer/doc-rag-ingest/internal/repository"
)

// DocumentStatusManager 文档状态管理器
// 负责管理文档入库的生命周期状态
type DocumentStatusManager struct {
	repo   repository.IngestRepository
	logger *logrus.Logger
	mu     sync.Mutex // 保证状态转换的原子性
}

// NewDocumentStatusManager 创建文档状态管理器
func NewDocumentStatusManager(repo repository.IngestRepository, logger *logrus.Logger) *DocumentStatusManager {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	return &DocumentStatusManager{
		repo:   repo,
		logger: logger,
	}
}

// MarkAsDiscovered 登记一个新发现的文档，重复发现时覆盖旧记录
func (m *DocumentStatusManager) MarkAsDiscovered(ctx context.Context, docID, docPath, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"doc_id":   docID,
		"doc_path": docPath,
	}).Debug("Marking document as discovered")

	doc := &models.IngestDocument{
		ID:           docID,
		DocPath:      docPath,
		Version:      version,
		Status:       models.IngestStatusPending,
		Stage:        models.StageDiscover,
		DiscoveredAt: time.Now(),
		UpdatedAt:    time.Now(),
	}
	return m.repo.UpsertDocument(doc)
}

// MarkAsProcessing 将文档标记为处理中并记录当前阶段
func (m *DocumentStatusManager) MarkAsProcessing(ctx context.Context, docID string, stage models.IngestStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.repo.UpdateDocumentStatus(docID, models.IngestStatusProcessing, stage, "")
}

// MarkAsCompleted 将文档标记为处理完成并写入产出统计
func (m *DocumentStatusManager) MarkAsCompleted(ctx context.Context, docID string, sections, chunks, symbols int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"doc_id":      docID,
		"chunk_count": chunks,
	}).Info("Marking document as completed")

	if err := m.repo.UpdateDocumentCounts(docID, sections, chunks, symbols); err != nil {
		return fmt.Errorf("failed to update document counts: %w", err)
	}
	return m.repo.UpdateDocumentStatus(docID, models.IngestStatusCompleted, models.StageCompleted, "")
}

// MarkAsFailed 将文档标记为处理失败
func (m *DocumentStatusManager) MarkAsFailed(ctx context.Context, docID string, stage models.IngestStage, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	m.logger.WithFields(logrus.Fields{
		"doc_id": docID,
		"stage":  stage,
		"error":  errMsg,
	}).Error("Marking document as failed")

	return m.repo.UpdateDocumentStatus(docID, models.IngestStatusFailed, stage, errMsg)
}

// GetStatus 获取文档当前状态
func (m *DocumentStatusManager) GetStatus(ctx context.Context, docID string) (*models.IngestDocument, error) {
	return m.repo.GetDocument(docID)
}
