package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fyerfyer/doc-rag-ingest/internal/database"
	"github.com/fyerfyer/doc-rag-ingest/internal/models"
)

// ingestRepository 入库跟踪仓储实现
type ingestRepository struct {
	db *gorm.DB
}

// NewIngestRepository 创建入库跟踪仓储实例
func NewIngestRepository() IngestRepository {
	return &ingestRepository{db: database.MustDB()}
}

// NewIngestRepositoryWithDB 使用指定的数据库连接创建仓储实例
func NewIngestRepositoryWithDB(db *gorm.DB) IngestRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &ingestRepository{db: db}
}

// CreateDocument 登记一个新发现的文档
func (r *ingestRepository) CreateDocument(doc *models.IngestDocument) error {
	if doc.ID == "" {
		return errors.New("document ID cannot be empty")
	}
	return r.db.Create(doc).Error
}

// UpsertDocument 按ID创建或更新文档记录
// 重复入库同一版本文档时覆盖旧的跟踪数据
func (r *ingestRepository) UpsertDocument(doc *models.IngestDocument) error {
	if doc.ID == "" {
		return errors.New("document ID cannot be empty")
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(doc).Error
}

// GetDocument 根据ID获取文档记录
func (r *ingestRepository) GetDocument(id string) (*models.IngestDocument, error) {
	var doc models.IngestDocument
	err := r.db.Where("id = ?", id).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// GetDocumentByPath 根据文档路径和版本获取记录
func (r *ingestRepository) GetDocumentByPath(docPath, version string) (*models.IngestDocument, error) {
	var doc models.IngestDocument
	query := r.db.Where("doc_path = ?", docPath)
	if version != "" {
		query = query.Where("version = ?", version)
	}
	err := query.First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// ListDocuments 分页列出文档记录，支持按状态和版本过滤
func (r *ingestRepository) ListDocuments(offset, limit int, filters map[string]interface{}) ([]*models.IngestDocument, int64, error) {
	var docs []*models.IngestDocument
	var total int64

	query := r.db.Model(&models.IngestDocument{})

	if filters != nil {
		if status, ok := filters["status"].(models.IngestStatus); ok && status != "" {
			query = query.Where("status = ?", string(status))
		} else if status, ok := filters["status"].(string); ok && status != "" {
			query = query.Where("status = ?", status)
		}
		if version, ok := filters["version"].(string); ok && version != "" {
			query = query.Where("version = ?", version)
		}
		if docPath, ok := filters["doc_path"].(string); ok && docPath != "" {
			query = query.Where("doc_path LIKE ?", "%"+docPath+"%")
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("discovered_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}

	return docs, total, nil
}

// UpdateDocumentStatus 更新文档的状态、阶段和错误信息
func (r *ingestRepository) UpdateDocumentStatus(id string, status models.IngestStatus, stage models.IngestStage, errorMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if stage != "" {
		updates["stage"] = stage
	}
	if errorMsg != "" {
		updates["error"] = errorMsg
	}
	if status == models.IngestStatusCompleted || status == models.IngestStatusFailed {
		now := time.Now()
		updates["processed_at"] = &now
	}

	return r.db.Model(&models.IngestDocument{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateDocumentCounts 更新文档的产出统计
func (r *ingestRepository) UpdateDocumentCounts(id string, sections, chunks, symbols int) error {
	return r.db.Model(&models.IngestDocument{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"section_count": sections,
			"chunk_count":   chunks,
			"symbol_count":  symbols,
			"updated_at":    time.Now(),
		}).Error
}

// DeleteDocument 删除文档记录
func (r *ingestRepository) DeleteDocument(id string) error {
	return r.db.Where("id = ?", id).Delete(&models.IngestDocument{}).Error
}

// CreateRun 登记一次入库流水
func (r *ingestRepository) CreateRun(run *models.IngestRun) error {
	if run.RunID == "" {
		return errors.New("run ID cannot be empty")
	}
	return r.db.Create(run).Error
}

// GetRun 根据流水ID获取记录
func (r *ingestRepository) GetRun(runID string) (*models.IngestRun, error) {
	var run models.IngestRun
	err := r.db.Where("run_id = ?", runID).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// FinishRun 结束一次流水并写入汇总
func (r *ingestRepository) FinishRun(runID string, status models.IngestStatus, summary RunSummary) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":         status,
		"total_docs":     summary.TotalDocs,
		"succeeded_docs": summary.SucceededDocs,
		"failed_docs":    summary.FailedDocs,
		"chunk_count":    summary.ChunkCount,
		"finished_at":    &now,
	}
	if summary.Error != "" {
		updates["error"] = summary.Error
	}

	return r.db.Model(&models.IngestRun{}).
		Where("run_id = ?", runID).
		Updates(updates).Error
}

// WithContext 创建带有上下文的仓储
func (r *ingestRepository) WithContext(ctx context.Context) IngestRepository {
	return &ingestRepository{db: r.db.WithContext(ctx)}
}
