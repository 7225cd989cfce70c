package taskqueue

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// IngestExecutor 入库执行器接口
// 由服务层实现，处理器通过它驱动真实的入库流程，避免包间循环依赖
type IngestExecutor interface {
	// IngestDocument 入库单个文档
	IngestDocument(ctx context.Context, docPath, version string) (*IngestDocumentResult, error)

	// IngestAll 全量入库
	IngestAll(ctx context.Context, version string, stages []string) (*IngestRunResult, error)

	// UploadArtifacts 上传指定前缀下的产物到知识库
	UploadArtifacts(ctx context.Context, prefix string) (*UploadDifyResult, error)
}

// IngestHandler 入库任务处理器
type IngestHandler struct {
	executor IngestExecutor
	queue    Queue
	logger   *logrus.Logger
}

// NewIngestHandler 创建入库任务处理器
func NewIngestHandler(executor IngestExecutor, queue Queue, logger *logrus.Logger) *IngestHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &IngestHandler{
		executor: executor,
		queue:    queue,
		logger:   logger,
	}
}

// GetTaskTypes 返回此处理器支持的任务类型
func (h *IngestHandler) GetTaskTypes() []TaskType {
	return []TaskType{TaskIngestDocument, TaskIngestRun, TaskUploadDify}
}

// ProcessTask 处理任务
func (h *IngestHandler) ProcessTask(ctx context.Context, task *Task) error {
	switch task.Type {
	case TaskIngestDocument:
		return h.processIngestDocument(ctx, task)
	case TaskIngestRun:
		return h.processIngestRun(ctx, task)
	case TaskUploadDify:
		return h.processUploadDify(ctx, task)
	default:
		return fmt.Errorf("unsupported task type: %s", task.Type)
	}
}

// processIngestDocument 处理单文档入库任务
func (h *IngestHandler) processIngestDocument(ctx context.Context, task *Task) error {
	var payload IngestDocumentPayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.DocPath == "" {
		return fmt.Errorf("%w: doc_path is required", ErrInvalidPayload)
	}

	result, err := h.executor.IngestDocument(ctx, payload.DocPath, payload.Version)
	if err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"doc_path":    payload.DocPath,
		"chunk_count": result.ChunkCount,
	}).Info("Ingest document task completed")

	return h.queue.UpdateTaskStatus(ctx, task.ID, StatusCompleted, result, "")
}

// processIngestRun 处理全量入库流水任务
func (h *IngestHandler) processIngestRun(ctx context.Context, task *Task) error {
	var payload IngestRunPayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	result, err := h.executor.IngestAll(ctx, payload.Version, payload.Stages)
	if err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":        task.ID,
		"run_id":         result.RunID,
		"total_docs":     result.TotalDocs,
		"succeeded_docs": result.SucceededDocs,
		"failed_docs":    result.FailedDocs,
	}).Info("Ingest run task completed")

	return h.queue.UpdateTaskStatus(ctx, task.ID, StatusCompleted, result, "")
}

// processUploadDify 处理知识库上传任务
func (h *IngestHandler) processUploadDify(ctx context.Context, task *Task) error {
	var payload UploadDifyPayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	result, err := h.executor.UploadArtifacts(ctx, payload.Prefix)
	if err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"total":     result.Total,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}).Info("Dify upload task completed")

	return h.queue.UpdateTaskStatus(ctx, task.ID, StatusCompleted, result, "")
}
