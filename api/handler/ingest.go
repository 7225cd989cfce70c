package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/doc-rag-ingest/api/middleware"
	"github.com/fyerfyer/doc-rag-ingest/api/model"
	"github.com/fyerfyer/doc-rag-ingest/internal/models"
	"github.com/fyerfyer/doc-rag-ingest/internal/repository"
	"github.com/fyerfyer/doc-rag-ingest/pkg/taskqueue"
)

// 分页参数的默认值与上限
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// IngestHandler 入库API处理器
// 负责接收入库请求并将其转为异步任务，以及查询文档和任务状态
type IngestHandler struct {
	queue  taskqueue.Queue
	repo   repository.IngestRepository
	logger *logrus.Logger
}

// NewIngestHandler 创建入库API处理器
func NewIngestHandler(queue taskqueue.Queue, repo repository.IngestRepository, logger *logrus.Logger) *IngestHandler {
	if logger == nil {
		logger = middleware.GetLogger()
	}
	return &IngestHandler{
		queue:  queue,
		repo:   repo,
		logger: logger,
	}
}

// IngestDocument 触发单文档入库
// POST /api/ingest/document
func (h *IngestHandler) IngestDocument(c *gin.Context) {
	var req model.IngestDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("doc_path is required", err.Error()))
		return
	}

	payload := taskqueue.IngestDocumentPayload{
		DocPath: req.DocPath,
		Version: req.Version,
	}
	taskID, err := h.queue.Enqueue(c.Request.Context(), taskqueue.TaskIngestDocument, req.DocPath, payload)
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("failed to enqueue ingest task", err.Error()))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":  taskID,
		"doc_path": req.DocPath,
	}).Info("Document ingest task enqueued")

	c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.TaskEnqueuedResponse{
		TaskID:  taskID,
		Type:    string(taskqueue.TaskIngestDocument),
		DocPath: req.DocPath,
		Status:  string(taskqueue.StatusPending),
	}))
}

// IngestRun 触发全量入库流水
// POST /api/ingest/run
func (h *IngestHandler) IngestRun(c *gin.Context) {
	// 所有字段均可选，允许空请求体
	var req model.IngestRunRequest
	_ = c.ShouldBindJSON(&req)

	payload := taskqueue.IngestRunPayload{
		Version: req.Version,
		Stages:  req.Stages,
	}
	taskID, err := h.queue.Enqueue(c.Request.Context(), taskqueue.TaskIngestRun, "", payload)
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("failed to enqueue ingest run", err.Error()))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"task_id": taskID,
		"version": req.Version,
	}).Info("Ingest run task enqueued")

	c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.TaskEnqueuedResponse{
		TaskID: taskID,
		Type:   string(taskqueue.TaskIngestRun),
		Status: string(taskqueue.StatusPending),
	}))
}

// UploadArtifacts 触发产物上传
// POST /api/ingest/upload
func (h *IngestHandler) UploadArtifacts(c *gin.Context) {
	var req model.UploadArtifactsRequest
	_ = c.ShouldBindJSON(&req)

	payload := taskqueue.UploadDifyPayload{Prefix: req.Prefix}
	taskID, err := h.queue.Enqueue(c.Request.Context(), taskqueue.TaskUploadDify, "", payload)
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("failed to enqueue upload task", err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.TaskEnqueuedResponse{
		TaskID: taskID,
		Type:   string(taskqueue.TaskUploadDify),
		Status: string(taskqueue.StatusPending),
	}))
}

// GetDocumentStatus 查询文档处理状态
// GET /api/documents/status?doc_path=...
// 文档路径含斜杠，用查询参数而不是路径参数传递
func (h *IngestHandler) GetDocumentStatus(c *gin.Context) {
	docPath := c.Query("doc_path")
	if docPath == "" {
		middleware.HandleError(c, middleware.NewValidationError("doc_path is required"))
		return
	}

	doc, err := h.repo.GetDocumentByPath(docPath, c.Query("version"))
	if err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			middleware.HandleError(c, middleware.NewNotFoundError("document not found"))
		} else {
			middleware.HandleError(c, middleware.NewInternalError("failed to query document", err.Error()))
		}
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewDocumentStatusResponse(doc)))
}

// ListDocuments 分页列出文档记录
// GET /api/documents
func (h *IngestHandler) ListDocuments(c *gin.Context) {
	var req model.ListDocumentsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", err.Error()))
		return
	}

	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	filters := make(map[string]interface{})
	if req.Status != "" {
		filters["status"] = req.Status
	}
	if req.Version != "" {
		filters["version"] = req.Version
	}
	if req.DocPath != "" {
		filters["doc_path"] = req.DocPath
	}

	offset := (req.Page - 1) * req.PageSize
	docs, total, err := h.repo.ListDocuments(offset, req.PageSize, filters)
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("failed to list documents", err.Error()))
		return
	}

	items := make([]*model.DocumentStatusResponse, 0, len(docs))
	for _, doc := range docs {
		items = append(items, model.NewDocumentStatusResponse(doc))
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.DocumentListResponse{
		Total:     total,
		Page:      req.Page,
		PageSize:  req.PageSize,
		Documents: items,
	}))
}

// GetRun 查询入库流水状态
// GET /api/runs/:id
func (h *IngestHandler) GetRun(c *gin.Context) {
	runID := c.Param("id")

	run, err := h.repo.GetRun(runID)
	if err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			middleware.HandleError(c, middleware.NewNotFoundError("ingest run not found"))
		} else {
			middleware.HandleError(c, middleware.NewInternalError("failed to query ingest run", err.Error()))
		}
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewRunStatusResponse(run)))
}

// GetTask 查询任务状态
// GET /api/tasks/:id
func (h *IngestHandler) GetTask(c *gin.Context) {
	taskID := c.Param("id")

	task, err := h.queue.GetTask(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) {
			middleware.HandleError(c, middleware.NewNotFoundError("task not found"))
		} else {
			middleware.HandleError(c, middleware.NewInternalError("failed to query task", err.Error()))
		}
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(task))
}

// GetDocumentTasks 查询文档关联的所有任务
// GET /api/tasks?doc_path=...
func (h *IngestHandler) GetDocumentTasks(c *gin.Context) {
	docPath := c.Query("doc_path")
	if docPath == "" {
		middleware.HandleError(c, middleware.NewValidationError("doc_path is required"))
		return
	}

	tasks, err := h.queue.GetTasksByDoc(c.Request.Context(), docPath)
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("failed to query tasks", err.Error()))
		return
	}

	infos := make([]*taskqueue.TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, taskqueue.NewTaskInfo(task))
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(infos))
}
