package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/doc-rag-ingest/api/handler"
	"github.com/fyerfyer/doc-rag-ingest/api/model"
	"github.com/fyerfyer/doc-rag-ingest/internal/models"
	"github.com/fyerfyer/doc-rag-ingest/internal/repository"
	"github.com/fyerfyer/doc-rag-ingest/pkg/taskqueue"
)

// fakeQueue 内存任务队列桩
type fakeQueue struct {
	tasks      map[string]*taskqueue.Task
	enqueueErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{tasks: make(map[string]*taskqueue.Task)}
}

func (q *fakeQueue) Enqueue(ctx context.Context, taskType taskqueue.TaskType, docPath string, payload interface{}) (string, error) {
	if q.enqueueErr != nil {
		return "", q.enqueueErr
	}
	data, err := taskqueue.MarshalPayload(payload)
	if err != nil {
		return "", err
	}
	taskID := uuid.New().String()
	q.tasks[taskID] = &taskqueue.Task{
		ID:        taskID,
		Type:      taskType,
		DocPath:   docPath,
		Status:    taskqueue.StatusPending,
		Payload:   data,
		CreatedAt: time.Now(),
	}
	return taskID, nil
}

func (q *fakeQueue) EnqueueAt(ctx context.Context, taskType taskqueue.TaskType, docPath string, payload interface{}, processAt time.Time) (string, error) {
	return q.Enqueue(ctx, taskType, docPath, payload)
}

func (q *fakeQueue) EnqueueIn(ctx context.Context, taskType taskqueue.TaskType, docPath string, payload interface{}, delay time.Duration) (string, error) {
	return q.Enqueue(ctx, taskType, docPath, payload)
}

func (q *fakeQueue) GetTask(ctx context.Context, taskID string) (*taskqueue.Task, error) {
	task, ok := q.tasks[taskID]
	if !ok {
		return nil, taskqueue.ErrTaskNotFound
	}
	return task, nil
}

func (q *fakeQueue) GetTasksByDoc(ctx context.Context, docPath string) ([]*taskqueue.Task, error) {
	var tasks []*taskqueue.Task
	for _, task := range q.tasks {
		if task.DocPath == docPath {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func (q *fakeQueue) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*taskqueue.Task, error) {
	return q.GetTask(ctx, taskID)
}

func (q *fakeQueue) DeleteTask(ctx context.Context, taskID string) error {
	delete(q.tasks, taskID)
	return nil
}

func (q *fakeQueue) UpdateTaskStatus(ctx context.Context, taskID string, status taskqueue.TaskStatus, result interface{}, errorMsg string) error {
	task, ok := q.tasks[taskID]
	if !ok {
		return taskqueue.ErrTaskNotFound
	}
	task.Status = status
	return nil
}

func (q *fakeQueue) NotifyTaskUpdate(ctx context.Context, taskID string) error { return nil }
func (q *fakeQueue) Close() error                                              { return nil }

// fakeDocRepo 内存文档仓储桩
type fakeDocRepo struct {
	docs map[string]*models.IngestDocument
	runs map[string]*models.IngestRun
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{
		docs: make(map[string]*models.IngestDocument),
		runs: make(map[string]*models.IngestRun),
	}
}

func (r *fakeDocRepo) CreateDocument(doc *models.IngestDocument) error { return r.UpsertDocument(doc) }

func (r *fakeDocRepo) UpsertDocument(doc *models.IngestDocument) error {
	r.docs[doc.ID] = doc
	return nil
}

func (r *fakeDocRepo) GetDocument(id string) (*models.IngestDocument, error) {
	doc, ok := r.docs[id]
	if !ok {
		return nil, models.ErrDocumentNotFound
	}
	return doc, nil
}

func (r *fakeDocRepo) GetDocumentByPath(docPath, version string) (*models.IngestDocument, error) {
	for _, doc := range r.docs {
		if doc.DocPath == docPath && (version == "" || doc.Version == version) {
			return doc, nil
		}
	}
	return nil, models.ErrDocumentNotFound
}

func (r *fakeDocRepo) ListDocuments(offset, limit int, filters map[string]interface{}) ([]*models.IngestDocument, int64, error) {
	var docs []*models.IngestDocument
	for _, doc := range r.docs {
		docs = append(docs, doc)
	}
	total := int64(len(docs))
	if offset >= len(docs) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(docs) {
		end = len(docs)
	}
	return docs[offset:end], total, nil
}

func (r *fakeDocRepo) UpdateDocumentStatus(id string, status models.IngestStatus, stage models.IngestStage, errorMsg string) error {
	return nil
}

func (r *fakeDocRepo) UpdateDocumentCounts(id string, sections, chunks, symbols int) error {
	return nil
}

func (r *fakeDocRepo) DeleteDocument(id string) error {
	delete(r.docs, id)
	return nil
}

func (r *fakeDocRepo) CreateRun(run *models.IngestRun) error {
	r.runs[run.RunID] = run
	return nil
}

func (r *fakeDocRepo) GetRun(runID string) (*models.IngestRun, error) {
	run, ok := r.runs[runID]
	if !ok {
		return nil, models.ErrRunNotFound
	}
	return run, nil
}

func (r *fakeDocRepo) FinishRun(runID string, status models.IngestStatus, summary repository.RunSummary) error {
	return nil
}

func (r *fakeDocRepo) WithContext(ctx context.Context) repository.IngestRepository { return r }

// newTestRouter 组装带桩依赖的测试路由
func newTestRouter(t *testing.T) (*gin.Engine, *fakeQueue, *fakeDocRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	queue := newFakeQueue()
	repo := newFakeDocRepo()
	h := handler.NewIngestHandler(queue, repo, nil)
	return SetupRouter(h), queue, repo
}

// doRequest 发送测试请求并解析通用响应
func doRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, *model.Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp model.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, &resp
}

// TestIngestDocumentEndpoint 测试单文档入库端点
func TestIngestDocumentEndpoint(t *testing.T) {
	router, queue, _ := newTestRouter(t)

	w, resp := doRequest(t, router, http.MethodPost, "/api/ingest/document", map[string]string{
		"doc_path": "scripts/base/init.rst",
		"version":  "v7.0",
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 0, resp.Code)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var enqueued model.TaskEnqueuedResponse
	require.NoError(t, json.Unmarshal(data, &enqueued))
	assert.NotEmpty(t, enqueued.TaskID)
	assert.Equal(t, "ingest_document", enqueued.Type)
	assert.Equal(t, "scripts/base/init.rst", enqueued.DocPath)

	// 任务确实落入队列
	task, err := queue.GetTask(context.Background(), enqueued.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.TaskIngestDocument, task.Type)
}

// TestIngestDocumentMissingPath 测试缺少doc_path时返回400
func TestIngestDocumentMissingPath(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w, resp := doRequest(t, router, http.MethodPost, "/api/ingest/document", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

// TestIngestRunEndpoint 测试全量入库端点允许空请求体
func TestIngestRunEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w, _ := doRequest(t, router, http.MethodPost, "/api/ingest/run", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w, _ = doRequest(t, router, http.MethodPost, "/api/ingest/run", map[string]interface{}{
		"version": "v7.0",
		"stages":  []string{"embed", "index"},
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

// TestUploadArtifactsEndpoint 测试产物上传端点
func TestUploadArtifactsEndpoint(t *testing.T) {
	router, queue, _ := newTestRouter(t)

	w, resp := doRequest(t, router, http.MethodPost, "/api/ingest/upload", map[string]string{
		"prefix": "markdown/",
	})
	assert.Equal(t, http.StatusAccepted, w.Code)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var enqueued model.TaskEnqueuedResponse
	require.NoError(t, json.Unmarshal(data, &enqueued))

	task, err := queue.GetTask(context.Background(), enqueued.TaskID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.TaskUploadDify, task.Type)
}

// TestGetDocumentStatusEndpoint 测试文档状态查询
func TestGetDocumentStatusEndpoint(t *testing.T) {
	router, _, repo := newTestRouter(t)

	now := time.Now()
	repo.docs["intro.rst"] = &models.IngestDocument{
		ID:           "intro.rst",
		DocPath:      "intro.rst",
		Title:        "Introduction",
		Version:      "v7.0",
		Status:       models.IngestStatusCompleted,
		Stage:        models.StageCompleted,
		ChunkCount:   8,
		DiscoveredAt: now,
		ProcessedAt:  &now,
	}

	w, resp := doRequest(t, router, http.MethodGet, "/api/documents/status?doc_path=intro.rst", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var status model.DocumentStatusResponse
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, 8, status.ChunkCount)
	assert.NotEmpty(t, status.ProcessedAt)

	// 不存在的文档返回404
	w, _ = doRequest(t, router, http.MethodGet, "/api/documents/status?doc_path=missing.rst", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 缺少doc_path返回400
	w, _ = doRequest(t, router, http.MethodGet, "/api/documents/status", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestListDocumentsEndpoint 测试文档列表分页
func TestListDocumentsEndpoint(t *testing.T) {
	router, _, repo := newTestRouter(t)

	for _, id := range []string{"a.rst", "b.rst", "c.rst"} {
		repo.docs[id] = &models.IngestDocument{
			ID:           id,
			DocPath:      id,
			Status:       models.IngestStatusCompleted,
			DiscoveredAt: time.Now(),
		}
	}

	w, resp := doRequest(t, router, http.MethodGet, "/api/documents?page=1&page_size=2", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var list model.DocumentListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Equal(t, int64(3), list.Total)
	assert.Equal(t, 1, list.Page)
	assert.Equal(t, 2, list.PageSize)
	assert.Len(t, list.Documents, 2)
}

// TestGetRunEndpoint 测试流水状态查询
func TestGetRunEndpoint(t *testing.T) {
	router, _, repo := newTestRouter(t)

	repo.runs["run-1"] = &models.IngestRun{
		RunID:         "run-1",
		Version:       "v7.0",
		Status:        models.IngestStatusCompleted,
		TotalDocs:     10,
		SucceededDocs: 10,
		StartedAt:     time.Now(),
	}

	w, resp := doRequest(t, router, http.MethodGet, "/api/runs/run-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var run model.RunStatusResponse
	require.NoError(t, json.Unmarshal(data, &run))
	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, 10, run.TotalDocs)

	w, _ = doRequest(t, router, http.MethodGet, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestGetTaskEndpoint 测试任务查询
func TestGetTaskEndpoint(t *testing.T) {
	router, queue, _ := newTestRouter(t)

	taskID, err := queue.Enqueue(context.Background(), taskqueue.TaskIngestDocument, "a.rst",
		taskqueue.IngestDocumentPayload{DocPath: "a.rst"})
	require.NoError(t, err)

	w, _ := doRequest(t, router, http.MethodGet, "/api/tasks/"+taskID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doRequest(t, router, http.MethodGet, "/api/tasks/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 按文档查询关联任务
	w, resp := doRequest(t, router, http.MethodGet, "/api/tasks?doc_path=a.rst", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var infos []*taskqueue.TaskInfo
	require.NoError(t, json.Unmarshal(data, &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, taskID, infos[0].ID)
}

// TestHealthEndpoint 测试健康检查
func TestHealthEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
