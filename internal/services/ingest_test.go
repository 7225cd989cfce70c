package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/doc-rag-ingest/internal/doctree"
	"github.com/fyerfyer/doc-rag-ingest/internal/embedding"
	"github.com/fyerfyer/doc-rag-ingest/internal/models"
	"github.com/fyerfyer/doc-rag-ingest/internal/normalize"
	"github.com/fyerfyer/doc-rag-ingest/internal/repository"
	"github.com/fyerfyer/doc-rag-ingest/internal/transform"
	"github.com/fyerfyer/doc-rag-ingest/internal/vectordb"
	"github.com/fyerfyer/doc-rag-ingest/pkg/storage"
)

// fakeRepo 内存版的入库跟踪仓储
type fakeRepo struct {
	mu   sync.Mutex
	docs map[string]*models.IngestDocument
	runs map[string]*models.IngestRun
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		docs: make(map[string]*models.IngestDocument),
		runs: make(map[string]*models.IngestRun),
	}
}

func (r *fakeRepo) CreateDocument(doc *models.IngestDocument) error {
	return r.UpsertDocument(doc)
}

func (r *fakeRepo) UpsertDocument(doc *models.IngestDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *doc
	r.docs[doc.ID] = &copied
	return nil
}

func (r *fakeRepo) GetDocument(id string) (*models.IngestDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, models.ErrDocumentNotFound
	}
	copied := *doc
	return &copied, nil
}

func (r *fakeRepo) GetDocumentByPath(docPath, version string) (*models.IngestDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doc := range r.docs {
		if doc.DocPath == docPath && (version == "" || doc.Version == version) {
			copied := *doc
			return &copied, nil
		}
	}
	return nil, models.ErrDocumentNotFound
}

func (r *fakeRepo) ListDocuments(offset, limit int, filters map[string]interface{}) ([]*models.IngestDocument, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var docs []*models.IngestDocument
	for _, doc := range r.docs {
		copied := *doc
		docs = append(docs, &copied)
	}
	return docs, int64(len(docs)), nil
}

func (r *fakeRepo) UpdateDocumentStatus(id string, status models.IngestStatus, stage models.IngestStage, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return models.ErrDocumentNotFound
	}
	doc.Status = status
	if stage != "" {
		doc.Stage = stage
	}
	if errorMsg != "" {
		doc.Error = errorMsg
	}
	return nil
}

func (r *fakeRepo) UpdateDocumentCounts(id string, sections, chunks, symbols int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return models.ErrDocumentNotFound
	}
	doc.SectionCount = sections
	doc.ChunkCount = chunks
	doc.SymbolCount = symbols
	return nil
}

func (r *fakeRepo) DeleteDocument(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

func (r *fakeRepo) CreateRun(run *models.IngestRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *run
	r.runs[run.RunID] = &copied
	return nil
}

func (r *fakeRepo) GetRun(runID string) (*models.IngestRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, models.ErrRunNotFound
	}
	copied := *run
	return &copied, nil
}

func (r *fakeRepo) FinishRun(runID string, status models.IngestStatus, summary repository.RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return models.ErrRunNotFound
	}
	run.Status = status
	run.TotalDocs = summary.TotalDocs
	run.SucceededDocs = summary.SucceededDocs
	run.FailedDocs = summary.FailedDocs
	run.ChunkCount = summary.ChunkCount
	run.Error = summary.Error
	return nil
}

func (r *fakeRepo) WithContext(ctx context.Context) repository.IngestRepository { return r }

// fakeSphinx 按文档名返回预置节点树的边车客户端
type fakeSphinx struct {
	trees map[string]*doctree.Node
	errs  map[string]error
}

func (f *fakeSphinx) ParseDoc(ctx context.Context, docName string) (*doctree.Node, error) {
	if err, ok := f.errs[docName]; ok {
		return nil, err
	}
	tree, ok := f.trees[docName]
	if !ok {
		return nil, fmt.Errorf("no tree for %s", docName)
	}
	return tree, nil
}

func (f *fakeSphinx) ListDocs(ctx context.Context) ([]string, error) {
	var names []string
	for name := range f.trees {
		names = append(names, name)
	}
	return names, nil
}

// fakeEmbedder 返回固定维度向量的嵌入客户端
type fakeEmbedder struct {
	dim int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dim)
	vec[0] = 1
	return vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dim)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Health(ctx context.Context) error { return nil }
func (f *fakeEmbedder) Name() string                     { return "fake" }

// docTree 构造一个带标题、段落和代码块的测试节点树
func docTree(title string) *doctree.Node {
	return &doctree.Node{
		Kind: doctree.KindOther,
		Children: []*doctree.Node{
			{
				Kind: doctree.KindSection,
				Children: []*doctree.Node{
					{Kind: doctree.KindTitle, Raw: title},
					{Kind: doctree.KindParagraph, Raw: "This section explains " + title + " in detail."},
					{Kind: doctree.KindLiteralBlock, Raw: "zeek -r trace.pcap", Language: "console"},
				},
			},
		},
	}
}

// newTestService 组装一个使用内存依赖的入库服务
func newTestService(t *testing.T, cfg IngestConfig, sphinxClient *fakeSphinx) (*IngestService, *fakeRepo, vectordb.Repository, storage.Storage) {
	t.Helper()

	repo := newFakeRepo()
	vectors, err := vectordb.NewRepository(vectordb.Config{
		Type:         "memory",
		Dimension:    8,
		DistanceType: vectordb.Cosine,
	})
	require.NoError(t, err)
	t.Cleanup(func() { vectors.Close() })

	artifacts, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	svc, err := NewIngestService(cfg, IngestOptions{
		Sphinx:      sphinxClient,
		Transformer: transform.NewTransformer(transform.DefaultConfig(), nil),
		Normalizer:  normalize.NewNormalizer(normalize.DefaultConfig()),
		Embedder:    embedding.NewBatchProcessor(&fakeEmbedder{dim: 8}, 4, 2, nil),
		Vectors:     vectors,
		Artifacts:   artifacts,
		Repo:        repo,
		Status:      NewDocumentStatusManager(repo, nil),
	}, nil)
	require.NoError(t, err)
	return svc, repo, vectors, artifacts
}

// TestNewIngestServiceValidation 测试依赖缺失时的校验
func TestNewIngestServiceValidation(t *testing.T) {
	_, err := NewIngestService(DefaultIngestConfig(), IngestOptions{}, nil)
	assert.Error(t, err)
}

// TestIngestDocumentPipeline 测试单文档的完整入库管线
func TestIngestDocumentPipeline(t *testing.T) {
	sphinxClient := &fakeSphinx{trees: map[string]*doctree.Node{
		"scripts/base/init": docTree("Base Initialization"),
	}}
	svc, repo, vectors, artifacts := newTestService(t, DefaultIngestConfig(), sphinxClient)

	result, err := svc.IngestDocument(context.Background(), "scripts/base/init.rst", "v7.0")
	require.NoError(t, err)
	assert.Equal(t, 1, result.SectionCount)
	assert.Equal(t, 2, result.ChunkCount)

	// 向量库中有等量记录
	count, err := vectors.Count()
	require.NoError(t, err)
	assert.Equal(t, result.ChunkCount, count)

	// 产物存储中有Markdown和JSON产物
	mds, err := artifacts.List("markdown/")
	require.NoError(t, err)
	require.Len(t, mds, 1)
	assert.Equal(t, "markdown/scripts_base_init.md", mds[0].Name)

	jsons, err := artifacts.List("json/")
	require.NoError(t, err)
	require.Len(t, jsons, 1)

	// 跟踪记录标记为完成
	doc, err := repo.GetDocument("scripts/base/init.rst")
	require.NoError(t, err)
	assert.Equal(t, models.IngestStatusCompleted, doc.Status)
	assert.Equal(t, models.StageCompleted, doc.Stage)
	assert.Equal(t, result.ChunkCount, doc.ChunkCount)
}

// TestIngestDocumentIdempotent 测试重复入库不产生重复记录
func TestIngestDocumentIdempotent(t *testing.T) {
	sphinxClient := &fakeSphinx{trees: map[string]*doctree.Node{
		"intro": docTree("Introduction"),
	}}
	svc, _, vectors, _ := newTestService(t, DefaultIngestConfig(), sphinxClient)

	_, err := svc.IngestDocument(context.Background(), "intro.rst", "v1")
	require.NoError(t, err)
	first, err := vectors.Count()
	require.NoError(t, err)

	// 再次入库同一文档，旧记录被清理后重写
	_, err = svc.IngestDocument(context.Background(), "intro.rst", "v1")
	require.NoError(t, err)
	second, err := vectors.Count()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// TestIngestDocumentParseFailure 测试解析失败时的状态记录
func TestIngestDocumentParseFailure(t *testing.T) {
	sphinxClient := &fakeSphinx{
		trees: map[string]*doctree.Node{},
		errs:  map[string]error{"broken": errors.New("sidecar unavailable")},
	}
	svc, repo, _, _ := newTestService(t, DefaultIngestConfig(), sphinxClient)

	_, err := svc.IngestDocument(context.Background(), "broken.rst", "v1")
	require.Error(t, err)

	doc, err := repo.GetDocument("broken.rst")
	require.NoError(t, err)
	assert.Equal(t, models.IngestStatusFailed, doc.Status)
	assert.Equal(t, models.StageParse, doc.Stage)
	assert.Contains(t, doc.Error, "sidecar unavailable")
}

// TestIngestDocumentMarkdownSource 测试Markdown产物不经边车回灌入库
func TestIngestDocumentMarkdownSource(t *testing.T) {
	docRoot := t.TempDir()
	writeDocFile(t, docRoot, "notes/guide.md",
		"# Guide\n\nSome intro text.\n\n```console\nzeek --version\n```\n")

	// 边车没有任何预置树：命中即报错，证明走的是本地解析器
	sphinxClient := &fakeSphinx{trees: map[string]*doctree.Node{}}

	cfg := DefaultIngestConfig()
	cfg.DocRoot = docRoot
	svc, repo, vectors, artifacts := newTestService(t, cfg, sphinxClient)

	result, err := svc.IngestDocument(context.Background(), "notes/guide.md", "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.SectionCount)
	assert.Equal(t, 2, result.ChunkCount)

	count, err := vectors.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// 产物名去掉扩展名后生成
	mds, err := artifacts.List("markdown/")
	require.NoError(t, err)
	require.Len(t, mds, 1)
	assert.Equal(t, "markdown/notes_guide.md", mds[0].Name)

	doc, err := repo.GetDocument("notes/guide.md")
	require.NoError(t, err)
	assert.Equal(t, models.IngestStatusCompleted, doc.Status)
}

// TestIngestDocumentUnsupportedType 测试不支持的文档类型在解析阶段报错
func TestIngestDocumentUnsupportedType(t *testing.T) {
	sphinxClient := &fakeSphinx{trees: map[string]*doctree.Node{}}
	svc, repo, _, _ := newTestService(t, DefaultIngestConfig(), sphinxClient)

	_, err := svc.IngestDocument(context.Background(), "report.pdf", "v1")
	require.Error(t, err)

	doc, err := repo.GetDocument("report.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.IngestStatusFailed, doc.Status)
	assert.Equal(t, models.StageParse, doc.Stage)
}

// writeDocFile 在文档根下写入rst文件
func writeDocFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	path := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// TestIngestAll 测试全量入库流水
func TestIngestAll(t *testing.T) {
	docRoot := t.TempDir()
	writeDocFile(t, docRoot, "index.rst", "Root\n====\n\n.. toctree::\n\n   intro\n")
	writeDocFile(t, docRoot, "intro.rst", "Intro\n=====\n")

	sphinxClient := &fakeSphinx{trees: map[string]*doctree.Node{
		"index": docTree("Documentation Root"),
		"intro": docTree("Introduction"),
	}}

	cfg := DefaultIngestConfig()
	cfg.DocRoot = docRoot
	cfg.Version = "v7.0"
	svc, repo, vectors, _ := newTestService(t, cfg, sphinxClient)

	result, err := svc.IngestAll(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalDocs)
	assert.Equal(t, 2, result.SucceededDocs)
	assert.Equal(t, 0, result.FailedDocs)
	assert.Equal(t, 4, result.ChunkCount)

	count, err := vectors.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	// 流水记录写入汇总
	run, err := repo.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.IngestStatusCompleted, run.Status)
	assert.Equal(t, 2, run.SucceededDocs)
	assert.Equal(t, 4, run.ChunkCount)

	// 文档记录携带配置里的版本号
	doc, err := repo.GetDocument("intro.rst")
	require.NoError(t, err)
	assert.Equal(t, "v7.0", doc.Version)
	t.Logf("流水 %s 共产出 %d 个切块", result.RunID, result.ChunkCount)
}

// TestIngestAllSidecarDiscovery 测试无本地文档树时经边车清单发现文档
func TestIngestAllSidecarDiscovery(t *testing.T) {
	sphinxClient := &fakeSphinx{trees: map[string]*doctree.Node{
		"alpha": docTree("Alpha"),
		"beta":  docTree("Beta"),
	}}

	// DocRoot为空：批量入库回退到边车的文档清单
	cfg := DefaultIngestConfig()
	svc, repo, vectors, _ := newTestService(t, cfg, sphinxClient)

	result, err := svc.IngestAll(context.Background(), "v1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalDocs)
	assert.Equal(t, 2, result.SucceededDocs)

	count, err := vectors.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	doc, err := repo.GetDocument("alpha.rst")
	require.NoError(t, err)
	assert.Equal(t, models.IngestStatusCompleted, doc.Status)
}

// TestIngestAllIsolatesFailures 测试单文档失败不中断流水
func TestIngestAllIsolatesFailures(t *testing.T) {
	docRoot := t.TempDir()
	writeDocFile(t, docRoot, "index.rst", "Root\n====\n\n.. toctree::\n\n   good\n   bad\n")
	writeDocFile(t, docRoot, "good.rst", "Good\n====\n")
	writeDocFile(t, docRoot, "bad.rst", "Bad\n===\n")

	sphinxClient := &fakeSphinx{
		trees: map[string]*doctree.Node{
			"index": docTree("Root"),
			"good":  docTree("Good Document"),
		},
		errs: map[string]error{"bad": errors.New("parse exploded")},
	}

	cfg := DefaultIngestConfig()
	cfg.DocRoot = docRoot
	svc, repo, _, _ := newTestService(t, cfg, sphinxClient)

	result, err := svc.IngestAll(context.Background(), "v1", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalDocs)
	assert.Equal(t, 2, result.SucceededDocs)
	assert.Equal(t, 1, result.FailedDocs)

	run, err := repo.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.IngestStatusCompleted, run.Status)
	assert.Equal(t, 1, run.FailedDocs)
}

// TestIngestAllStageSelection 测试阶段选择跳过写库
func TestIngestAllStageSelection(t *testing.T) {
	docRoot := t.TempDir()
	writeDocFile(t, docRoot, "index.rst", "Root\n====\n")

	sphinxClient := &fakeSphinx{trees: map[string]*doctree.Node{
		"index": docTree("Root"),
	}}

	cfg := DefaultIngestConfig()
	cfg.DocRoot = docRoot
	svc, _, vectors, artifacts := newTestService(t, cfg, sphinxClient)

	// 只执行嵌入阶段，不写向量库
	result, err := svc.IngestAll(context.Background(), "v1", []string{"embed"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SucceededDocs)

	count, err := vectors.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// 解析和扁平化始终执行，产物照常落盘
	mds, err := artifacts.List("markdown/")
	require.NoError(t, err)
	assert.Len(t, mds, 1)
}

// TestIngestAllAllFailed 测试全部失败时流水标记为失败
func TestIngestAllAllFailed(t *testing.T) {
	docRoot := t.TempDir()
	writeDocFile(t, docRoot, "index.rst", "Root\n====\n")

	sphinxClient := &fakeSphinx{
		trees: map[string]*doctree.Node{},
		errs:  map[string]error{"index": errors.New("sidecar down")},
	}

	cfg := DefaultIngestConfig()
	cfg.DocRoot = docRoot
	svc, repo, _, _ := newTestService(t, cfg, sphinxClient)

	result, err := svc.IngestAll(context.Background(), "v1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.SucceededDocs)

	run, err := repo.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.IngestStatusFailed, run.Status)
}

// TestUploadArtifactsWithoutUploader 测试未配置上传器时报错
func TestUploadArtifactsWithoutUploader(t *testing.T) {
	sphinxClient := &fakeSphinx{trees: map[string]*doctree.Node{}}
	svc, _, _, _ := newTestService(t, DefaultIngestConfig(), sphinxClient)

	_, err := svc.UploadArtifacts(context.Background(), "markdown/")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "uploader"))
}

// TestStatusManagerLifecycle 测试状态管理器的完整状态流转
func TestStatusManagerLifecycle(t *testing.T) {
	repo := newFakeRepo()
	mgr := NewDocumentStatusManager(repo, nil)
	ctx := context.Background()

	require.NoError(t, mgr.MarkAsDiscovered(ctx, "a.rst", "a.rst", "v1"))
	doc, err := mgr.GetStatus(ctx, "a.rst")
	require.NoError(t, err)
	assert.Equal(t, models.IngestStatusPending, doc.Status)
	assert.Equal(t, models.StageDiscover, doc.Stage)

	require.NoError(t, mgr.MarkAsProcessing(ctx, "a.rst", models.StageEmbed))
	doc, err = mgr.GetStatus(ctx, "a.rst")
	require.NoError(t, err)
	assert.Equal(t, models.IngestStatusProcessing, doc.Status)
	assert.Equal(t, models.StageEmbed, doc.Stage)

	require.NoError(t, mgr.MarkAsCompleted(ctx, "a.rst", 3, 10, 2))
	doc, err = mgr.GetStatus(ctx, "a.rst")
	require.NoError(t, err)
	assert.Equal(t, models.IngestStatusCompleted, doc.Status)
	assert.Equal(t, 10, doc.ChunkCount)

	require.NoError(t, mgr.MarkAsFailed(ctx, "a.rst", models.StageIndex, errors.New("boom")))
	doc, err = mgr.GetStatus(ctx, "a.rst")
	require.NoError(t, err)
	assert.Equal(t, models.IngestStatusFailed, doc.Status)
	assert.Equal(t, "boom", doc.Error)
}
