package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/doc-rag-ingest/internal/cache"
	"github.com/fyerfyer/doc-rag-ingest/internal/dify"
	"github.com/fyerfyer/doc-rag-ingest/internal/doctree"
	"github.com/fyerfyer/doc-rag-ingest/internal/document"
	"github.com/fyerfyer/doc-rag-ingest/internal/embedding"
	"github.com/fyerfyer/doc-rag-ingest/internal/flatten"
	"github.com/fyerfyer/doc-rag-ingest/internal/models"
	"github.com/fyerfyer/doc-rag-ingest/internal/normalize"
	"github.com/fyerfyer/doc-rag-ingest/internal/repository"
	"github.com/fyerfyer/doc-rag-ingest/internal/source"
	"github.com/fyerfyer/doc-rag-ingest/internal/sphinx"
	"github.com/fyerfyer/doc-rag-ingest/internal/transform"
	"github.com/fyerfyer/doc-rag-ingest/internal/vectordb"
	"github.com/fyerfyer/doc-rag-ingest/pkg/storage"
	"github.com/fyerfyer/doc-rag-ingest/pkg/taskqueue"
)

// 产物存储中的目录前缀
const (
	markdownPrefix = "markdown/"
	jsonPrefix     = "json/"
)

// 管线阶段名，用于IngestAll的阶段选择
const (
	stageEmbed  = "embed"
	stageIndex  = "index"
	stageUpload = "upload"
)

// IngestConfig 入库服务配置
type IngestConfig struct {
	Version         string           // 文档集版本号
	DocRoot         string           // 文档树根目录（含根index.rst）
	Git             source.GitConfig // 文档源码获取配置，RepoURL为空时跳过获取
	InsertBatchSize int              // 向量库批量写入大小
}

// DefaultIngestConfig 返回默认入库配置
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		InsertBatchSize: 500,
	}
}

// IngestOptions 入库服务的依赖集合
type IngestOptions struct {
	Sphinx      sphinx.Client             // 解析侧车客户端
	Transformer *transform.Transformer    // 解析树到章节模型的转换器
	Normalizer  *normalize.Normalizer     // 章节模型到切块的归一化器
	Embedder    *embedding.BatchProcessor // 批量嵌入处理器
	Vectors     vectordb.Repository       // 向量库
	Artifacts   storage.Storage           // 产物存储
	Repo        repository.IngestRepository
	Status      *DocumentStatusManager
	VectorCache *cache.VectorCache // 可选，嵌入结果缓存
	Uploader    *dify.Uploader     // 可选，知识库上传器
}

// IngestService 文档入库服务
// 串联 解析→转换→扁平化→嵌入→写库 的完整管线，
// 并实现taskqueue.IngestExecutor供异步任务调用
type IngestService struct {
	cfg    IngestConfig
	opts   IngestOptions
	logger *logrus.Logger
}

// 编译期检查：IngestService必须满足任务执行器接口
var _ taskqueue.IngestExecutor = (*IngestService)(nil)

// NewIngestService 创建入库服务
func NewIngestService(cfg IngestConfig, opts IngestOptions, logger *logrus.Logger) (*IngestService, error) {
	if opts.Sphinx == nil {
		return nil, fmt.Errorf("services: sphinx client is required")
	}
	if opts.Transformer == nil || opts.Normalizer == nil {
		return nil, fmt.Errorf("services: transformer and normalizer are required")
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("services: batch embedder is required")
	}
	if opts.Vectors == nil {
		return nil, fmt.Errorf("services: vector repository is required")
	}
	if opts.Artifacts == nil {
		return nil, fmt.Errorf("services: artifact storage is required")
	}
	if opts.Repo == nil || opts.Status == nil {
		return nil, fmt.Errorf("services: ingest repository and status manager are required")
	}
	if cfg.InsertBatchSize <= 0 {
		cfg.InsertBatchSize = 500
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &IngestService{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
	}, nil
}

// stageSet 阶段选择集合，空集合表示执行全部阶段
type stageSet map[string]bool

func newStageSet(stages []string) stageSet {
	if len(stages) == 0 {
		return nil
	}
	set := make(stageSet, len(stages))
	for _, s := range stages {
		set[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return set
}

// want 判断阶段是否需要执行
func (s stageSet) want(stage string) bool {
	if s == nil {
		return true
	}
	return s[stage]
}

// IngestDocument 入库单个文档，执行全部阶段
func (s *IngestService) IngestDocument(ctx context.Context, docPath, version string) (*taskqueue.IngestDocumentResult, error) {
	if version == "" {
		version = s.cfg.Version
	}
	if err := s.opts.Status.MarkAsDiscovered(ctx, docPath, docPath, version); err != nil {
		return nil, fmt.Errorf("failed to register document: %w", err)
	}
	return s.ingestOne(ctx, docPath, version, nil)
}

// ingestOne 执行单文档的入库管线
// stages控制嵌入和写库阶段是否执行，解析与转换始终执行
func (s *IngestService) ingestOne(ctx context.Context, docPath, version string, stages stageSet) (*taskqueue.IngestDocumentResult, error) {
	result := &taskqueue.IngestDocumentResult{DocPath: docPath}
	start := time.Now()

	fail := func(stage models.IngestStage, err error) (*taskqueue.IngestDocumentResult, error) {
		result.Error = err.Error()
		if markErr := s.opts.Status.MarkAsFailed(ctx, docPath, stage, err); markErr != nil {
			s.logger.WithError(markErr).Warn("Failed to record document failure")
		}
		return result, err
	}

	// 解析：文档名为去掉扩展名的相对路径
	if err := s.opts.Status.MarkAsProcessing(ctx, docPath, models.StageParse); err != nil {
		s.logger.WithError(err).Warn("Failed to update document stage")
	}
	docName := strings.TrimSuffix(docPath, path.Ext(docPath))
	root, err := s.parseTree(ctx, docPath)
	if err != nil {
		return fail(models.StageParse, fmt.Errorf("failed to parse document: %w", err))
	}

	// 转换为章节/块/符号模型
	if err := s.opts.Status.MarkAsProcessing(ctx, docPath, models.StageTransform); err != nil {
		s.logger.WithError(err).Warn("Failed to update document stage")
	}
	doc, err := s.opts.Transformer.Transform(root, docPath, version)
	if err != nil {
		return fail(models.StageTransform, fmt.Errorf("failed to transform document: %w", err))
	}
	result.SectionCount = countSections(doc.Sections)
	result.SymbolCount = len(doc.Symbols)

	// 扁平化并写产物
	if err := s.opts.Status.MarkAsProcessing(ctx, docPath, models.StageFlatten); err != nil {
		s.logger.WithError(err).Warn("Failed to update document stage")
	}
	if err := s.saveArtifacts(docName, doc); err != nil {
		return fail(models.StageFlatten, err)
	}
	chunks := s.opts.Normalizer.Flatten(doc)
	result.ChunkCount = len(chunks)

	// 嵌入
	var vectors [][]float32
	if stages.want(stageEmbed) {
		if err := s.opts.Status.MarkAsProcessing(ctx, docPath, models.StageEmbed); err != nil {
			s.logger.WithError(err).Warn("Failed to update document stage")
		}
		vectors, err = s.embedChunks(ctx, chunks)
		if err != nil {
			return fail(models.StageEmbed, fmt.Errorf("failed to embed chunks: %w", err))
		}
	}

	// 写向量库：先清理旧记录再整批写入，保证重复入库幂等
	if stages.want(stageIndex) && vectors != nil {
		if err := s.opts.Status.MarkAsProcessing(ctx, docPath, models.StageIndex); err != nil {
			s.logger.WithError(err).Warn("Failed to update document stage")
		}
		indexed, err := s.indexChunks(docPath, chunks, vectors)
		if err != nil {
			return fail(models.StageIndex, fmt.Errorf("failed to index chunks: %w", err))
		}
		result.ChunkCount = indexed
	}

	if err := s.opts.Status.MarkAsCompleted(ctx, docPath, result.SectionCount, result.ChunkCount, result.SymbolCount); err != nil {
		s.logger.WithError(err).Warn("Failed to record document completion")
	}

	s.logger.WithFields(logrus.Fields{
		"doc_path":      docPath,
		"section_count": result.SectionCount,
		"chunk_count":   result.ChunkCount,
		"symbol_count":  result.SymbolCount,
		"elapsed":       time.Since(start).String(),
	}).Info("Document ingested")

	return result, nil
}

// parseTree 获取文档的节点树
// .rst经由Sphinx边车解析；扁平化产物（.md）和预导出的doctree JSON
// 走本地解析器回灌，不依赖边车
func (s *IngestService) parseTree(ctx context.Context, docPath string) (*doctree.Node, error) {
	switch strings.ToLower(path.Ext(docPath)) {
	case "", ".rst":
		return s.opts.Sphinx.ParseDoc(ctx, strings.TrimSuffix(docPath, ".rst"))
	default:
		parser, err := document.ParserFactory(docPath)
		if err != nil {
			return nil, err
		}
		return parser.Parse(filepath.Join(s.cfg.DocRoot, filepath.FromSlash(docPath)))
	}
}

// saveArtifacts 写入文档的扁平化Markdown和结构化JSON产物
// 产物名由文档路径确定性生成，重复入库覆盖旧产物
func (s *IngestService) saveArtifacts(docName string, doc *transform.Document) error {
	markdown := flatten.RenderMarkdown(doc)
	mdName := markdownPrefix + flatten.SafeFileName(docName+".md", flatten.DefaultMaxFilenameBytes)
	if _, err := s.opts.Artifacts.Save(mdName, strings.NewReader(markdown)); err != nil {
		return fmt.Errorf("failed to save markdown artifact: %w", err)
	}

	var buf bytes.Buffer
	if err := transform.WriteJSON(&buf, []*transform.Document{doc}); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	jsonName := jsonPrefix + flatten.SafeFileName(docName+".json", flatten.DefaultMaxFilenameBytes)
	if _, err := s.opts.Artifacts.Save(jsonName, &buf); err != nil {
		return fmt.Errorf("failed to save json artifact: %w", err)
	}
	return nil
}

// embedChunks 为切块计算嵌入向量，结果与chunks等长
// 命中缓存的切块跳过计算；批处理后仍失败的切块向量为nil，由写库阶段过滤
func (s *IngestService) embedChunks(ctx context.Context, chunks []normalize.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	var missIdx []int
	var missTexts []string
	for i, c := range chunks {
		if c.CleanContent == "" {
			continue
		}
		if s.opts.VectorCache != nil {
			if v, ok, err := s.opts.VectorCache.GetVector(c.CleanContent); err == nil && ok {
				vectors[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, c.CleanContent)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	s.logger.WithFields(logrus.Fields{
		"total":  len(chunks),
		"cached": len(chunks) - len(missTexts),
		"embed":  len(missTexts),
	}).Debug("Embedding chunks")

	got, err := s.opts.Embedder.Process(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		vectors[idx] = got[j]
		if got[j] != nil && s.opts.VectorCache != nil {
			if err := s.opts.VectorCache.SetVector(chunks[idx].CleanContent, got[j]); err != nil {
				s.logger.WithError(err).Debug("Failed to cache embedding vector")
			}
		}
	}
	return vectors, nil
}

// indexChunks 将带向量的切块写入向量库，返回实际写入条数
func (s *IngestService) indexChunks(docPath string, chunks []normalize.Chunk, vectors [][]float32) (int, error) {
	if err := s.opts.Vectors.DeleteByDocPath(docPath); err != nil {
		return 0, fmt.Errorf("failed to clear stale records: %w", err)
	}

	records := make([]vectordb.Record, 0, len(chunks))
	for i, c := range chunks {
		if vectors[i] == nil {
			s.logger.WithFields(logrus.Fields{
				"doc_path": docPath,
				"section":  c.Section,
			}).Warn("Skipping chunk without embedding vector")
			continue
		}
		records = append(records, vectordb.Record{
			ID:           transform.ShortHash(fmt.Sprintf("%s:%s:%d", docPath, c.Section, i)),
			DocPath:      c.DocPath,
			DocTitle:     c.DocTitle,
			DocVersion:   c.DocVersion,
			Section:      c.Section,
			ContentType:  c.ContentType,
			RawContent:   c.RawContent,
			CleanContent: c.CleanContent,
			Vector:       vectors[i],
			UpdateTime:   c.UpdateTime,
		})
	}

	for start := 0; start < len(records); start += s.cfg.InsertBatchSize {
		end := start + s.cfg.InsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.opts.Vectors.AddBatch(records[start:end]); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

// discoverDocs 发现待入库的文档标识列表
// 本地有文档树时按toctree引用顺序遍历；未配置文档根时
// 回退到边车构建环境的文档清单，批量入库不要求本地检出
func (s *IngestService) discoverDocs(ctx context.Context) ([]string, error) {
	if s.cfg.DocRoot == "" {
		names, err := s.opts.Sphinx.ListDocs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list documents from sidecar: %w", err)
		}
		paths := make([]string, 0, len(names))
		for _, name := range names {
			paths = append(paths, name+".rst")
		}
		return paths, nil
	}

	walker, err := source.NewWalker(s.cfg.DocRoot, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create document walker: %w", err)
	}
	found, err := walker.Walk()
	if err != nil {
		return nil, fmt.Errorf("failed to discover documents: %w", err)
	}
	paths := make([]string, 0, len(found))
	for _, abs := range found {
		paths = append(paths, walker.RelPath(abs))
	}
	return paths, nil
}

// IngestAll 全量入库：发现文档树中的全部文档并逐个入库
// 单个文档失败不会中断流水，失败计数记入流水汇总
func (s *IngestService) IngestAll(ctx context.Context, version string, stages []string) (*taskqueue.IngestRunResult, error) {
	if version == "" {
		version = s.cfg.Version
	}
	stageSel := newStageSet(stages)

	if s.cfg.Git.RepoURL != "" {
		if err := source.EnsureSource(ctx, s.cfg.Git, s.logger); err != nil {
			return nil, fmt.Errorf("failed to fetch documentation source: %w", err)
		}
	}

	paths, err := s.discoverDocs(ctx)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	result := &taskqueue.IngestRunResult{
		RunID:     runID,
		TotalDocs: len(paths),
	}

	run := &models.IngestRun{
		RunID:     runID,
		Version:   version,
		Status:    models.IngestStatusProcessing,
		TotalDocs: len(paths),
		StartedAt: time.Now(),
	}
	if err := s.opts.Repo.CreateRun(run); err != nil {
		return nil, fmt.Errorf("failed to create ingest run: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":     runID,
		"version":    version,
		"total_docs": len(paths),
	}).Info("Starting ingest run")

	for _, docPath := range paths {
		if ctx.Err() != nil {
			result.Error = ctx.Err().Error()
			break
		}

		if err := s.opts.Status.MarkAsDiscovered(ctx, docPath, docPath, version); err != nil {
			s.logger.WithError(err).WithField("doc_path", docPath).Warn("Failed to register document")
		}

		docResult, err := s.ingestOne(ctx, docPath, version, stageSel)
		if err != nil {
			result.FailedDocs++
			s.logger.WithError(err).WithField("doc_path", docPath).Error("Document ingestion failed")
			continue
		}
		result.SucceededDocs++
		result.ChunkCount += docResult.ChunkCount
	}

	if stageSel.want(stageUpload) && s.opts.Uploader != nil && ctx.Err() == nil {
		uploadResult, err := s.UploadArtifacts(ctx, markdownPrefix)
		if err != nil {
			s.logger.WithError(err).Error("Artifact upload failed")
		} else if uploadResult.Failed > 0 {
			s.logger.WithFields(logrus.Fields{
				"failed": uploadResult.Failed,
				"total":  uploadResult.Total,
			}).Warn("Some artifacts failed to upload")
		}
	}

	runStatus := models.IngestStatusCompleted
	if result.TotalDocs > 0 && result.SucceededDocs == 0 {
		runStatus = models.IngestStatusFailed
	}
	summary := repository.RunSummary{
		TotalDocs:     result.TotalDocs,
		SucceededDocs: result.SucceededDocs,
		FailedDocs:    result.FailedDocs,
		ChunkCount:    result.ChunkCount,
		Error:         result.Error,
	}
	if err := s.opts.Repo.FinishRun(runID, runStatus, summary); err != nil {
		s.logger.WithError(err).Warn("Failed to finalize ingest run")
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":         runID,
		"total_docs":     result.TotalDocs,
		"succeeded_docs": result.SucceededDocs,
		"failed_docs":    result.FailedDocs,
		"chunk_count":    result.ChunkCount,
	}).Info("Ingest run finished")

	return result, nil
}

// UploadArtifacts 将指定前缀下的Markdown产物上传到知识库
// 产物先落到临时目录，保持原文件名，知识库按文件名展示文档
func (s *IngestService) UploadArtifacts(ctx context.Context, prefix string) (*taskqueue.UploadDifyResult, error) {
	if s.opts.Uploader == nil {
		return nil, fmt.Errorf("services: dify uploader is not configured")
	}
	if prefix == "" {
		prefix = markdownPrefix
	}

	infos, err := s.opts.Artifacts.List(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "dify-upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	var filePaths []string
	for _, info := range infos {
		if !strings.HasSuffix(info.Name, ".md") {
			continue
		}
		localPath, err := s.stageArtifact(tmpDir, info.Name)
		if err != nil {
			s.logger.WithError(err).WithField("artifact", info.Name).Warn("Failed to stage artifact for upload")
			continue
		}
		filePaths = append(filePaths, localPath)
	}

	if len(filePaths) == 0 {
		s.logger.WithField("prefix", prefix).Info("No markdown artifacts to upload")
		return &taskqueue.UploadDifyResult{}, nil
	}

	summary := s.opts.Uploader.UploadAll(ctx, filePaths)
	result := &taskqueue.UploadDifyResult{
		Total:     summary.Total,
		Succeeded: summary.Succeeded,
		Failed:    len(summary.Failed),
	}
	if len(summary.Failed) > 0 {
		result.Error = fmt.Sprintf("%d of %d files failed to upload", len(summary.Failed), summary.Total)
	}
	return result, nil
}

// stageArtifact 将单个产物复制到临时目录，返回本地路径
func (s *IngestService) stageArtifact(tmpDir, name string) (string, error) {
	reader, err := s.opts.Artifacts.Get(name)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	localPath := filepath.Join(tmpDir, path.Base(name))
	f, err := os.Create(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.ReadFrom(reader); err != nil {
		os.Remove(localPath)
		return "", err
	}
	return localPath, nil
}

// countSections 递归统计章节数量
func countSections(sections []*transform.Section) int {
	count := len(sections)
	for _, sec := range sections {
		count += countSections(sec.Subsections)
	}
	return count
}
