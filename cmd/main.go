package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fyerfyer/doc-rag-ingest/api"
	"github.com/fyerfyer/doc-rag-ingest/api/handler"
	"github.com/fyerfyer/doc-rag-ingest/api/middleware"
	ingestconfig "github.com/fyerfyer/doc-rag-ingest/config"
	"github.com/fyerfyer/doc-rag-ingest/internal/cache"
	"github.com/fyerfyer/doc-rag-ingest/internal/database"
	"github.com/fyerfyer/doc-rag-ingest/internal/dify"
	"github.com/fyerfyer/doc-rag-ingest/internal/embedding"
	"github.com/fyerfyer/doc-rag-ingest/internal/normalize"
	"github.com/fyerfyer/doc-rag-ingest/internal/repository"
	"github.com/fyerfyer/doc-rag-ingest/internal/services"
	"github.com/fyerfyer/doc-rag-ingest/internal/source"
	"github.com/fyerfyer/doc-rag-ingest/internal/sphinx"
	"github.com/fyerfyer/doc-rag-ingest/internal/transform"
	"github.com/fyerfyer/doc-rag-ingest/internal/vectordb"
	"github.com/fyerfyer/doc-rag-ingest/pkg/storage"
	"github.com/fyerfyer/doc-rag-ingest/pkg/taskqueue"
)

// 命令行选项
type options struct {
	ConfigFile string // 配置文件路径
	Mode       string // 运行模式 (debug/release)
	LogLevel   string // 日志级别
	LogFile    string // 日志文件路径，为空时只输出到标准输出

	Serve  bool // 启动API服务器
	Worker bool // 启动任务队列工作者

	DocPath string // 单文档入库的文档路径，为空时全量入库
	Version string // 文档集版本，覆盖配置文件
	Stages  string // 要执行的阶段，逗号分隔
}

func main() {
	// 加载.env文件（如果存在）
	_ = godotenv.Load()

	opts := parseFlags()

	// 加载配置
	cfg, err := ingestconfig.Load(opts.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if opts.Version != "" {
		cfg.Ingest.Version = opts.Version
	}

	gin.SetMode(opts.Mode)
	logger := setupLogger(opts.LogLevel, opts.LogFile)
	logger.Info("Starting documentation ingest service...")

	// 初始化数据库
	if err := setupDatabase(cfg, logger); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	repo := repository.NewIngestRepository()
	statusManager := services.NewDocumentStatusManager(repo, logger)

	// 创建产物存储
	artifacts, err := setupStorage(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize artifact storage: %v", err)
	}

	// 创建向量数据库
	vectorDB, err := setupVectorDB(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize vector database: %v", err)
	}
	defer vectorDB.Close()

	// 创建嵌入客户端和批处理器
	embeddingClient, err := setupEmbedding(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize embedding client: %v", err)
	}
	batchProcessor := embedding.NewBatchProcessor(
		embeddingClient, cfg.Embed.BatchSize, cfg.Embed.MaxWorkers, logger)

	// 创建嵌入缓存（如果启用）
	vectorCache, err := setupVectorCache(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize vector cache: %v", err)
	}

	// 创建知识库上传器（如果启用）
	uploader, err := setupUploader(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize dify uploader: %v", err)
	}

	// 创建解析侧车客户端
	sphinxClient, err := sphinx.NewClient(&sphinx.Config{
		BaseURL:    cfg.Sphinx.BaseURL,
		Timeout:    cfg.Sphinx.Timeout,
		MaxRetries: cfg.Sphinx.MaxRetries,
		RetryDelay: cfg.Sphinx.RetryDelay,
	})
	if err != nil {
		logger.Fatalf("Failed to initialize sphinx client: %v", err)
	}

	// 创建入库服务
	ingestService, err := services.NewIngestService(
		services.IngestConfig{
			Version: cfg.Ingest.Version,
			DocRoot: filepath.Join(cfg.Source.DestDir, cfg.Source.DocRoot),
			Git: source.GitConfig{
				RepoURL: cfg.Source.RepoURL,
				Version: cfg.Source.Version,
				DestDir: cfg.Source.DestDir,
			},
			InsertBatchSize: cfg.VectorDB.InsertBatchSize,
		},
		services.IngestOptions{
			Sphinx:      sphinxClient,
			Transformer: transform.NewTransformer(transformConfig(cfg), logger),
			Normalizer:  normalize.NewNormalizer(normalizeConfig(cfg)),
			Embedder:    batchProcessor,
			Vectors:     vectorDB,
			Artifacts:   artifacts,
			Repo:        repo,
			Status:      statusManager,
			VectorCache: vectorCache,
			Uploader:    uploader,
		},
		logger,
	)
	if err != nil {
		logger.Fatalf("Failed to initialize ingest service: %v", err)
	}

	switch {
	case opts.Worker:
		runWorker(cfg, ingestService, logger)
	case opts.Serve:
		runServer(cfg, repo, logger)
	default:
		runOnce(opts, ingestService, logger)
	}
}

// runOnce 执行一次入库并退出
func runOnce(opts options, svc *services.IngestService, logger *logrus.Logger) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.DocPath != "" {
		result, err := svc.IngestDocument(ctx, opts.DocPath, opts.Version)
		if err != nil {
			logger.Fatalf("Document ingestion failed: %v", err)
		}
		logger.WithFields(logrus.Fields{
			"doc_path":    result.DocPath,
			"chunk_count": result.ChunkCount,
		}).Info("Document ingested")
		return
	}

	var stages []string
	if opts.Stages != "" {
		stages = strings.Split(opts.Stages, ",")
	}
	result, err := svc.IngestAll(ctx, opts.Version, stages)
	if err != nil {
		logger.Fatalf("Ingest run failed: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"run_id":         result.RunID,
		"total_docs":     result.TotalDocs,
		"succeeded_docs": result.SucceededDocs,
		"failed_docs":    result.FailedDocs,
	}).Info("Ingest run finished")
}

// runWorker 启动任务队列工作者
func runWorker(cfg *ingestconfig.Config, svc *services.IngestService, logger *logrus.Logger) {
	queueConfig := queueConfigFrom(cfg)
	queue, err := taskqueue.NewQueue(cfg.Queue.Type, queueConfig)
	if err != nil {
		logger.Fatalf("Failed to initialize task queue: %v", err)
	}
	defer queue.Close()

	redisQueue, ok := queue.(*taskqueue.RedisQueue)
	if !ok {
		logger.Fatalf("Worker mode requires a redis task queue, got %q", cfg.Queue.Type)
	}

	worker := taskqueue.NewRedisWorker(redisQueue, queueConfig)
	ingestHandler := taskqueue.NewIngestHandler(svc, queue, logger)
	for _, taskType := range ingestHandler.GetTaskTypes() {
		worker.RegisterHandler(taskType, ingestHandler)
	}

	go func() {
		logger.Info("Task queue worker is running")
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start worker: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down worker...")
	worker.Stop()
	logger.Info("Worker exited")
}

// runServer 启动API服务器
func runServer(cfg *ingestconfig.Config, repo repository.IngestRepository, logger *logrus.Logger) {
	queue, err := taskqueue.NewQueue(cfg.Queue.Type, queueConfigFrom(cfg))
	if err != nil {
		logger.Fatalf("Failed to initialize task queue: %v", err)
	}
	defer queue.Close()

	ingestHandler := handler.NewIngestHandler(queue, repo, logger)
	router := api.SetupRouter(ingestHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}
	logger.Info("Server exited")
}

// parseFlags 解析命令行参数
func parseFlags() options {
	opts := options{}

	flag.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to config file")
	flag.StringVar(&opts.Mode, "mode", "release", "Run mode (debug/release)")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	flag.StringVar(&opts.LogFile, "log-file", "", "Log file path (stdout only when empty)")

	flag.BoolVar(&opts.Serve, "serve", false, "Run the HTTP API server")
	flag.BoolVar(&opts.Worker, "worker", false, "Run the task queue worker")

	flag.StringVar(&opts.DocPath, "doc", "", "Ingest a single document by path")
	flag.StringVar(&opts.Version, "version", "", "Documentation version (overrides config)")
	flag.StringVar(&opts.Stages, "stages", "", "Comma-separated pipeline stages (embed,index,upload)")

	flag.Parse()
	return opts
}

// setupLogger 设置日志系统
// 指定日志文件时按大小轮转并同时输出到标准输出
func setupLogger(level, logFile string) *logrus.Logger {
	logger := middleware.GetLogger()

	switch level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	return logger
}

// setupDatabase 设置数据库
func setupDatabase(cfg *ingestconfig.Config, logger *logrus.Logger) error {
	dbConfig := database.DefaultConfig()
	dbConfig.Type = cfg.Database.Type
	dbConfig.DSN = cfg.Database.DSN
	return database.Setup(dbConfig, logger)
}

// setupStorage 设置产物存储
func setupStorage(cfg *ingestconfig.Config) (storage.Storage, error) {
	switch cfg.Storage.Type {
	case "minio":
		return storage.NewMinioStorage(storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		})
	default:
		if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %v", err)
		}
		return storage.NewLocalStorage(storage.LocalConfig{
			Path: cfg.Storage.Path,
		})
	}
}

// setupVectorDB 设置向量数据库
// FAISS初始化失败时回退到内存实现
func setupVectorDB(cfg *ingestconfig.Config, logger *logrus.Logger) (vectordb.Repository, error) {
	memoryConfig := vectordb.Config{
		Type:         "memory",
		Dimension:    cfg.VectorDB.Dim,
		DistanceType: distanceType(cfg.VectorDB.Distance),
	}
	if cfg.VectorDB.Type != "faiss" {
		return vectordb.NewRepository(memoryConfig)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.VectorDB.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector database directory: %v", err)
	}

	repo, err := vectordb.NewRepository(vectordb.Config{
		Type:              "faiss",
		Path:              cfg.VectorDB.Path,
		Dimension:         cfg.VectorDB.Dim,
		DistanceType:      distanceType(cfg.VectorDB.Distance),
		CreateIfNotExists: true,
	})
	if err != nil {
		logger.Warnf("Failed to initialize FAISS vector database: %v", err)
		logger.Warn("Falling back to in-memory vector database")
		return vectordb.NewRepository(memoryConfig)
	}
	return repo, nil
}

// distanceType 将配置中的距离度量名转换为内部类型
func distanceType(name string) vectordb.DistanceType {
	switch name {
	case "l2", "euclidean":
		return vectordb.Euclidean
	case "dot":
		return vectordb.DotProduct
	default:
		return vectordb.Cosine
	}
}

// setupEmbedding 设置嵌入模型客户端
func setupEmbedding(cfg *ingestconfig.Config) (embedding.Client, error) {
	opts := []embedding.Option{
		embedding.WithModel(cfg.Embed.Model),
		embedding.WithBaseURL(cfg.Embed.Endpoint),
		embedding.WithDimensions(cfg.Embed.Dimensions),
		embedding.WithBatchSize(cfg.Embed.BatchSize),
	}
	if cfg.Embed.APIKey != "" {
		opts = append(opts, embedding.WithAPIKey(cfg.Embed.APIKey))
	}
	return embedding.NewClient(cfg.Embed.Provider, opts...)
}

// setupVectorCache 设置嵌入缓存
func setupVectorCache(cfg *ingestconfig.Config) (*cache.VectorCache, error) {
	if !cfg.Cache.Enable {
		return nil, nil
	}

	cacheConfig := cache.Config{
		Type:       cfg.Cache.Type,
		DefaultTTL: time.Duration(cfg.Cache.TTL) * time.Second,
	}
	if cfg.Cache.Type == "redis" {
		cacheConfig.RedisAddr = cfg.Cache.Address
		cacheConfig.RedisPassword = cfg.Cache.Password
		cacheConfig.RedisDB = cfg.Cache.DB
	}

	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		return nil, err
	}
	return cache.NewVectorCache(c, cfg.Embed.Model, cacheConfig.DefaultTTL), nil
}

// setupUploader 设置知识库上传器
func setupUploader(cfg *ingestconfig.Config, logger *logrus.Logger) (*dify.Uploader, error) {
	if !cfg.Dify.Enable {
		return nil, nil
	}

	client, err := dify.NewClient(&dify.Config{
		BaseURL:   cfg.Dify.BaseURL,
		APIKey:    cfg.Dify.APIKey,
		DatasetID: cfg.Dify.DatasetID,
		Timeout:   cfg.Dify.FileTimeout,
	})
	if err != nil {
		return nil, err
	}
	return dify.NewUploader(client, cfg.Dify.MaxWorkers, cfg.Dify.FileTimeout, logger), nil
}

// transformConfig 从应用配置构建转换器配置
func transformConfig(cfg *ingestconfig.Config) transform.Config {
	tc := transform.DefaultConfig()
	if cfg.Transform.DomainKeyword != "" {
		tc.DomainKeyword = cfg.Transform.DomainKeyword
	}
	if cfg.Transform.DomainLanguage != "" {
		tc.DomainLanguage = cfg.Transform.DomainLanguage
	}
	return tc
}

// normalizeConfig 从应用配置构建归一化配置
func normalizeConfig(cfg *ingestconfig.Config) normalize.Config {
	nc := normalize.DefaultConfig()
	if cfg.Normalize.Strategy != "" {
		nc.Strategy = normalize.Strategy(cfg.Normalize.Strategy)
	}
	if cfg.Normalize.MaxRawBytes > 0 {
		nc.MaxRawBytes = cfg.Normalize.MaxRawBytes
	}
	if cfg.Normalize.MaxEmbedChars > 0 {
		nc.MaxEmbedChars = cfg.Normalize.MaxEmbedChars
	}
	return nc
}

// queueConfigFrom 从应用配置构建队列配置
func queueConfigFrom(cfg *ingestconfig.Config) *taskqueue.Config {
	queueConfig := taskqueue.DefaultConfig()
	queueConfig.RedisAddr = cfg.Queue.RedisAddr
	queueConfig.RedisPassword = cfg.Queue.RedisPassword
	queueConfig.RedisDB = cfg.Queue.RedisDB
	if cfg.Queue.Concurrency > 0 {
		queueConfig.Concurrency = cfg.Queue.Concurrency
	}
	if cfg.Queue.RetryLimit > 0 {
		queueConfig.RetryLimit = cfg.Queue.RetryLimit
	}
	if cfg.Queue.RetryDelay > 0 {
		queueConfig.RetryDelay = time.Duration(cfg.Queue.RetryDelay) * time.Second
	}
	return queueConfig
}
