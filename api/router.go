package api

import (
	"github.com/gin-gonic/gin"

	"github.com/fyerfyer/doc-rag-ingest/api/handler"
	"github.com/fyerfyer/doc-rag-ingest/api/middleware"
)

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(ingestHandler *handler.IngestHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// 应用全局中间件
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())
	router.Use(middleware.SetTraceID())

	// 在调试模式下记录请求体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
	}

	api := router.Group("/api")
	{
		// 入库触发API，均为异步任务
		ingestGroup := api.Group("/ingest")
		{
			// 单文档入库 - POST /api/ingest/document
			ingestGroup.POST("/document", ingestHandler.IngestDocument)

			// 全量入库流水 - POST /api/ingest/run
			ingestGroup.POST("/run", ingestHandler.IngestRun)

			// 产物上传知识库 - POST /api/ingest/upload
			ingestGroup.POST("/upload", ingestHandler.UploadArtifacts)
		}

		// 文档状态查询API
		docGroup := api.Group("/documents")
		{
			// 文档列表 - GET /api/documents
			docGroup.GET("", ingestHandler.ListDocuments)

			// 单文档状态 - GET /api/documents/status?doc_path=...
			docGroup.GET("/status", ingestHandler.GetDocumentStatus)
		}

		// 流水查询API - GET /api/runs/:id
		api.GET("/runs/:id", ingestHandler.GetRun)

		// 任务查询API
		taskGroup := api.Group("/tasks")
		{
			// 文档关联任务 - GET /api/tasks?doc_path=...
			taskGroup.GET("", ingestHandler.GetDocumentTasks)

			// 任务详情 - GET /api/tasks/:id
			taskGroup.GET("/:id", ingestHandler.GetTask)
		}

		// 健康检查API
		api.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status": "ok",
			})
		})
	}

	return router
}
