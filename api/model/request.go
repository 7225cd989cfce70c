package model

// IngestDocumentRequest 单文档入库请求
type IngestDocumentRequest struct {
	DocPath string `json:"doc_path" binding:"required"` // 相对文档根的路径
	Version string `json:"version"`                     // 文档集版本，为空时使用服务默认值
}

// IngestRunRequest 全量入库请求
type IngestRunRequest struct {
	Version string   `json:"version"` // 文档集版本
	Stages  []string `json:"stages"`  // 要执行的阶段，为空表示全部
}

// UploadArtifactsRequest 产物上传请求
type UploadArtifactsRequest struct {
	Prefix string `json:"prefix"` // 产物前缀，为空时上传全部Markdown产物
}

// ListDocumentsRequest 文档列表查询参数
type ListDocumentsRequest struct {
	Page     int    `form:"page"`      // 页码，从1开始
	PageSize int    `form:"page_size"` // 每页大小
	Status   string `form:"status"`    // 按状态过滤
	Version  string `form:"version"`   // 按版本过滤
	DocPath  string `form:"doc_path"`  // 按路径模糊过滤
}
