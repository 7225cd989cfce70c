package vectordb

import (
	"errors"
)

// 常用错误定义
var (
	ErrRecordNotFound   = errors.New("record not found")
	ErrEmptyVector      = errors.New("empty vector")
	ErrInvalidID        = errors.New("invalid record ID")
	ErrInvalidDimension = errors.New("vector dimension mismatch")
)

// Record 检索库中的一条切块记录
// 对应归一化阶段产出的一个Chunk及其向量表示
type Record struct {
	ID           string                 `json:"id"`            // 唯一标识符
	DocPath      string                 `json:"doc_path"`      // 所属文档路径
	DocTitle     string                 `json:"doc_title"`     // 文档标题
	DocVersion   string                 `json:"doc_version"`   // 文档版本
	Section      string                 `json:"section"`       // 章节路径
	ContentType  string                 `json:"content_type"`  // 内容类型
	RawContent   string                 `json:"raw_content"`   // 原始内容
	CleanContent string                 `json:"clean_content"` // 清洗后内容（嵌入输入）
	Vector       []float32              `json:"vector"`        // 向量表示
	UpdateTime   int64                  `json:"update_time"`   // 更新时间戳（秒）
	Metadata     map[string]interface{} `json:"metadata"`      // 附加元数据
}

// DistanceType 向量距离计算方法
type DistanceType string

const (
	// Cosine 余弦相似度
	Cosine DistanceType = "cosine"
	// DotProduct 点积
	DotProduct DistanceType = "dot"
	// Euclidean 欧几里得距离
	Euclidean DistanceType = "l2"
)

// SearchResult 搜索结果
type SearchResult struct {
	Record   Record  // 命中的记录
	Score    float32 // 相似度得分
	Distance float32 // 计算的距离
}

// SearchFilter 搜索过滤条件
type SearchFilter struct {
	DocPaths   []string               // 按文档路径过滤
	Metadata   map[string]interface{} // 按元数据过滤
	MinScore   float32                // 最小相似度分数
	MaxResults int                    // 最大返回结果数
}

// DefaultSearchFilter 返回默认的搜索过滤器
func DefaultSearchFilter() SearchFilter {
	return SearchFilter{
		MinScore:   0.0,
		MaxResults: 5,
	}
}

// Repository 向量数据库仓库接口
type Repository interface {
	// Add 添加单条记录
	Add(rec Record) error

	// AddBatch 批量添加记录
	AddBatch(recs []Record) error

	// Get 获取单条记录
	Get(id string) (Record, error)

	// Delete 删除单条记录
	Delete(id string) error

	// DeleteByDocPath 删除指定文档的所有记录
	DeleteByDocPath(docPath string) error

	// Search 相似度搜索
	Search(vector []float32, filter SearchFilter) ([]SearchResult, error)

	// Count 获取记录总数
	Count() (int, error)

	// GetDimension 返回向量维数
	GetDimension() int

	// Close 关闭数据库连接
	Close() error
}

// Config 向量数据库配置
type Config struct {
	Type              string       // 实现类型，如 "memory", "faiss"
	Path              string       // 索引文件路径
	Dimension         int          // 向量维度
	DistanceType      DistanceType // 距离计算类型
	CreateIfNotExists bool         // 索引文件不存在时是否新建
	InMemory          bool         // 是否仅在内存中运行
}

// Factory 向量数据库工厂函数类型
type Factory func(config Config) (Repository, error)

// RepositoryRegistry 注册可用的向量数据库实现
var RepositoryRegistry = map[string]Factory{}

// RegisterRepository 注册向量数据库工厂函数
func RegisterRepository(name string, factory Factory) {
	RepositoryRegistry[name] = factory
}

// NewRepository 根据配置创建向量数据库实例
func NewRepository(config Config) (Repository, error) {
	factory, ok := RepositoryRegistry[config.Type]
	if !ok {
		// 默认使用内存实现
		factory = NewMemoryRepository
	}
	return factory(config)
}
