package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Source    SourceConfig    `mapstructure:"source"`
	Sphinx    SphinxConfig    `mapstructure:"sphinx"`
	Transform TransformConfig `mapstructure:"transform"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Embed     EmbedConfig     `mapstructure:"embed"`
	VectorDB  VectorDBConfig  `mapstructure:"vectordb"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Dify      DifyConfig      `mapstructure:"dify"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"` // 服务器主机
	Port int    `mapstructure:"port"` // 服务器端口
}

// SourceConfig 文档源码获取配置
type SourceConfig struct {
	RepoURL string `mapstructure:"repo_url"` // 文档仓库地址
	Version string `mapstructure:"version"`  // 标签或分支名
	DestDir string `mapstructure:"dest_dir"` // 克隆目标目录
	DocRoot string `mapstructure:"doc_root"` // 文档树根目录（含根index.rst），相对DestDir
}

// SphinxConfig 解析侧车服务配置
type SphinxConfig struct {
	BaseURL    string        `mapstructure:"base_url"`    // 侧车服务基础URL
	Timeout    time.Duration `mapstructure:"timeout"`     // 请求超时时间
	MaxRetries int           `mapstructure:"max_retries"` // 最大重试次数
	RetryDelay time.Duration `mapstructure:"retry_delay"` // 重试间隔
}

// TransformConfig 结构转换配置
type TransformConfig struct {
	DomainKeyword  string `mapstructure:"domain_keyword"`  // 通用代码块语言启发式的路径关键字
	DomainLanguage string `mapstructure:"domain_language"` // 启发式命中时使用的语言名
}

// NormalizeConfig 归一化配置
type NormalizeConfig struct {
	Strategy      string `mapstructure:"strategy"`        // 扁平化策略：per_block 或 per_section
	MaxRawBytes   int    `mapstructure:"max_raw_bytes"`   // 原始内容字节上限
	MaxEmbedChars int    `mapstructure:"max_embed_chars"` // 嵌入输入字符上限
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string `mapstructure:"provider"`   // 提供商：ollama 或 openai
	Model      string `mapstructure:"model"`      // 模型名称
	APIKey     string `mapstructure:"api_key"`    // API密钥（如果需要）
	Endpoint   string `mapstructure:"endpoint"`   // API端点
	BatchSize  int    `mapstructure:"batch_size"` // 批处理大小
	MaxWorkers int    `mapstructure:"max_workers"` // 批处理并发数
	Dimensions int    `mapstructure:"dimensions"` // 向量维度
}

// VectorDBConfig 向量数据库配置
type VectorDBConfig struct {
	Type            string `mapstructure:"type"`              // 向量数据库类型：memory 或 faiss
	Path            string `mapstructure:"path"`              // 索引文件路径
	Dim             int    `mapstructure:"dim"`               // 向量维度
	Distance        string `mapstructure:"distance"`          // 距离度量方式：cosine, l2, dot
	InsertBatchSize int    `mapstructure:"insert_batch_size"` // 批量写入大小
}

// StorageConfig 产物存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type"`     // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`     // 本地存储路径
	Bucket    string `mapstructure:"bucket"`   // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"` // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// DifyConfig 知识库上传配置
type DifyConfig struct {
	Enable      bool          `mapstructure:"enable"`       // 是否启用知识库上传
	BaseURL     string        `mapstructure:"base_url"`     // API基础URL
	APIKey      string        `mapstructure:"api_key"`      // 知识库API密钥
	DatasetID   string        `mapstructure:"dataset_id"`   // 目标知识库ID
	MaxWorkers  int           `mapstructure:"max_workers"`  // 并发上传数
	FileTimeout time.Duration `mapstructure:"file_timeout"` // 单文件上传超时
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable   bool   `mapstructure:"enable"`   // 是否启用嵌入缓存
	Type     string `mapstructure:"type"`     // 缓存类型：memory 或 redis
	Address  string `mapstructure:"address"`  // Redis地址
	Password string `mapstructure:"password"` // Redis密码
	DB       int    `mapstructure:"db"`       // Redis数据库
	TTL      int    `mapstructure:"ttl"`      // 缓存TTL（秒）
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Type          string `mapstructure:"type"`           // 队列类型：redis
	RedisAddr     string `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string `mapstructure:"redis_password"` // Redis密码
	RedisDB       int    `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int    `mapstructure:"concurrency"`    // 任务处理并发数
	RetryLimit    int    `mapstructure:"retry_limit"`    // 任务最大重试次数
	RetryDelay    int    `mapstructure:"retry_delay"`    // 重试延迟(秒)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // 数据库类型: sqlite
	DSN  string `mapstructure:"dsn"`  // 数据源名称
}

// IngestConfig 入库流水配置
type IngestConfig struct {
	Version string `mapstructure:"version"` // 文档集版本号
}

// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	var config Config

	// 设置默认配置路径
	if configPath == "" {
		configPath = "config.yaml" // 默认在当前目录寻找config.yaml
	}

	// 初始化viper
	v := viper.New()
	v.SetConfigFile(configPath)

	// 尝试读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 如果找不到配置文件，创建一个默认配置文件
		// 指定具体文件路径时viper返回的是路径错误而非ConfigFileNotFoundError
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if notFound || errors.Is(err, os.ErrNotExist) {
			log.Printf("Warning: Config file not found at %s, using defaults", configPath)
			setDefaults(v)
			dir := filepath.Dir(configPath)
			if err := os.MkdirAll(dir, 0755); err == nil {
				if err := v.WriteConfigAs(configPath); err != nil {
					log.Printf("Warning: Could not write default config to %s: %v", configPath, err)
				}
			}
		} else {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
	} else {
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	}

	// 设置默认值
	setDefaults(v)

	// 支持环境变量覆盖
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 解析配置到结构体
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	return processEnvironmentVariables(&config), nil
}

// processEnvironmentVariables 处理配置项中的${VAR}形式环境变量引用
func processEnvironmentVariables(cfg *Config) *Config {
	cfg.Embed.APIKey = expandEnvRef(cfg.Embed.APIKey)
	cfg.Dify.APIKey = expandEnvRef(cfg.Dify.APIKey)
	cfg.Storage.AccessKey = expandEnvRef(cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = expandEnvRef(cfg.Storage.SecretKey)
	return cfg
}

// expandEnvRef 解析${VAR}形式的环境变量引用，其他值原样返回
func expandEnvRef(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		envVar := value[2 : len(value)-1]
		if envVal := os.Getenv(envVar); envVal != "" {
			return envVal
		}
	}
	return value
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// 文档源码默认配置
	v.SetDefault("source.repo_url", "")
	v.SetDefault("source.version", "master")
	v.SetDefault("source.dest_dir", "./data/source")
	v.SetDefault("source.doc_root", "doc/scripts")

	// 解析侧车默认配置
	v.SetDefault("sphinx.base_url", "http://localhost:8000")
	v.SetDefault("sphinx.timeout", "30s")
	v.SetDefault("sphinx.max_retries", 3)
	v.SetDefault("sphinx.retry_delay", "1s")

	// 结构转换默认配置
	v.SetDefault("transform.domain_keyword", "zeek")
	v.SetDefault("transform.domain_language", "zeek")

	// 归一化默认配置
	v.SetDefault("normalize.strategy", "per_block")
	v.SetDefault("normalize.max_raw_bytes", 8000)
	v.SetDefault("normalize.max_embed_chars", 6000)

	// Embedding默认配置
	v.SetDefault("embed.provider", "ollama")
	v.SetDefault("embed.model", "nomic-embed-text")
	v.SetDefault("embed.endpoint", "http://localhost:11434")
	v.SetDefault("embed.batch_size", 4)
	v.SetDefault("embed.max_workers", 4)
	v.SetDefault("embed.dimensions", 768)

	// 向量数据库默认配置
	v.SetDefault("vectordb.type", "memory")
	v.SetDefault("vectordb.path", "./data/vectordb/index.faiss")
	v.SetDefault("vectordb.dim", 768)
	v.SetDefault("vectordb.distance", "cosine")
	v.SetDefault("vectordb.insert_batch_size", 500)

	// 产物存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./data/artifacts")
	v.SetDefault("storage.bucket", "doc-ingest")
	v.SetDefault("storage.use_ssl", false)

	// 知识库上传默认配置
	v.SetDefault("dify.enable", false)
	v.SetDefault("dify.base_url", "https://api.dify.ai/v1")
	v.SetDefault("dify.max_workers", 3)
	v.SetDefault("dify.file_timeout", "120s")

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", 3600) // 1小时

	// 队列默认配置
	v.SetDefault("queue.type", "redis")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.retry_limit", 3)
	v.SetDefault("queue.retry_delay", 60) // 60秒

	// 数据库默认配置
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/ingest.db")

	// 入库流水默认配置
	v.SetDefault("ingest.version", "")
}
