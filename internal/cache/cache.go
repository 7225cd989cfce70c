package cache

import (
	"time"
)

// VectorKeyPrefix 向量缓存键的统一前缀
// 所有嵌入向量以"embed:模型名:内容摘要"为键，清理操作按该前缀圈定范围
const VectorKeyPrefix = "embed"

// Cache 向量缓存后端接口
// 值统一以字符串存取，向量在VectorCache层做JSON编解码
type Cache interface {
	Get(key string) (value string, found bool, err error)
	Set(key string, value string, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Factory 缓存后端工厂函数类型
type Factory func(config Config) (Cache, error)

// 注册的缓存后端实现
var registry = make(map[string]Factory)

// RegisterCache 注册缓存后端实现
func RegisterCache(name string, factory Factory) {
	registry[name] = factory
}

// NewCache 创建缓存后端实例，未注册的类型回落到内存实现
func NewCache(config Config) (Cache, error) {
	if factory, ok := registry[config.Type]; ok {
		return factory(config)
	}
	return NewMemoryCache(config)
}

// Config 缓存后端配置
type Config struct {
	// 后端类型: "memory" 或 "redis"
	Type string
	// Redis连接地址 (仅Redis后端使用)
	RedisAddr string
	// Redis密码 (仅Redis后端使用)
	RedisPassword string
	// Redis数据库编号 (仅Redis后端使用)
	RedisDB int
	// 向量的默认过期时间，未显式指定TTL时生效
	DefaultTTL time.Duration
	// 过期向量的自动清理间隔 (仅内存后端使用)
	CleanupInterval time.Duration
}

// DefaultConfig 返回默认缓存配置
// 嵌入结果随文档内容变化而失效，TTL不宜过长
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		DefaultTTL:      time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

// GenerateCacheKey 按"前缀:分段:分段"格式拼接缓存键
func GenerateCacheKey(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}

	key := prefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}
