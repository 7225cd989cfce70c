package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// VectorCache 嵌入向量缓存
// 以模型名加内容摘要为键，避免重复嵌入未变化的切块
type VectorCache struct {
	cache Cache
	model string
	ttl   time.Duration
}

// NewVectorCache 创建向量缓存
func NewVectorCache(cache Cache, model string, ttl time.Duration) *VectorCache {
	return &VectorCache{
		cache: cache,
		model: model,
		ttl:   ttl,
	}
}

// VectorKey 根据嵌入输入内容生成缓存键
// 同一内容在不同模型下的向量互不干扰
func (v *VectorCache) VectorKey(content string) string {
	sum := md5.Sum([]byte(content))
	return GenerateCacheKey(VectorKeyPrefix, v.model, hex.EncodeToString(sum[:]))
}

// GetVector 查询内容对应的缓存向量
func (v *VectorCache) GetVector(content string) ([]float32, bool, error) {
	raw, found, err := v.cache.Get(v.VectorKey(content))
	if err != nil || !found {
		return nil, false, err
	}

	var vector []float32
	if err := json.Unmarshal([]byte(raw), &vector); err != nil {
		// 缓存内容损坏按未命中处理，覆盖写入会自愈
		return nil, false, nil
	}
	return vector, true, nil
}

// SetVector 写入内容对应的向量
func (v *VectorCache) SetVector(content string, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("cache: refusing to store empty vector")
	}

	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal vector: %w", err)
	}
	return v.cache.Set(v.VectorKey(content), string(data), v.ttl)
}
