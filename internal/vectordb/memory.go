package vectordb

import (
	"fmt"
	"sync"
	"time"
)

// MemoryRepository 内存向量仓库实现
// 用于开发、测试和小规模语料的简单内存存储
type MemoryRepository struct {
	mu          sync.RWMutex
	dimension   int
	distType    DistanceType
	records     map[string]Record
	docToRecIDs map[string][]string // 文档路径到记录ID的映射
}

// NewMemoryRepository 创建内存向量仓库
func NewMemoryRepository(config Config) (Repository, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	distType := config.DistanceType
	if distType != Cosine && distType != DotProduct && distType != Euclidean {
		distType = Cosine
	}

	return &MemoryRepository{
		dimension:   config.Dimension,
		distType:    distType,
		records:     make(map[string]Record),
		docToRecIDs: make(map[string][]string),
	}, nil
}

// Add 添加单条记录
func (r *MemoryRepository) Add(rec Record) error {
	return r.AddBatch([]Record{rec})
}

// AddBatch 批量添加记录
// 任一记录维度不符则整批拒绝
func (r *MemoryRepository) AddBatch(recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	for i := range recs {
		if recs[i].ID == "" {
			return ErrInvalidID
		}
		if err := ValidateVector(recs[i].Vector, r.dimension); err != nil {
			return fmt.Errorf("invalid vector for record %s: %w", recs[i].ID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range recs {
		rec := recs[i]
		if rec.UpdateTime == 0 {
			rec.UpdateTime = time.Now().Unix()
		}
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]interface{})
		}
		if r.distType == Cosine {
			rec.Vector = normalizeVector(rec.Vector)
		}

		// 同ID记录为覆盖写入，不重复登记映射
		if _, exists := r.records[rec.ID]; !exists {
			r.docToRecIDs[rec.DocPath] = append(r.docToRecIDs[rec.DocPath], rec.ID)
		}
		r.records[rec.ID] = rec
	}

	return nil
}

// Get 获取单条记录
func (r *MemoryRepository) Get(id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[id]
	if !exists {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

// Delete 删除单条记录
func (r *MemoryRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[id]
	if !exists {
		return ErrRecordNotFound
	}

	delete(r.records, id)
	r.removeDocMapping(rec.DocPath, id)
	return nil
}

// DeleteByDocPath 删除指定文档的所有记录
// 文档不存在时为空操作，用于全量重建前的幂等清理
func (r *MemoryRepository) DeleteByDocPath(docPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, exists := r.docToRecIDs[docPath]
	if !exists {
		return nil
	}

	for _, id := range ids {
		delete(r.records, id)
	}
	delete(r.docToRecIDs, docPath)
	return nil
}

// Search 相似度搜索
func (r *MemoryRepository) Search(vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}
	if r.distType == Cosine {
		vector = normalizeVector(vector)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := r.filterRecords(filter)
	if len(candidates) == 0 {
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, rec := range candidates {
		dist, err := ComputeDistance(vector, rec.Vector, r.distType)
		if err != nil {
			return nil, fmt.Errorf("error computing distance: %w", err)
		}

		score := DistanceToScore(dist, r.distType)
		if score >= filter.MinScore {
			results = append(results, SearchResult{
				Record:   rec,
				Score:    score,
				Distance: dist,
			})
		}
	}

	SortSearchResults(results)
	if filter.MaxResults > 0 && len(results) > filter.MaxResults {
		results = results[:filter.MaxResults]
	}
	return results, nil
}

// filterRecords 应用文档路径和元数据过滤，调用方需持有读锁
func (r *MemoryRepository) filterRecords(filter SearchFilter) []Record {
	var candidates []Record

	if len(filter.DocPaths) > 0 {
		// 指定了文档路径时走索引，不扫全表
		for _, docPath := range filter.DocPaths {
			for _, id := range r.docToRecIDs[docPath] {
				if rec, exists := r.records[id]; exists && matchMetadata(rec.Metadata, filter.Metadata) {
					candidates = append(candidates, rec)
				}
			}
		}
		return candidates
	}

	candidates = make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if matchMetadata(rec.Metadata, filter.Metadata) {
			candidates = append(candidates, rec)
		}
	}
	return candidates
}

// removeDocMapping 从文档映射中摘除一条记录ID，调用方需持有写锁
func (r *MemoryRepository) removeDocMapping(docPath, id string) {
	ids, ok := r.docToRecIDs[docPath]
	if !ok {
		return
	}

	updated := make([]string, 0, len(ids)-1)
	for _, existing := range ids {
		if existing != id {
			updated = append(updated, existing)
		}
	}

	if len(updated) == 0 {
		delete(r.docToRecIDs, docPath)
	} else {
		r.docToRecIDs[docPath] = updated
	}
}

// Count 获取记录总数
func (r *MemoryRepository) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records), nil
}

// GetDimension 返回向量维数
func (r *MemoryRepository) GetDimension() int {
	return r.dimension
}

// Close 关闭数据库连接
// 对于内存实现这是一个空操作
func (r *MemoryRepository) Close() error {
	return nil
}

// 在包初始化时注册内存仓库
func init() {
	RegisterRepository("memory", NewMemoryRepository)
}
