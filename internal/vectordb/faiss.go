package vectordb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DataIntelligenceCrew/go-faiss"
)

// FaissRepository 基于Faiss平坦索引的向量仓库
// 记录元数据以旁路JSON文件持久化，索引文件由Faiss自行管理
type FaissRepository struct {
	mu             sync.RWMutex
	index          faiss.Index
	records        map[string]Record
	docToRecIDs    map[string][]string
	idToPosition   map[string]int
	posToID        map[int]string
	indexPath      string
	metaPath       string
	dimension      int
	distanceType   DistanceType
	saveOnClose    bool
	autoSave       bool
	autoSaveCount  int
	operationCount int
}

// NewFaissRepository 创建新的Faiss向量仓库
func NewFaissRepository(config Config) (Repository, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	if config.Path != "" && !config.InMemory {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}

	indexPath := config.Path
	metaPath := ""
	if indexPath != "" {
		metaPath = indexPath + ".meta.json"
	}

	repo := &FaissRepository{
		records:       make(map[string]Record),
		docToRecIDs:   make(map[string][]string),
		idToPosition:  make(map[string]int),
		posToID:       make(map[int]string),
		indexPath:     indexPath,
		metaPath:      metaPath,
		dimension:     config.Dimension,
		distanceType:  distType,
		saveOnClose:   true,
		autoSave:      true,
		autoSaveCount: 100,
	}

	var index faiss.Index
	var err error

	if indexPath != "" && !config.InMemory && fileExists(indexPath) {
		index, err = faiss.ReadIndex(indexPath, 0)
		if err != nil {
			if !config.CreateIfNotExists {
				return nil, fmt.Errorf("failed to read index file: %w", err)
			}
			index, err = createFaissIndex(config.Dimension, distType)
			if err != nil {
				return nil, fmt.Errorf("failed to create Faiss index: %w", err)
			}
		} else {
			if err := repo.loadMetadata(metaPath); err != nil {
				return nil, fmt.Errorf("failed to load index metadata: %w", err)
			}
		}
	} else {
		index, err = createFaissIndex(config.Dimension, distType)
		if err != nil {
			return nil, fmt.Errorf("failed to create Faiss index: %w", err)
		}
	}

	repo.index = index
	return repo, nil
}

// createFaissIndex 创建Faiss索引
func createFaissIndex(dimension int, distType DistanceType) (faiss.Index, error) {
	var metric int
	switch distType {
	case Cosine, DotProduct:
		metric = faiss.MetricInnerProduct
	case Euclidean:
		metric = faiss.MetricL2
	default:
		metric = faiss.MetricL2
	}
	return faiss.NewIndexFlat(dimension, metric)
}

// Add 添加单条记录
func (r *FaissRepository) Add(rec Record) error {
	return r.AddBatch([]Record{rec})
}

// AddBatch 批量添加记录
// 先整批校验维度再写索引，避免索引与元数据不一致
func (r *FaissRepository) AddBatch(recs []Record) error {
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
		if r.distanceType == Cosine {
			recs[i].Vector = normalizeVector(recs[i].Vector)
		}
		if recs[i].UpdateTime == 0 {
			recs[i].UpdateTime = time.Now().Unix()
		}
		if recs[i].Metadata == nil {
			recs[i].Metadata = make(map[string]interface{})
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	startPos := int(r.index.Ntotal())
	for _, rec := range recs {
		if err := r.index.Add(rec.Vector); err != nil {
			return fmt.Errorf("failed to add vector to index: %w", err)
		}
	}

	for i, rec := range recs {
		position := startPos + i
		r.records[rec.ID] = rec
		r.idToPosition[rec.ID] = position
		r.posToID[position] = rec.ID
		r.docToRecIDs[rec.DocPath] = append(r.docToRecIDs[rec.DocPath], rec.ID)
	}

	r.operationCount += len(recs)
	if r.autoSave && r.operationCount >= r.autoSaveCount {
		if err := r.saveIndex(); err != nil {
			return fmt.Errorf("auto-save failed: %w", err)
		}
		r.operationCount = 0
	}
	return nil
}

// Get 获取单条记录
func (r *FaissRepository) Get(id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[id]
	if !exists {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

// Delete 删除单条记录
// 平坦索引不支持原地删除，向量位置保留为墓碑，搜索时跳过
func (r *FaissRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[id]
	if !exists {
		return ErrRecordNotFound
	}

	delete(r.records, id)
	if pos, ok := r.idToPosition[id]; ok {
		delete(r.posToID, pos)
	}
	delete(r.idToPosition, id)
	r.removeDocMapping(rec.DocPath, id)
	r.operationCount++
	return nil
}

// DeleteByDocPath 删除指定文档的所有记录
func (r *FaissRepository) DeleteByDocPath(docPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, exists := r.docToRecIDs[docPath]
	if !exists {
		return nil
	}

	for _, id := range ids {
		delete(r.records, id)
		if pos, ok := r.idToPosition[id]; ok {
			delete(r.posToID, pos)
		}
		delete(r.idToPosition, id)
	}
	delete(r.docToRecIDs, docPath)
	r.operationCount += len(ids)
	return nil
}

// Search 相似度搜索
func (r *FaissRepository) Search(vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}
	if r.distanceType == Cosine {
		vector = normalizeVector(vector)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.records) == 0 {
		return []SearchResult{}, nil
	}

	k := filter.MaxResults
	if k <= 0 {
		k = 10
	}

	// 多查一倍再做后过滤，补偿墓碑和过滤条件造成的损耗
	queryLimit := k * 2
	total := int(r.index.Ntotal())
	if queryLimit > total {
		queryLimit = total
	}
	if queryLimit == 0 {
		return []SearchResult{}, nil
	}

	distances, indices, err := r.index.Search(vector, int64(queryLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	var results []SearchResult
	for i := 0; i < len(indices); i++ {
		idx := indices[i]
		if idx < 0 {
			continue
		}

		recID, found := r.posToID[int(idx)]
		if !found {
			continue
		}
		rec, exists := r.records[recID]
		if !exists {
			continue
		}

		if len(filter.DocPaths) > 0 && !containsString(filter.DocPaths, rec.DocPath) {
			continue
		}
		if !matchMetadata(rec.Metadata, filter.Metadata) {
			continue
		}

		dist := distances[i]
		score := DistanceToScore(dist, r.distanceType)
		if score < filter.MinScore {
			continue
		}

		results = append(results, SearchResult{
			Record:   rec,
			Score:    score,
			Distance: dist,
		})
		if len(results) >= k {
			break
		}
	}

	SortSearchResults(results)
	return results, nil
}

// Count 获取记录总数
func (r *FaissRepository) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records), nil
}

// GetDimension 返回向量维数
func (r *FaissRepository) GetDimension() int {
	return r.dimension
}

// Close 关闭仓库
func (r *FaissRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveOnClose && r.indexPath != "" {
		if err := r.saveIndex(); err != nil {
			return fmt.Errorf("failed to save index on close: %w", err)
		}
	}
	return nil
}

// removeDocMapping 从文档映射中摘除一条记录ID，调用方需持有写锁
func (r *FaissRepository) removeDocMapping(docPath, id string) {
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

// faissMetadata 旁路持久化的元数据结构
type faissMetadata struct {
	Records        map[string]Record   `json:"records"`
	DocToRecIDs    map[string][]string `json:"doc_to_rec_ids"`
	IDToPosition   map[string]int      `json:"id_to_position"`
	OperationCount int                 `json:"operation_count"`
}

// saveIndex 保存索引和元数据到文件，调用方需持有写锁
func (r *FaissRepository) saveIndex() error {
	if r.indexPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.indexPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := faiss.WriteIndex(r.index, r.indexPath); err != nil {
		return fmt.Errorf("failed to write index to file: %w", err)
	}
	return r.saveMetadata()
}

// saveMetadata 保存记录元数据到旁路文件
func (r *FaissRepository) saveMetadata() error {
	if r.metaPath == "" {
		return nil
	}

	meta := faissMetadata{
		Records:        r.records,
		DocToRecIDs:    r.docToRecIDs,
		IDToPosition:   r.idToPosition,
		OperationCount: r.operationCount,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(r.metaPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// loadMetadata 从旁路文件加载记录元数据
func (r *FaissRepository) loadMetadata(path string) error {
	if path == "" || !fileExists(path) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read metadata file: %w", err)
	}

	var meta faissMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	r.records = meta.Records
	r.docToRecIDs = meta.DocToRecIDs
	r.idToPosition = meta.IDToPosition
	r.operationCount = meta.OperationCount

	r.posToID = make(map[int]string, len(r.idToPosition))
	for id, pos := range r.idToPosition {
		r.posToID[pos] = id
	}
	return nil
}

// containsString 检查字符串切片中是否包含特定值
func containsString(slice []string, val string) bool {
	for _, item := range slice {
		if item == val {
			return true
		}
	}
	return false
}

// fileExists 检查文件是否存在
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func init() {
	RegisterRepository("faiss", NewFaissRepository)
}
