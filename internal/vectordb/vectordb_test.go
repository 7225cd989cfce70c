package vectordb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRecord 创建测试记录
func newTestRecord(id, docPath string, vector []float32) Record {
	return Record{
		ID:           id,
		DocPath:      docPath,
		DocTitle:     "Test Document",
		DocVersion:   "v1.0",
		Section:      "Install",
		ContentType:  "text",
		RawContent:   "测试内容 " + id,
		CleanContent: "测试内容 " + id,
		Vector:       vector,
	}
}

// newMemoryRepo 创建测试用内存仓库
func newMemoryRepo(t *testing.T) Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		Type:         "memory",
		Dimension:    4,
		DistanceType: Cosine,
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

// TestMemoryAddAndGet 测试记录的写入和读取
func TestMemoryAddAndGet(t *testing.T) {
	repo := newMemoryRepo(t)

	rec := newTestRecord("r1", "guide.rst", []float32{1, 0, 0, 0})
	require.NoError(t, repo.Add(rec))

	got, err := repo.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "guide.rst", got.DocPath)
	assert.Equal(t, "Install", got.Section)

	_, err = repo.Get("missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

// TestMemoryAddBatchValidation 测试整批校验
func TestMemoryAddBatchValidation(t *testing.T) {
	repo := newMemoryRepo(t)

	// 任一记录维度不符则整批拒绝
	err := repo.AddBatch([]Record{
		newTestRecord("ok", "a.rst", []float32{1, 0, 0, 0}),
		newTestRecord("bad", "a.rst", []float32{1, 0}),
	})
	require.Error(t, err)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// 缺失ID同样拒绝
	err = repo.AddBatch([]Record{{DocPath: "a.rst", Vector: []float32{1, 0, 0, 0}}})
	assert.ErrorIs(t, err, ErrInvalidID)
}

// TestMemoryUpsert 测试同ID覆盖写入
func TestMemoryUpsert(t *testing.T) {
	repo := newMemoryRepo(t)

	require.NoError(t, repo.Add(newTestRecord("r1", "a.rst", []float32{1, 0, 0, 0})))

	updated := newTestRecord("r1", "a.rst", []float32{0, 1, 0, 0})
	updated.Section = "Updated"
	require.NoError(t, repo.Add(updated))

	got, err := repo.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "Updated", got.Section)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// 覆盖后按文档删除仍应干净移除
	require.NoError(t, repo.DeleteByDocPath("a.rst"))
	count, _ = repo.Count()
	assert.Equal(t, 0, count)
}

// TestMemorySearch 测试相似度搜索的排序
func TestMemorySearch(t *testing.T) {
	repo := newMemoryRepo(t)

	require.NoError(t, repo.AddBatch([]Record{
		newTestRecord("exact", "a.rst", []float32{1, 0, 0, 0}),
		newTestRecord("close", "a.rst", []float32{0.9, 0.1, 0, 0}),
		newTestRecord("far", "b.rst", []float32{0, 0, 1, 0}),
	}))

	results, err := repo.Search([]float32{1, 0, 0, 0}, SearchFilter{MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// 按相似度降序
	assert.Equal(t, "exact", results[0].Record.ID)
	assert.Equal(t, "close", results[1].Record.ID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	t.Logf("最高相似度 %.4f", results[0].Score)
}

// TestMemorySearchDocPathFilter 测试按文档路径过滤
func TestMemorySearchDocPathFilter(t *testing.T) {
	repo := newMemoryRepo(t)

	require.NoError(t, repo.AddBatch([]Record{
		newTestRecord("a1", "a.rst", []float32{1, 0, 0, 0}),
		newTestRecord("b1", "b.rst", []float32{1, 0, 0, 0}),
	}))

	results, err := repo.Search([]float32{1, 0, 0, 0}, SearchFilter{
		DocPaths: []string{"b.rst"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b1", results[0].Record.ID)
}

// TestMemorySearchMinScore 测试最低相似度过滤
func TestMemorySearchMinScore(t *testing.T) {
	repo := newMemoryRepo(t)

	require.NoError(t, repo.AddBatch([]Record{
		newTestRecord("exact", "a.rst", []float32{1, 0, 0, 0}),
		newTestRecord("orthogonal", "a.rst", []float32{0, 0, 0, 1}),
	}))

	results, err := repo.Search([]float32{1, 0, 0, 0}, SearchFilter{MinScore: 0.9})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "exact", results[0].Record.ID)
}

// TestMemorySearchDimensionMismatch 测试查询向量维度校验
func TestMemorySearchDimensionMismatch(t *testing.T) {
	repo := newMemoryRepo(t)

	_, err := repo.Search([]float32{1, 0}, SearchFilter{})
	assert.Error(t, err)
}

// TestMemoryDeleteByDocPath 测试按文档批量删除
func TestMemoryDeleteByDocPath(t *testing.T) {
	repo := newMemoryRepo(t)

	require.NoError(t, repo.AddBatch([]Record{
		newTestRecord("a1", "a.rst", []float32{1, 0, 0, 0}),
		newTestRecord("a2", "a.rst", []float32{0, 1, 0, 0}),
		newTestRecord("b1", "b.rst", []float32{0, 0, 1, 0}),
	}))

	require.NoError(t, repo.DeleteByDocPath("a.rst"))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// 不存在的文档删除是幂等空操作
	assert.NoError(t, repo.DeleteByDocPath("never-existed.rst"))
}

// TestMemoryDelete 测试单条删除
func TestMemoryDelete(t *testing.T) {
	repo := newMemoryRepo(t)

	require.NoError(t, repo.Add(newTestRecord("r1", "a.rst", []float32{1, 0, 0, 0})))
	require.NoError(t, repo.Delete("r1"))
	assert.ErrorIs(t, repo.Delete("r1"), ErrRecordNotFound)
}

// TestDistanceHelpers 测试距离计算辅助函数
func TestDistanceHelpers(t *testing.T) {
	a := []float32{1, 0, 0, 0}
	b := []float32{0, 1, 0, 0}

	t.Run("cosine", func(t *testing.T) {
		dist, err := ComputeDistance(a, a, Cosine)
		require.NoError(t, err)
		assert.InDelta(t, 0, dist, 1e-6)

		dist, err = ComputeDistance(a, b, Cosine)
		require.NoError(t, err)
		assert.InDelta(t, 1, dist, 1e-6)
	})

	t.Run("euclidean", func(t *testing.T) {
		dist, err := ComputeDistance(a, b, Euclidean)
		require.NoError(t, err)
		assert.InDelta(t, 1.4142, dist, 1e-3)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := ComputeDistance(a, []float32{1, 0}, Cosine)
		assert.Error(t, err)
	})
}

// TestValidateVector 测试向量校验
func TestValidateVector(t *testing.T) {
	assert.NoError(t, ValidateVector([]float32{1, 2, 3}, 3))
	assert.ErrorIs(t, ValidateVector(nil, 3), ErrEmptyVector)
	assert.Error(t, ValidateVector([]float32{1, 2}, 3))
}

// TestRepositoryRegistry 测试仓库注册表
func TestRepositoryRegistry(t *testing.T) {
	// 未注册的类型回退到内存实现
	repo, err := NewRepository(Config{Type: "unknown-backend", Dimension: 4})
	require.NoError(t, err)
	defer repo.Close()
	assert.Equal(t, 4, repo.GetDimension())

	assert.Contains(t, RepositoryRegistry, "memory")
}
