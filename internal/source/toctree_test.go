package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile 在测试目录下写入文件，自动创建父目录
func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	path := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// TestExtractToctreeEntries 测试toctree条目提取
func TestExtractToctreeEntries(t *testing.T) {
	content := `Title
=====

.. toctree::
   :maxdepth: 2
   :caption: Contents

   intro
   guide/install
   api/index

Regular paragraph ends the block.

.. toctree::

   extra
   intro
`

	entries := extractToctreeEntries(content)
	// 重复条目去重，选项行和正文不计入
	assert.Equal(t, []string{"intro", "guide/install", "api/index", "extra"}, entries)
}

// TestExtractToctreeEntriesEmpty 测试无toctree的内容
func TestExtractToctreeEntriesEmpty(t *testing.T) {
	assert.Empty(t, extractToctreeEntries("Title\n=====\n\nJust text.\n"))
}

// TestWalkerFollowsToctree 测试按toctree引用顺序发现文档
func TestWalkerFollowsToctree(t *testing.T) {
	root := t.TempDir()

	writeFile(t, root, "index.rst", `Root
====

.. toctree::

   intro
   guide/index
`)
	writeFile(t, root, "intro.rst", "Intro\n=====\n")
	writeFile(t, root, "guide/index.rst", `Guide
=====

.. toctree::

   install
`)
	writeFile(t, root, "guide/install.rst", "Install\n=======\n")

	w, err := NewWalker(root, nil)
	require.NoError(t, err)

	paths, err := w.Walk()
	require.NoError(t, err)

	var rels []string
	for _, p := range paths {
		rels = append(rels, w.RelPath(p))
	}
	assert.Equal(t, []string{
		"index.rst",
		"intro.rst",
		"guide/index.rst",
		"guide/install.rst",
	}, rels)
	t.Logf("发现 %d 个文档", len(rels))
}

// TestWalkerDeduplicates 测试重复引用只访问一次
func TestWalkerDeduplicates(t *testing.T) {
	root := t.TempDir()

	writeFile(t, root, "index.rst", `Root
====

.. toctree::

   a
   b
`)
	writeFile(t, root, "a.rst", `A
=

.. toctree::

   b
`)
	writeFile(t, root, "b.rst", "B\n=\n")

	w, err := NewWalker(root, nil)
	require.NoError(t, err)

	paths, err := w.Walk()
	require.NoError(t, err)
	require.Len(t, paths, 3)
}

// TestWalkerChildIndexFallback 测试无toctree时兜底扫描子目录index
func TestWalkerChildIndexFallback(t *testing.T) {
	root := t.TempDir()

	writeFile(t, root, "index.rst", "Root\n====\n\nNo toctree here.\n")
	writeFile(t, root, "base/index.rst", "Base\n====\n")
	writeFile(t, root, "policy/index.rst", "Policy\n======\n")

	w, err := NewWalker(root, nil)
	require.NoError(t, err)

	paths, err := w.Walk()
	require.NoError(t, err)

	var rels []string
	for _, p := range paths {
		rels = append(rels, w.RelPath(p))
	}
	// 子目录按名称排序
	assert.Equal(t, []string{"index.rst", "base/index.rst", "policy/index.rst"}, rels)
}

// TestWalkerMissingRoot 测试根index缺失时报错
func TestWalkerMissingRoot(t *testing.T) {
	w, err := NewWalker(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = w.Walk()
	assert.Error(t, err)
}

// TestWalkerUnresolvableEntry 测试无法解析的条目被跳过
func TestWalkerUnresolvableEntry(t *testing.T) {
	root := t.TempDir()

	writeFile(t, root, "index.rst", `Root
====

.. toctree::

   missing
   real
`)
	writeFile(t, root, "real.rst", "Real\n====\n")

	w, err := NewWalker(root, nil)
	require.NoError(t, err)

	paths, err := w.Walk()
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "real.rst", w.RelPath(paths[1]))
}
