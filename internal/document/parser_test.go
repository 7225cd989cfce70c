package document

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/doc-rag-ingest/internal/doctree"
)

// TestParserFactory 测试按扩展名选择解析器
func TestParserFactory(t *testing.T) {
	p, err := ParserFactory("doc.md")
	require.NoError(t, err)
	assert.IsType(t, &MarkdownParser{}, p)

	p, err = ParserFactory("tree.json")
	require.NoError(t, err)
	assert.IsType(t, &DocTreeJSONParser{}, p)

	// rst由Sphinx边车解析，不在工厂范围内
	_, err = ParserFactory("page.rst")
	assert.Error(t, err)
}

// TestMarkdownParserSections 测试标题层级到章节嵌套的折叠
func TestMarkdownParserSections(t *testing.T) {
	md := `# Guide

Intro paragraph.

## Install

Install text.

### Deps

Deps text.

## Usage

Usage text.
`
	p := NewMarkdownParser()
	root, err := p.ParseReader(strings.NewReader(md), "guide.md")
	require.NoError(t, err)

	// 顶层只有H1章节
	require.Len(t, root.Children, 1)
	guide := root.Children[0]
	assert.Equal(t, doctree.KindSection, guide.Kind)
	assert.Equal(t, "Guide", guide.FirstChild(doctree.KindTitle).Raw)

	// H1下包含段落和两个H2章节
	var sections []*doctree.Node
	for _, c := range guide.Children {
		if c.Kind == doctree.KindSection {
			sections = append(sections, c)
		}
	}
	require.Len(t, sections, 2)
	assert.Equal(t, "Install", sections[0].FirstChild(doctree.KindTitle).Raw)
	assert.Equal(t, "Usage", sections[1].FirstChild(doctree.KindTitle).Raw)

	// H3嵌套在第一个H2之下
	var sub []*doctree.Node
	for _, c := range sections[0].Children {
		if c.Kind == doctree.KindSection {
			sub = append(sub, c)
		}
	}
	require.Len(t, sub, 1)
	assert.Equal(t, "Deps", sub[0].FirstChild(doctree.KindTitle).Raw)
}

// TestMarkdownParserCodeBlock 测试代码块转换
func TestMarkdownParserCodeBlock(t *testing.T) {
	md := "# Code\n\n```bash\nmake install\n```\n"

	p := NewMarkdownParser()
	root, err := p.ParseReader(strings.NewReader(md), "code.md")
	require.NoError(t, err)

	code := root.FirstChild(doctree.KindLiteralBlock)
	require.NotNil(t, code)
	assert.Equal(t, "make install", code.Raw)
	assert.Equal(t, "bash", code.Language)
	assert.Equal(t, "code.md", code.Source)
}

// TestMarkdownParserList 测试列表转换
func TestMarkdownParserList(t *testing.T) {
	md := "# List\n\n- first item\n- second item\n"

	p := NewMarkdownParser()
	root, err := p.ParseReader(strings.NewReader(md), "list.md")
	require.NoError(t, err)

	list := root.FirstChild(doctree.KindBulletList)
	require.NotNil(t, list)
	items := list.FindAll(doctree.KindListItem)
	require.Len(t, items, 2)
	assert.Contains(t, items[0].Text(), "first item")
}

// TestMarkdownParserTable 测试表格转换为表格节点子树
func TestMarkdownParserTable(t *testing.T) {
	md := `# Table

| Name | Value |
|------|-------|
| x    | 1     |
| y    | 2     |
`
	p := NewMarkdownParser()
	root, err := p.ParseReader(strings.NewReader(md), "table.md")
	require.NoError(t, err)

	table := root.FirstChild(doctree.KindTable)
	require.NotNil(t, table)

	thead := table.FirstChild(doctree.KindTHead)
	require.NotNil(t, thead)
	headers := thead.FindAll(doctree.KindEntry)
	require.Len(t, headers, 2)
	assert.Equal(t, "Name", headers[0].Raw)

	tbody := table.FirstChild(doctree.KindTBody)
	require.NotNil(t, tbody)
	rows := tbody.FindAll(doctree.KindRow)
	require.Len(t, rows, 2)
}

// TestMarkdownParserBlockQuote 测试引用块转换为提示节点
func TestMarkdownParserBlockQuote(t *testing.T) {
	md := "# Quote\n\n> careful with this\n"

	p := NewMarkdownParser()
	root, err := p.ParseReader(strings.NewReader(md), "quote.md")
	require.NoError(t, err)

	note := root.FirstChild(doctree.KindNote)
	require.NotNil(t, note)
	assert.Contains(t, note.Text(), "careful with this")
}

// TestDocTreeJSONParser 测试doctree JSON文件的加载
func TestDocTreeJSONParser(t *testing.T) {
	data := `{"kind": "section", "children": [{"kind": "title", "text": "T"}]}`

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "tree.json")
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	p := NewDocTreeJSONParser()
	root, err := p.Parse(path)
	require.NoError(t, err)
	assert.Equal(t, doctree.KindSection, root.Kind)

	// Reader入口与文件入口等价
	root2, err := p.ParseReader(strings.NewReader(data), "tree.json")
	require.NoError(t, err)
	assert.Equal(t, root.Kind, root2.Kind)
}

// TestMarkdownParserFile 测试从文件解析
func TestMarkdownParserFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("# Title\n\nbody\n"), 0644))

	p := NewMarkdownParser()
	root, err := p.Parse(path)
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	assert.Equal(t, doctree.KindSection, root.Children[0].Kind)

	_, err = p.Parse(filepath.Join(tmpDir, "missing.md"))
	assert.Error(t, err)
}
