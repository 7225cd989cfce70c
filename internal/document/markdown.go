package document

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"

	"github.com/fyerfyer/doc-rag-ingest/internal/doctree"
)

// MarkdownParser 将Markdown解析为节点树
// 用于把扁平化阶段产出的.md文件回灌进管线，无需Sphinx边车
type MarkdownParser struct{}

// NewMarkdownParser 创建新的Markdown解析器
func NewMarkdownParser() Parser {
	return &MarkdownParser{}
}

// Parse 解析Markdown文件
func (p *MarkdownParser) Parse(filePath string) (*doctree.Node, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open markdown file: %w", err)
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader解析Markdown内容
func (p *MarkdownParser) ParseReader(r io.Reader, filename string) (*doctree.Node, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read markdown content: %w", err)
	}

	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	mdParser := parser.NewWithExtensions(extensions)
	mdRoot := mdParser.Parse(content)

	return buildTree(mdRoot, filename), nil
}

// buildTree 将gomarkdown的AST折叠为节点树
// 标题按层级开启章节嵌套，其余块级节点挂到当前章节下
func buildTree(mdRoot ast.Node, source string) *doctree.Node {
	root := &doctree.Node{Kind: doctree.KindOther, Source: source}

	// 章节栈：每个元素记录标题层级与对应的章节节点
	type frame struct {
		level int
		node  *doctree.Node
	}
	stack := []frame{{level: 0, node: root}}
	top := func() *doctree.Node { return stack[len(stack)-1].node }

	for _, child := range mdRoot.GetChildren() {
		if heading, ok := child.(*ast.Heading); ok {
			// 弹出不低于当前层级的章节
			for len(stack) > 1 && stack[len(stack)-1].level >= heading.Level {
				stack = stack[:len(stack)-1]
			}

			section := &doctree.Node{
				Kind:   doctree.KindSection,
				Source: source,
				Children: []*doctree.Node{
					{Kind: doctree.KindTitle, Raw: inlineText(heading)},
				},
			}
			parent := top()
			parent.Children = append(parent.Children, section)
			stack = append(stack, frame{level: heading.Level, node: section})
			continue
		}

		if node := convertBlock(child, source); node != nil {
			cur := top()
			cur.Children = append(cur.Children, node)
		}
	}

	return root
}

// convertBlock 转换单个块级AST节点，不认识的类型返回nil
func convertBlock(n ast.Node, source string) *doctree.Node {
	switch v := n.(type) {
	case *ast.Paragraph:
		text := inlineText(v)
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return &doctree.Node{Kind: doctree.KindParagraph, Raw: text, Source: source}

	case *ast.CodeBlock:
		return &doctree.Node{
			Kind:     doctree.KindLiteralBlock,
			Raw:      strings.TrimRight(string(v.Literal), "\n"),
			Language: strings.TrimSpace(string(v.Info)),
			Source:   source,
		}

	case *ast.List:
		list := &doctree.Node{Kind: doctree.KindBulletList, Source: source}
		for _, item := range v.GetChildren() {
			itemNode := &doctree.Node{Kind: doctree.KindListItem, Source: source}
			for _, inner := range item.GetChildren() {
				if converted := convertBlock(inner, source); converted != nil {
					itemNode.Children = append(itemNode.Children, converted)
				}
			}
			list.Children = append(list.Children, itemNode)
		}
		return list

	case *ast.Table:
		return convertTable(v, source)

	case *ast.BlockQuote:
		quote := &doctree.Node{Kind: doctree.KindNote, Source: source}
		for _, inner := range v.GetChildren() {
			if converted := convertBlock(inner, source); converted != nil {
				quote.Children = append(quote.Children, converted)
			}
		}
		if len(quote.Children) == 0 {
			return nil
		}
		return quote

	default:
		return nil
	}
}

// convertTable 将Markdown表格转换为表格节点子树
func convertTable(table *ast.Table, source string) *doctree.Node {
	tgroup := &doctree.Node{Kind: doctree.KindTGroup, Source: source}

	for _, part := range table.GetChildren() {
		switch part.(type) {
		case *ast.TableHeader:
			thead := &doctree.Node{Kind: doctree.KindTHead, Source: source}
			thead.Children = convertRows(part, source)
			tgroup.Children = append(tgroup.Children, thead)
		case *ast.TableBody:
			tbody := &doctree.Node{Kind: doctree.KindTBody, Source: source}
			tbody.Children = convertRows(part, source)
			tgroup.Children = append(tgroup.Children, tbody)
		}
	}

	return &doctree.Node{
		Kind:     doctree.KindTable,
		Source:   source,
		Children: []*doctree.Node{tgroup},
	}
}

// convertRows 转换表格行集合
func convertRows(part ast.Node, source string) []*doctree.Node {
	var rows []*doctree.Node
	for _, row := range part.GetChildren() {
		rowNode := &doctree.Node{Kind: doctree.KindRow, Source: source}
		for _, cell := range row.GetChildren() {
			rowNode.Children = append(rowNode.Children, &doctree.Node{
				Kind:   doctree.KindEntry,
				Raw:    inlineText(cell),
				Source: source,
			})
		}
		rows = append(rows, rowNode)
	}
	return rows
}

// inlineText 收集节点子树内所有行内文本
func inlineText(n ast.Node) string {
	var b strings.Builder
	ast.WalkFunc(n, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Literal)
		case *ast.Code:
			b.Write(v.Literal)
		case *ast.Softbreak, *ast.Hardbreak:
			b.WriteByte('\n')
		}
		return ast.GoToNext
	})
	return strings.TrimSpace(b.String())
}
