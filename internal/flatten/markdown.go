package flatten

import (
	"fmt"
	"strings"

	"github.com/fyerfyer/doc-rag-ingest/internal/transform"
)

// Builder 逐行构造RAG友好的Markdown文本
type Builder struct {
	lines []string
}

// Add 追加一行
func (b *Builder) Add(line string) {
	b.lines = append(b.lines, line)
}

// AddBlank 追加空行，已有空行时不重复
func (b *Builder) AddBlank() {
	if len(b.lines) > 0 && strings.TrimSpace(b.lines[len(b.lines)-1]) != "" {
		b.lines = append(b.lines, "")
	}
}

// String 返回构造的完整文本
func (b *Builder) String() string {
	return strings.Join(b.lines, "\n")
}

// RenderMarkdown 将转换后的Document渲染为扁平Markdown
// 输出面向下游切片器而非标准渲染：正文标题统一降级，
// 符号块升为H3标题以触发按定义切片
func RenderMarkdown(doc *transform.Document) string {
	b := &Builder{}

	b.Add("# " + cleanTitle(doc.DocID))
	b.AddBlank()

	// 文档首标题与文件名重复时跳过，避免双份标题
	for i, sec := range doc.Sections {
		skipTitle := i == 0 && titleEqualsDocName(sec.Title, doc.DocID)
		renderSection(b, sec, 2, skipTitle)
	}

	return b.String()
}

// renderSection 递归渲染章节，depth控制标题层级
func renderSection(b *Builder, sec *transform.Section, depth int, skipTitle bool) {
	if !skipTitle {
		// 降级到H4起步，避免下游按H3切片时把正文切得过碎
		level := depth + 2
		if level > 6 {
			level = 6
		}
		b.AddBlank()
		b.Add(strings.Repeat("#", level) + " " + cleanTitle(sec.Title))
		b.AddBlank()
	}

	for _, block := range sec.Blocks {
		renderBlock(b, block)
	}

	for _, sub := range sec.Subsections {
		renderSection(b, sub, depth+1, false)
	}
}

// renderBlock 渲染单个内容块
func renderBlock(b *Builder, block transform.Block) {
	switch block.Type {
	case transform.BlockCode:
		b.AddBlank()
		b.Add("```" + block.Language)
		b.Add(block.Code)
		b.Add("```")
		b.AddBlank()

	case transform.BlockTable:
		b.AddBlank()
		for _, line := range strings.Split(block.Text, "\n") {
			if line != "" {
				b.Add("- " + line)
			}
		}
		b.AddBlank()

	case transform.BlockSymbol:
		// H3触发下游按定义切片
		b.AddBlank()
		b.Add("### " + block.Text)
		b.AddBlank()

	case transform.BlockNote, transform.BlockWarning, transform.BlockTip:
		b.AddBlank()
		b.Add(fmt.Sprintf("**%s:** %s", capitalize(string(block.Type)), collapseLines(block.Text)))
		b.AddBlank()

	default:
		if block.Text != "" {
			b.Add(block.Text)
			b.AddBlank()
		}
	}
}

// cleanTitle 清洗标题：去掉首尾引号与多余空白
func cleanTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.Trim(title, `"'`)
	return strings.TrimSpace(title)
}

// titleEqualsDocName 判断标题是否只是文件名的重复
func titleEqualsDocName(title, docID string) bool {
	t := strings.ToLower(strings.ReplaceAll(cleanTitle(title), " ", ""))
	base := docID
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	d := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(base))
	return t != "" && t == d
}

// collapseLines 折叠换行为空格
func collapseLines(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// capitalize 首字母大写
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
