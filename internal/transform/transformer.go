package transform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/doc-rag-ingest/internal/doctree"
)

// Config 转换器配置
type Config struct {
	// DomainKeyword 语言启发式关键字：当代码块语言标签是通用的"text"
	// 且节点来源路径包含该关键字时，语言改写为DomainLanguage
	DomainKeyword string
	// DomainLanguage 启发式命中时使用的语言名
	DomainLanguage string
	// TitleSeparator 祖先标题链的拼接符
	TitleSeparator string
	// CellSeparator 表格行内"表头: 单元格"对之间的拼接符
	CellSeparator string
}

// DefaultConfig 返回默认转换器配置
func DefaultConfig() Config {
	return Config{
		DomainKeyword:  "zeek",
		DomainLanguage: "zeek",
		TitleSeparator: "/",
		CellSeparator:  "; ",
	}
}

// Transformer 将解析树转换为Document/Section/Block/Symbol数据模型
// 单线程、同步，一次处理一棵树；相同输入产出逐字节相同的标识和顺序
type Transformer struct {
	cfg    Config
	logger *logrus.Logger
}

// NewTransformer 创建转换器
func NewTransformer(cfg Config, logger *logrus.Logger) *Transformer {
	if cfg.TitleSeparator == "" {
		cfg.TitleSeparator = "/"
	}
	if cfg.CellSeparator == "" {
		cfg.CellSeparator = "; "
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Transformer{cfg: cfg, logger: logger}
}

// walkState 单次转换的遍历状态
// 每次Transform调用独享一份，章节栈显式传递，不存在跨文档共享的可变状态
type walkState struct {
	docID   string
	stack   []*Section // 章节嵌套栈，栈顶是当前章节
	roots   []*Section // 顶层章节
	symbols []Symbol
}

// top 返回栈顶章节，栈空时返回nil
func (st *walkState) top() *Section {
	if len(st.stack) == 0 {
		return nil
	}
	return st.stack[len(st.stack)-1]
}

// titles 返回当前栈内的章节标题链
func (st *walkState) titles() []string {
	out := make([]string, 0, len(st.stack))
	for _, s := range st.stack {
		out = append(out, s.Title)
	}
	return out
}

// Transform 将一棵解析树转换为一个Document
// docID是文档标识（源文件相对路径），version写入输出原样保留
func (t *Transformer) Transform(root *doctree.Node, docID, version string) (*Document, error) {
	if root == nil {
		return nil, errors.New("transform: nil document tree")
	}
	if docID == "" {
		return nil, errors.New("transform: empty document id")
	}

	doc := &Document{
		DocID:    docID,
		Version:  version,
		Sections: []*Section{},
		Symbols:  []Symbol{},
	}

	// 文档主标题：树中第一个标题节点，缺失时回退为文档标识
	if titleNode := root.FirstChild(doctree.KindTitle); titleNode != nil {
		doc.Title = strings.TrimSpace(titleNode.Text())
	}
	if doc.Title == "" {
		doc.Title = docID
	}

	st := &walkState{docID: docID}
	for _, child := range root.Children {
		t.walk(child, st)
	}

	doc.Sections = st.roots
	if doc.Sections == nil {
		doc.Sections = []*Section{}
	}
	doc.Symbols = st.symbols
	if doc.Symbols == nil {
		doc.Symbols = []Symbol{}
	}
	return doc, nil
}

// walk 递归处理一个节点
// 对封闭的节点类型集合做穷尽分发；新增节点类型时此switch必须补全
func (t *Transformer) walk(n *doctree.Node, st *walkState) {
	switch n.Kind {
	case doctree.KindSection:
		t.walkSection(n, st)

	case doctree.KindParagraph:
		if sec := st.top(); sec != nil {
			// 段内换行折叠为单个空格，便于嵌入
			text := strings.TrimSpace(strings.ReplaceAll(n.Text(), "\n", " "))
			if text != "" {
				sec.Blocks = append(sec.Blocks, Block{
					BlockID: ShortHash(text),
					Type:    BlockText,
					Text:    text,
				})
			}
		}

	case doctree.KindLiteralBlock:
		if sec := st.top(); sec != nil {
			code := n.Text()
			sec.Blocks = append(sec.Blocks, Block{
				BlockID:  ShortHash(code),
				Type:     BlockCode,
				Language: t.codeLanguage(n),
				Code:     code,
			})
		}

	case doctree.KindTable:
		if sec := st.top(); sec != nil {
			if text := t.renderTable(n); text != "" {
				sec.Blocks = append(sec.Blocks, Block{
					BlockID: ShortHash(text),
					Type:    BlockTable,
					Text:    text,
				})
			}
		}

	case doctree.KindNote, doctree.KindWarning, doctree.KindTip:
		if sec := st.top(); sec != nil {
			text := strings.TrimSpace(n.Text())
			if text != "" {
				sec.Blocks = append(sec.Blocks, Block{
					BlockID: ShortHash(text),
					Type:    admonitionType(n.Kind),
					Text:    text,
				})
			}
		}

	case doctree.KindDesc:
		t.walkDesc(n, st)

	case doctree.KindSystemMessage, doctree.KindComment,
		doctree.KindIndex, doctree.KindProductionList:
		// 整体剪除：不产出内容，也不递归

	case doctree.KindTitle, doctree.KindDescSignature:
		// 在所属容器（section/desc）处已消费，单独出现时忽略

	case doctree.KindTGroup, doctree.KindTHead, doctree.KindTBody,
		doctree.KindRow, doctree.KindEntry:
		// 表格内部节点由renderTable整体处理，不会独立出现

	case doctree.KindBulletList, doctree.KindListItem, doctree.KindOther:
		// 纯透传：不产出章节或块，继续下探
		for _, child := range n.Children {
			t.walk(child, st)
		}

	default:
		// Kind集合封闭，到达此处说明doctree包新增了未处理的类型
		for _, child := range n.Children {
			t.walk(child, st)
		}
	}
}

// walkSection 处理章节节点：消费标题、建节、压栈、递归、弹栈
func (t *Transformer) walkSection(n *doctree.Node, st *walkState) {
	// 标题只认直接子节点：深度查找会把子章节的标题拿来冒充本节标题
	titleNode := n.DirectChild(doctree.KindTitle)
	if titleNode == nil {
		// 无标题章节整体跳过，内容随之丢弃（与源管线策略一致）
		t.logger.WithField("doc", st.docID).Debug("Skipping untitled section")
		return
	}

	title := strings.TrimSpace(titleNode.Text())
	if title == "" {
		t.logger.WithField("doc", st.docID).Debug("Skipping section with blank title")
		return
	}

	ancestors := strings.Join(st.titles(), t.cfg.TitleSeparator)
	section := &Section{
		SectionID:   ShortHash(fmt.Sprintf("%s:%s:%s", st.docID, ancestors, title)),
		Title:       title,
		Blocks:      []Block{},
		Subsections: []*Section{},
	}

	if parent := st.top(); parent != nil {
		parent.Subsections = append(parent.Subsections, section)
	} else {
		st.roots = append(st.roots, section)
	}

	st.stack = append(st.stack, section)
	for _, child := range n.Children {
		if child == titleNode {
			// 标题已消费，跳过以免重复出现在内容里
			continue
		}
		t.walk(child, st)
	}
	st.stack = st.stack[:len(st.stack)-1]
}

// walkDesc 处理域定义节点
// 每个签名同时产出一条Symbol记录和一个symbol块，正文子节点在同一层级继续下探
func (t *Transformer) walkDesc(n *doctree.Node, st *walkState) {
	sec := st.top()
	if sec == nil {
		return
	}

	objType := n.ObjType
	if objType == "" {
		objType = "definition"
	}

	sigs := n.FindAll(doctree.KindDescSignature)
	sectionPath := strings.Join(st.titles(), t.cfg.TitleSeparator)

	for _, sig := range sigs {
		text := strings.TrimSpace(sig.Text())
		if text == "" {
			continue
		}
		st.symbols = append(st.symbols, Symbol{
			SymbolID:   ShortHash(text),
			SymbolType: objType,
			Text:       text,
			Doc:        st.docID,
			Section:    sectionPath,
		})
		blockText := objType + ": " + text
		sec.Blocks = append(sec.Blocks, Block{
			BlockID: ShortHash(blockText),
			Type:    BlockSymbol,
			Text:    blockText,
		})
	}

	for _, child := range n.Children {
		if child.Kind == doctree.KindDescSignature {
			continue
		}
		t.walk(child, st)
	}
}

// codeLanguage 确定代码块语言标签
// 默认"text"；标签是通用值且来源路径包含域关键字时改写为域语言
func (t *Transformer) codeLanguage(n *doctree.Node) string {
	lang := n.Language
	if lang == "" {
		lang = "text"
	}
	if lang == "text" && t.cfg.DomainKeyword != "" &&
		strings.Contains(strings.ToLower(n.Source), t.cfg.DomainKeyword) {
		return t.cfg.DomainLanguage
	}
	return lang
}

// renderTable 将表格节点拍平为多行文本
// 有表头时每行渲染为"表头: 单元格"对，无表头时以竖线拼接原始单元格
func (t *Transformer) renderTable(n *doctree.Node) string {
	tgroup := n.FirstChild(doctree.KindTGroup)
	if tgroup == nil {
		return ""
	}

	var headers []string
	if thead := tgroup.FirstChild(doctree.KindTHead); thead != nil {
		for _, row := range thead.FindAll(doctree.KindRow) {
			headers = headers[:0]
			for _, entry := range row.FindAll(doctree.KindEntry) {
				headers = append(headers, strings.TrimSpace(entry.Text()))
			}
		}
	}

	tbody := tgroup.FirstChild(doctree.KindTBody)
	if tbody == nil {
		return ""
	}

	var lines []string
	for _, row := range tbody.FindAll(doctree.KindRow) {
		var cells []string
		for _, entry := range row.FindAll(doctree.KindEntry) {
			cells = append(cells, strings.ReplaceAll(strings.TrimSpace(entry.Text()), "\n", " "))
		}
		if len(cells) == 0 {
			continue
		}

		if len(headers) > 0 {
			var pairs []string
			for i, cell := range cells {
				if cell == "" {
					continue
				}
				h := fmt.Sprintf("Col%d", i)
				if i < len(headers) && headers[i] != "" {
					h = headers[i]
				}
				pairs = append(pairs, h+": "+cell)
			}
			if len(pairs) > 0 {
				lines = append(lines, strings.Join(pairs, t.cfg.CellSeparator))
			}
		} else {
			lines = append(lines, strings.Join(cells, " | "))
		}
	}

	return strings.Join(lines, "\n")
}

// admonitionType 提示类节点类型到块类型的映射
func admonitionType(kind doctree.Kind) BlockType {
	switch kind {
	case doctree.KindWarning:
		return BlockWarning
	case doctree.KindTip:
		return BlockTip
	default:
		return BlockNote
	}
}
