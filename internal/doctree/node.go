package doctree

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Kind 文档树节点类型
// 取值集合是封闭的：解析器导出的所有节点类型都在这里枚举，
// 未知类型统一归入KindOther
type Kind string

const (
	// KindSection 章节节点
	KindSection Kind = "section"
	// KindTitle 标题节点
	KindTitle Kind = "title"
	// KindParagraph 段落节点
	KindParagraph Kind = "paragraph"
	// KindLiteralBlock 代码块节点
	KindLiteralBlock Kind = "literal_block"
	// KindBulletList 无序列表节点
	KindBulletList Kind = "bullet_list"
	// KindListItem 列表项节点
	KindListItem Kind = "list_item"
	// KindTable 表格节点
	KindTable Kind = "table"
	// KindTGroup 表格分组节点
	KindTGroup Kind = "tgroup"
	// KindTHead 表头节点
	KindTHead Kind = "thead"
	// KindTBody 表体节点
	KindTBody Kind = "tbody"
	// KindRow 表格行节点
	KindRow Kind = "row"
	// KindEntry 表格单元格节点
	KindEntry Kind = "entry"
	// KindNote 提示节点
	KindNote Kind = "note"
	// KindWarning 警告节点
	KindWarning Kind = "warning"
	// KindTip 技巧节点
	KindTip Kind = "tip"
	// KindDesc 域定义节点（声明语法）
	KindDesc Kind = "desc"
	// KindDescSignature 域定义的签名节点
	KindDescSignature Kind = "desc_signature"
	// KindSystemMessage 解析器系统消息节点
	KindSystemMessage Kind = "system_message"
	// KindComment 注释节点
	KindComment Kind = "comment"
	// KindIndex 索引节点
	KindIndex Kind = "index"
	// KindProductionList 语法产生式列表节点
	KindProductionList Kind = "production_list"
	// KindOther 其他未识别类型
	KindOther Kind = "other"
)

// knownKinds 已注册的节点类型集合
var knownKinds = map[Kind]bool{
	KindSection: true, KindTitle: true, KindParagraph: true,
	KindLiteralBlock: true, KindBulletList: true, KindListItem: true,
	KindTable: true, KindTGroup: true, KindTHead: true, KindTBody: true,
	KindRow: true, KindEntry: true, KindNote: true, KindWarning: true,
	KindTip: true, KindDesc: true, KindDescSignature: true,
	KindSystemMessage: true, KindComment: true, KindIndex: true,
	KindProductionList: true, KindOther: true,
}

// Node 解析树的一个节点
// 由树解析器（Sphinx边车服务或本地Markdown解析器）产出，转换器只读取不修改
type Node struct {
	Kind     Kind    `json:"kind"`               // 节点类型
	Raw      string  `json:"text,omitempty"`     // 叶子节点的原始文本
	Language string  `json:"language,omitempty"` // 代码块声明的语言
	ObjType  string  `json:"objtype,omitempty"`  // 域定义声明的对象类型
	Source   string  `json:"source,omitempty"`   // 节点来源文件路径
	Children []*Node `json:"children,omitempty"` // 有序子节点
}

// UnmarshalJSON 自定义反序列化，将未注册的节点类型归一化为KindOther
func (n *Node) UnmarshalJSON(data []byte) error {
	type alias Node
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*n = Node(a)
	if n.Kind == "" {
		return fmt.Errorf("doctree: node missing kind")
	}
	if !knownKinds[n.Kind] {
		n.Kind = KindOther
	}
	return nil
}

// Text 重建节点子树的完整文本
// 叶子节点返回自身文本，容器节点按文档顺序拼接子节点文本
func (n *Node) Text() string {
	if len(n.Children) == 0 {
		return n.Raw
	}

	var parts []string
	if n.Raw != "" {
		parts = append(parts, n.Raw)
	}
	for _, child := range n.Children {
		// 被剪除的节点不贡献文本
		if child.Kind == KindSystemMessage || child.Kind == KindComment ||
			child.Kind == KindIndex || child.Kind == KindProductionList {
			continue
		}
		if t := child.Text(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// DirectChild 返回第一个指定类型的直接子节点，不下探孙节点
// 找不到时返回nil
func (n *Node) DirectChild(kind Kind) *Node {
	for _, child := range n.Children {
		if child.Kind == kind {
			return child
		}
	}
	return nil
}

// FirstChild 返回第一个指定类型的直接或间接子节点
// 按深度优先顺序查找，找不到时返回nil
func (n *Node) FirstChild(kind Kind) *Node {
	for _, child := range n.Children {
		if child.Kind == kind {
			return child
		}
		if found := child.FirstChild(kind); found != nil {
			return found
		}
	}
	return nil
}

// FindAll 按深度优先顺序收集所有指定类型的子节点
func (n *Node) FindAll(kind Kind) []*Node {
	var result []*Node
	for _, child := range n.Children {
		if child.Kind == kind {
			result = append(result, child)
		}
		result = append(result, child.FindAll(kind)...)
	}
	return result
}

// Decode 从Reader解析序列化的文档树
func Decode(r io.Reader) (*Node, error) {
	var root Node
	dec := json.NewDecoder(r)
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("doctree: failed to decode node tree: %w", err)
	}
	return &root, nil
}

// Load 从文件加载序列化的文档树
func Load(path string) (*Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("doctree: failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}
