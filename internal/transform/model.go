package transform

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
)

// BlockType 内容块类型
type BlockType string

const (
	// BlockText 普通文本块
	BlockText BlockType = "text"
	// BlockCode 代码块
	BlockCode BlockType = "code"
	// BlockTable 表格块
	BlockTable BlockType = "table"
	// BlockNote 提示块
	BlockNote BlockType = "note"
	// BlockWarning 警告块
	BlockWarning BlockType = "warning"
	// BlockTip 技巧块
	BlockTip BlockType = "tip"
	// BlockSymbol 域定义符号块
	BlockSymbol BlockType = "symbol"
)

// Document 单个源文件转换后的顶层输出单元
// 一棵解析树产出一个Document，整体在内存中构建后序列化
type Document struct {
	DocID    string     `json:"doc_id"`   // 文档标识（源文件相对路径）
	Version  string     `json:"version"`  // 文档集版本号
	Title    string     `json:"title"`    // 展示标题（树中第一个标题，缺失时回退为DocID）
	Sections []*Section `json:"sections"` // 顶层章节列表
	Symbols  []Symbol   `json:"symbols"`  // 符号记录（深度优先发现顺序）
}

// Section 一个标题层级的内容分组，可嵌套
type Section struct {
	SectionID   string     `json:"section_id"`  // 稳定标识，由文档名+祖先标题链+自身标题哈希得到
	Title       string     `json:"title"`       // 章节标题
	Blocks      []Block    `json:"blocks"`      // 本章节直属内容块，保持文档顺序
	Subsections []*Section `json:"subsections"` // 子章节，保持文档顺序
}

// Block 章节内的叶子内容单元
// 一个Block只属于一个Section
type Block struct {
	BlockID  string    `json:"block_id"`           // 内容哈希标识
	Type     BlockType `json:"type"`               // 块类型
	Text     string    `json:"text,omitempty"`     // 文本内容（text/table/note/warning/tip/symbol）
	Language string    `json:"language,omitempty"` // 代码语言标签（仅code）
	Code     string    `json:"code,omitempty"`     // 代码内容（仅code）
}

// Content 返回块的有效内容，代码块取Code，其余取Text
func (b Block) Content() string {
	if b.Type == BlockCode {
		return b.Code
	}
	return b.Text
}

// Symbol 域定义声明的结构化记录
// 与对应的symbol块内容重复是有意设计：块用于切片检索，符号用于结构化查询
type Symbol struct {
	SymbolID   string `json:"symbol_id"`   // 内容哈希标识
	SymbolType string `json:"symbol_type"` // 声明的对象类型
	Text       string `json:"text"`        // 签名原文
	Doc        string `json:"doc"`         // 所属文档标识
	Section    string `json:"section"`     // 定义处的祖先章节标题链
}

// shortHashLen 短哈希长度（十六进制字符数）
const shortHashLen = 12

// ShortHash 返回文本md5哈希的前12个十六进制字符
// 用于生成章节、块和符号的稳定标识
func ShortHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])[:shortHashLen]
}

// WriteJSON 将一组Document序列化为JSON数组写入Writer
// 这是转换阶段与后续入库阶段之间的交接格式
func WriteJSON(w io.Writer, docs []*Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(docs)
}

// ReadJSON 从Reader读取序列化的Document数组
func ReadJSON(r io.Reader) ([]*Document, error) {
	var docs []*Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&docs); err != nil {
		return nil, err
	}
	return docs, nil
}
