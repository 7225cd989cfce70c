package document

import (
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/fyerfyer/doc-rag-ingest/internal/doctree"
)

// Parser 文档解析器接口
// 负责将不同格式的输入解析为统一的节点树
type Parser interface {
	// Parse 解析文档文件，返回节点树
	Parse(filePath string) (*doctree.Node, error)

	// ParseReader 从Reader解析文档，filename用于确定文档类型和来源标注
	ParseReader(r io.Reader, filename string) (*doctree.Node, error)
}

// ContentType 表示文档的内容类型
type ContentType string

const (
	// Markdown Markdown文档（扁平化产物回灌）
	Markdown ContentType = "markdown"
	// DocTreeJSON 预导出的序列化doctree
	DocTreeJSON ContentType = "doctree_json"
	// Unknown 未知类型
	Unknown ContentType = "unknown"
)

// ParserFactory 根据文件类型创建对应的解析器
// rst文件不在此处处理：它们经由Sphinx边车服务解析
func ParserFactory(filePath string) (Parser, error) {
	switch detectContentType(filePath) {
	case Markdown:
		return NewMarkdownParser(), nil
	case DocTreeJSON:
		return NewDocTreeJSONParser(), nil
	default:
		return nil, errors.New("unsupported document type")
	}
}

// detectContentType 根据文件扩展名检测内容类型
func detectContentType(filePath string) ContentType {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".md", ".markdown":
		return Markdown
	case ".json":
		return DocTreeJSON
	default:
		return Unknown
	}
}

// DocTreeJSONParser 加载预导出的序列化doctree文件
type DocTreeJSONParser struct{}

// NewDocTreeJSONParser 创建doctree JSON解析器
func NewDocTreeJSONParser() Parser {
	return &DocTreeJSONParser{}
}

// Parse 从文件加载节点树
func (p *DocTreeJSONParser) Parse(filePath string) (*doctree.Node, error) {
	return doctree.Load(filePath)
}

// ParseReader 从Reader加载节点树
func (p *DocTreeJSONParser) ParseReader(r io.Reader, filename string) (*doctree.Node, error) {
	return doctree.Decode(r)
}
