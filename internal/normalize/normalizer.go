package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyerfyer/doc-rag-ingest/internal/transform"
)

// Strategy 扁平化策略
type Strategy string

const (
	// PerBlock 每个(章节路径, 块)对产出一个Chunk
	PerBlock Strategy = "per_block"
	// PerSection 每个章节合并其直属块产出一个Chunk
	PerSection Strategy = "per_section"
)

// Chunk 扁平化、限长后的入库单元
// 向量在嵌入阶段补充，缺失或维度错误的向量由入库方过滤
type Chunk struct {
	DocPath      string // 文档标识（源文件相对路径）
	DocTitle     string // 文档展示标题
	DocVersion   string // 文档集版本号
	Section      string // 章节路径（祖先标题链拼接）
	ContentType  string // 内容类型标签
	RawContent   string // 原始内容，按字节限长
	CleanContent string // 嵌入用内容，按字符限长并受存储字节上限约束
	UpdateTime   int64  // 产出时间戳（秒）
}

// Config 归一化器配置
type Config struct {
	Strategy      Strategy // 扁平化策略
	MaxRawBytes   int      // 原始内容的字节上限
	MaxCleanBytes int      // 嵌入内容的存储字节上限
	MaxEmbedChars int      // 嵌入输入的字符上限
	MergeMaxChars int      // 章节合并文本的硬上限（字符），高于单块存储上限的安全阀
	SectionSep    string   // 章节路径拼接符
}

// DefaultConfig 返回默认归一化配置
// 上限取值与向量库字段长度约束对齐
func DefaultConfig() Config {
	return Config{
		Strategy:      PerBlock,
		MaxRawBytes:   8000,
		MaxCleanBytes: 10000,
		MaxEmbedChars: 6000,
		MergeMaxChars: 10000,
		SectionSep:    " / ",
	}
}

// Normalizer 将Section/Block树拍平为限长Chunk
// 对任意输入都不会出错：截断回退中无法解码的尾部字节被静默丢弃
type Normalizer struct {
	cfg Config
}

// NewNormalizer 创建归一化器
func NewNormalizer(cfg Config) *Normalizer {
	if cfg.Strategy == "" {
		cfg.Strategy = PerBlock
	}
	if cfg.SectionSep == "" {
		cfg.SectionSep = " / "
	}
	if cfg.MaxRawBytes <= 0 {
		cfg.MaxRawBytes = 8000
	}
	if cfg.MaxCleanBytes <= 0 {
		cfg.MaxCleanBytes = 10000
	}
	if cfg.MaxEmbedChars <= 0 {
		cfg.MaxEmbedChars = 6000
	}
	if cfg.MergeMaxChars <= 0 {
		cfg.MergeMaxChars = 10000
	}
	return &Normalizer{cfg: cfg}
}

// Flatten 将一个Document拍平为Chunk序列
// 清洗后内容为空的Chunk被丢弃：它们不携带可检索信号
func (n *Normalizer) Flatten(doc *transform.Document) []Chunk {
	if doc == nil {
		return nil
	}

	now := time.Now().Unix()
	var chunks []Chunk

	switch n.cfg.Strategy {
	case PerSection:
		n.flattenSections(doc, doc.Sections, nil, now, &chunks)
	default:
		n.flattenBlocks(doc, doc.Sections, nil, now, &chunks)
	}
	return chunks
}

// flattenBlocks 逐块策略：递归展开章节树，每块产出一个Chunk
func (n *Normalizer) flattenBlocks(doc *transform.Document, sections []*transform.Section, parents []string, now int64, out *[]Chunk) {
	for _, sec := range sections {
		titles := appendTitle(parents, sec.Title)
		path := n.sectionPath(titles, doc.Title)

		for _, block := range sec.Blocks {
			raw := blockContent(block)
			if c, ok := n.buildChunk(doc, path, string(block.Type), raw, now); ok {
				*out = append(*out, c)
			}
		}
		n.flattenBlocks(doc, sec.Subsections, titles, now, out)
	}
}

// flattenSections 章节合并策略：每个章节的直属块合并为一个Chunk
func (n *Normalizer) flattenSections(doc *transform.Document, sections []*transform.Section, parents []string, now int64, out *[]Chunk) {
	for _, sec := range sections {
		titles := appendTitle(parents, sec.Title)
		path := n.sectionPath(titles, doc.Title)

		var parts []string
		for _, block := range sec.Blocks {
			if content := blockContent(block); content != "" {
				parts = append(parts, content)
			}
		}
		if len(parts) > 0 {
			merged := strings.Join(parts, "\n\n")
			// 合并文本先过安全阀硬切，再走常规截断
			merged = TruncateChars(merged, n.cfg.MergeMaxChars)
			if c, ok := n.buildChunk(doc, path, "section", merged, now); ok {
				*out = append(*out, c)
			}
		}
		n.flattenSections(doc, sec.Subsections, titles, now, out)
	}
}

// buildChunk 构建单个Chunk并应用清洗与截断策略
// 返回false表示该块清洗后无内容，应当丢弃
func (n *Normalizer) buildChunk(doc *transform.Document, path, contentType, raw string, now int64) (Chunk, bool) {
	// 嵌入内容先按字符截断，再按存储字节上限兜底
	clean := TruncateBytes(TruncateChars(Sanitize(raw), n.cfg.MaxEmbedChars), n.cfg.MaxCleanBytes)
	if clean == "" {
		return Chunk{}, false
	}

	return Chunk{
		DocPath:      doc.DocID,
		DocTitle:     doc.Title,
		DocVersion:   doc.Version,
		Section:      path,
		ContentType:  contentType,
		RawContent:   TruncateBytes(Sanitize(raw), n.cfg.MaxRawBytes),
		CleanContent: clean,
		UpdateTime:   now,
	}, true
}

// sectionPath 拼接章节路径，空标题段被跳过；整条为空时回退为文档标题
func (n *Normalizer) sectionPath(titles []string, docTitle string) string {
	var kept []string
	for _, t := range titles {
		if t != "" {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return docTitle
	}
	return strings.Join(kept, n.cfg.SectionSep)
}

// blockContent 返回块参与扁平化的文本表示，代码块带围栏和语言标签
func blockContent(b transform.Block) string {
	if b.Type == transform.BlockCode {
		return fmt.Sprintf("```%s\n%s\n```", b.Language, b.Code)
	}
	return b.Text
}

// appendTitle 复制并追加标题，避免共享底层数组
func appendTitle(parents []string, title string) []string {
	out := make([]string, 0, len(parents)+1)
	out = append(out, parents...)
	if title != "" {
		out = append(out, title)
	}
	return out
}
