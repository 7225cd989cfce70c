package source

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// toctree条目的宽松匹配：缩进行内第一个路径样式的token
var toctreeEntryPattern = regexp.MustCompile(`^\s+([a-zA-Z0-9_\-/.]+)\s*$`)

// Walker 按toctree引用顺序发现文档树中的所有.rst文件
// 从根index.rst出发深度优先展开，访问过的文件去重
type Walker struct {
	docRoot string
	visited map[string]bool
	ordered []string
	logger  *logrus.Logger
}

// NewWalker 创建文档发现器，docRoot是包含根index.rst的目录
func NewWalker(docRoot string, logger *logrus.Logger) (*Walker, error) {
	abs, err := filepath.Abs(docRoot)
	if err != nil {
		return nil, fmt.Errorf("source: failed to resolve doc root: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Walker{
		docRoot: abs,
		visited: make(map[string]bool),
		logger:  logger,
	}, nil
}

// Walk 执行发现，返回按解析顺序排列的文件绝对路径列表
func (w *Walker) Walk() ([]string, error) {
	root := filepath.Join(w.docRoot, "index.rst")
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("source: root index not found: %w", err)
	}

	w.walkFile(root)
	return w.ordered, nil
}

// RelPath 将发现的绝对路径转换为相对文档根的标识路径（正斜杠）
func (w *Walker) RelPath(absPath string) string {
	rel, err := filepath.Rel(w.docRoot, absPath)
	if err != nil {
		return filepath.Base(absPath)
	}
	return filepath.ToSlash(rel)
}

// walkFile 递归处理一个rst文件及其toctree引用
func (w *Walker) walkFile(path string) {
	if w.visited[path] {
		return
	}
	w.visited[path] = true
	w.ordered = append(w.ordered, path)

	content, err := os.ReadFile(path)
	if err != nil {
		w.logger.WithError(err).WithField("file", path).Warn("Failed to read rst file")
		return
	}

	entries := extractToctreeEntries(string(content))
	if len(entries) == 0 {
		// 兜底：没有toctree时检查子目录里的index.rst
		w.walkChildIndexes(path)
		return
	}

	for _, entry := range entries {
		target := w.resolveEntry(path, entry)
		if target == "" {
			w.logger.WithFields(logrus.Fields{
				"file":  path,
				"entry": entry,
			}).Debug("Toctree entry does not resolve to a file")
			continue
		}
		w.walkFile(target)
	}
}

// walkChildIndexes 扫描当前文件所在目录的子目录index.rst
func (w *Walker) walkChildIndexes(path string) {
	dir := filepath.Dir(path)
	items, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	// ReadDir已排序，这里保留确定性顺序
	sort.Slice(items, func(i, j int) bool { return items[i].Name() < items[j].Name() })
	for _, item := range items {
		if !item.IsDir() {
			continue
		}
		sub := filepath.Join(dir, item.Name(), "index.rst")
		if _, err := os.Stat(sub); err == nil && !w.visited[sub] {
			w.walkFile(sub)
		}
	}
}

// resolveEntry 解析toctree条目为目标文件路径
// 依次尝试：entry.rst、entry/index.rst、带后缀的直接路径
func (w *Walker) resolveEntry(parent, entry string) string {
	parentDir := filepath.Dir(parent)
	clean := strings.TrimSuffix(strings.TrimSpace(entry), "/index")

	candidates := []string{
		filepath.Join(parentDir, clean+".rst"),
		filepath.Join(parentDir, clean, "index.rst"),
	}
	if strings.HasSuffix(entry, ".rst") {
		candidates = append(candidates, filepath.Join(parentDir, entry))
	}
	// 最后兜底：相对文档根拼接
	candidates = append(candidates,
		filepath.Join(w.docRoot, clean+".rst"),
		filepath.Join(w.docRoot, clean, "index.rst"))

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			abs, err := filepath.Abs(c)
			if err == nil {
				return abs
			}
		}
	}
	return ""
}

// extractToctreeEntries 提取rst内容中所有toctree块的条目
// 兼容任意选项格式：跳过":xxx:"选项行，遇到其他指令或顶格文本退出块
func extractToctreeEntries(content string) []string {
	var entries []string
	seen := make(map[string]bool)

	inToctree := false
	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, ".. toctree::") {
			inToctree = true
			continue
		}
		if !inToctree {
			continue
		}

		// 块内：空行和选项行保留在块中
		if stripped == "" || strings.HasPrefix(stripped, ":") {
			continue
		}
		// 其他指令或顶格内容结束当前块
		if strings.HasPrefix(stripped, ".. ") || !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			inToctree = false
			continue
		}

		if m := toctreeEntryPattern.FindStringSubmatch(line); m != nil {
			entry := m[1]
			if entry != "" && !strings.HasPrefix(entry, "#") && !seen[entry] {
				seen[entry] = true
				entries = append(entries, entry)
			}
		}
	}
	return entries
}
