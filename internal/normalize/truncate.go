package normalize

import (
	"strings"
	"unicode/utf8"
)

// Sanitize 归一化文本：剔除NULL字符并去掉首尾空白
// 任何输入都不会出错，长度度量之前必须先经过这里
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}

// TruncateBytes 按字节上限截断文本
// 先在字节边界切断，再逐字节回退直到剩余序列是合法UTF-8，
// 保证截断不会留下损坏的多字节字符；结果是原文按完整字符保留的前缀
func TruncateBytes(text string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(text) <= maxBytes {
		return text
	}

	cut := text[:maxBytes]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// TruncateChars 按字符上限截断文本，尽量保留完整段落
// 文本按空行分段后贪心取整段前缀；单个段落独自超限时退化为按字符硬切
func TruncateChars(text string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) > 1 {
		var b strings.Builder
		count := 0
		for _, p := range paragraphs {
			pLen := utf8.RuneCountInString(p)
			sep := 0
			if b.Len() > 0 {
				sep = 2 // 段落间的空行
			}
			if count+sep+pLen > maxChars {
				break
			}
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(p)
			count += sep + pLen
		}
		if b.Len() > 0 {
			return b.String()
		}
		// 第一个段落已经超限，落到硬切
	}

	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxChars]))
}

// splitParagraphs 按空行分段并过滤空段
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n\n")

	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
