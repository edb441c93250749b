package service

import (
	"regexp"
	"strings"
	"unicode"
)

// PlaceholderTranscript 识别失败时写入的占位转写
const PlaceholderTranscript = "."

var multiSpace = regexp.MustCompile(`\s+`)

// IsUsableTranscript 非空且不是单纯的标点占位
func IsUsableTranscript(t string) bool {
	t = strings.TrimSpace(t)
	if t == "" {
		return false
	}
	for _, r := range t {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) && !unicode.IsSpace(r) {
			return true
		}
	}
	return false
}

// WordCount 按空白切分的词数，占位转写记为 0
func WordCount(t string) int {
	if !IsUsableTranscript(t) {
		return 0
	}
	return len(strings.Fields(t))
}

// NormalizeReferenceText 小写、去标点、合并空白，作为发音评估的对齐文本
func NormalizeReferenceText(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) && r != '\'' {
			return ' '
		}
		return r
	}, lower)
	return strings.TrimSpace(multiSpace.ReplaceAllString(cleaned, " "))
}

// joinSegments 拼接识别片段
func joinSegments(segments []string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
