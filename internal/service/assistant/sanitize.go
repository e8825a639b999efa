package assistant

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// 【4:0†source】 形式的全角引用标记
	fullWidthCitation = regexp.MustCompile(`【.*?】`)
	// [1]、[note 2]、[ref: x] 形式的脚注
	referenceToken = regexp.MustCompile(`(?i)\[(\d+|note|ref).*?\]`)
)

const citationDagger = "†"

// Sanitize 去除助手回复中的引用标记并裁剪首尾空白。结果是去标记操作的不动点，
// 因此对结果再次调用 Sanitize 不会产生变化。
func Sanitize(raw string) string {
	text := raw
	for {
		next := stripCitations(text)
		if next == text {
			break
		}
		text = next
	}
	return strings.TrimSpace(text)
}

func stripCitations(s string) string {
	s = removeMarkers(s, fullWidthCitation)
	s = strings.ReplaceAll(s, citationDagger, "")
	return removeMarkers(s, referenceToken)
}

// removeMarkers 删除匹配的标记；标记两侧都是字母或数字时留下一个空格，避免单词粘连。
func removeMarkers(s string, re *regexp.Regexp) string {
	matches := re.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		if joinsWords(b.String(), s[m[1]:]) {
			b.WriteByte(' ')
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

func joinsWords(before, after string) bool {
	prev, _ := utf8.DecodeLastRuneInString(before)
	next, _ := utf8.DecodeRuneInString(after)
	return isWordRune(prev) && isWordRune(next)
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
