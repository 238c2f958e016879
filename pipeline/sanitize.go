package pipeline

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxTextLength 清洗后文本的最大长度（按字符计）
const MaxTextLength = 2000

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Sanitize 清洗一段用户输入文本，分类和训练共用同一份逻辑。
// 步骤：去除控制字符 -> NFKC 归一化 -> 反复去除 HTML 标签 -> 再次归一化
// -> 合并空白 -> 截断到 MaxTextLength。结果对再次调用保持不变。
func Sanitize(s string) string {
	if s == "" {
		return ""
	}

	s = stripControl(s)
	s = norm.NFKC.String(s)

	// 反复替换直到没有可匹配的标签
	for {
		stripped := tagPattern.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	// 去标签可能让组合字符与前一个字符相邻
	s = norm.NFKC.String(s)

	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > MaxTextLength {
		s = strings.TrimSpace(string([]rune(s)[:MaxTextLength]))
	}
	return s
}

// stripControl 去除 Cc/Cf 类字符，空白类控制字符替换为空格
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == utf8.RuneError:
			return -1
		case unicode.IsSpace(r):
			return ' '
		case unicode.Is(unicode.Cc, r), unicode.Is(unicode.Cf, r):
			return -1
		default:
			return r
		}
	}, s)
}
