package chunker

import (
	"unicode"
	"unicode/utf8"
)

// span 是一个 token 在原文中的字节区间 [start, end)。
type span struct {
	start int
	end   int
}

// tokenize 把文本切成 token：连续的非空白字符算一个 token，
// 中日韩字符每个字单独算一个 token。
func tokenize(text string) []span {
	spans := make([]span, 0, len(text)/5+1)
	start := -1
	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			if start >= 0 {
				spans = append(spans, span{start, i})
				start = -1
			}
		case isCJK(r):
			if start >= 0 {
				spans = append(spans, span{start, i})
				start = -1
			}
			spans = append(spans, span{i, i + utf8.RuneLen(r)})
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if start >= 0 {
		spans = append(spans, span{start, len(text)})
	}
	return spans
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// CountTokens 返回文本的 token 数，与分块时使用的计数规则一致。
func CountTokens(text string) int {
	return len(tokenize(text))
}
