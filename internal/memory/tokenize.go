package memory

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"的", "了", "在", "是", "我", "有", "和", "就", "不", "人", "都", "一", "一个", "上", "也", "很", "到", "说", "要", "去", "你", "会", "着", "没有", "看", "好", "自己", "这",
		"the", "a", "an", "is", "are", "was", "were", "be", "have", "has", "had", "do", "does", "did", "will", "would", "could", "should", "may", "might", "must",
	} {
		stopWords[w] = struct{}{}
	}
}

func isCJK(r rune) bool {
	return r >= 0x4e00 && r <= 0x9fa5
}

func isLatinOrDigit(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// Tokenize 将文本切分为检索用的词项，保留重复以便计算词频。
// 拉丁字母与数字按连续片段转小写，中文连续片段同时输出单字与双字组合，停用词会被丢弃。
func Tokenize(text string) []string {
	var tokens []string
	emit := func(token string) {
		if token == "" {
			return
		}
		if _, stop := stopWords[token]; stop {
			return
		}
		tokens = append(tokens, token)
	}

	runes := []rune(text)
	for i := 0; i < len(runes); {
		switch r := runes[i]; {
		case isLatinOrDigit(r):
			j := i
			for j < len(runes) && isLatinOrDigit(runes[j]) {
				j++
			}
			emit(strings.ToLower(string(runes[i:j])))
			i = j
		case isCJK(r):
			j := i
			for j < len(runes) && isCJK(runes[j]) {
				j++
			}
			run := runes[i:j]
			for k := range run {
				emit(string(run[k]))
			}
			for k := 0; k+1 < len(run); k++ {
				emit(string(run[k : k+2]))
			}
			i = j
		default:
			i++
		}
	}
	return tokens
}

// uniqueTokens 返回去重后的词项，保持首次出现顺序。
func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
