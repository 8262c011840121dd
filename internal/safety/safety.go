// Package safety detects prompt-injection attempts in user input and redacts
// secret-like tokens from model output.
package safety

import "regexp"

// RefusalMessage 是检测到注入时返回给用户的固定文案。
const RefusalMessage = "Request blocked by safety policy. Please rephrase without system-instruction manipulation."

// RedactionMarker 替换被识别为密钥的片段。
const RedactionMarker = "[REDACTED]"

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+all\s+previous\s+instructions`),
	regexp.MustCompile(`(?i)reveal\s+system\s+prompt`),
	regexp.MustCompile(`(?i)developer\s+message`),
	regexp.MustCompile(`(?i)bypass\s+safety`),
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[a-zA-Z0-9]{16,}`),
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*[a-zA-Z0-9\-_]+`),
}

// IsPromptInjection 判断文本是否命中任一注入模式。
func IsPromptInjection(text string) bool {
	for _, pattern := range injectionPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// SanitizeOutput 将疑似密钥的片段替换为 RedactionMarker。
func SanitizeOutput(text string) string {
	for _, pattern := range secretPatterns {
		text = pattern.ReplaceAllLiteralString(text, RedactionMarker)
	}
	return text
}
