package tools

import (
	"encoding/json"
	"regexp"
	"strings"

	"AgentKernel/internal/webextract"
)

// CallPrompt 告诉模型如何请求网页提取。
const CallPrompt = "You can call tools when needed.\n" +
	"Available tool: " + WebExtract + "\n" +
	"Tool schema:\n" +
	`{"name":"web.extract","arguments":{"url":"https://..."}}` + "\n" +
	"If you need to use the tool, respond with EXACTLY one line in this format:\n" +
	`<tool_call>{"name":"web.extract","arguments":{"url":"https://..."}}</tool_call>` + "\n" +
	"Do not include any extra text when emitting tool call."

var callPattern = regexp.MustCompile(`(?is)<tool_call>(.*?)</tool_call>`)

// ParseStatus 是解析模型输出的结果类别。
type ParseStatus int

const (
	// NoMatch 表示输出中没有工具调用标签。
	NoMatch ParseStatus = iota
	// Malformed 表示标签存在但内容不是合法的调用。
	Malformed
	// Valid 表示解析成功。
	Valid
)

func (s ParseStatus) String() string {
	switch s {
	case Malformed:
		return "malformed"
	case Valid:
		return "valid"
	default:
		return "no_match"
	}
}

// Call 是模型请求的一次工具调用。
type Call struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// URL 返回参数中的 url 字段，去除两端空白。
func (c Call) URL() string {
	v, _ := c.Arguments["url"].(string)
	return strings.TrimSpace(v)
}

// ParseCall 解析模型输出中的第一个工具调用标签。只有 Valid 时 Call 有意义。
func ParseCall(content string) (Call, ParseStatus) {
	m := callPattern.FindStringSubmatch(content)
	if len(m) < 2 || strings.TrimSpace(m[1]) == "" {
		return Call{}, NoMatch
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &payload); err != nil || payload == nil {
		return Call{}, Malformed
	}
	var call Call
	name := payload["name"]
	if len(name) == 0 || name[0] != '"' {
		return Call{}, Malformed
	}
	if err := json.Unmarshal(name, &call.Name); err != nil {
		return Call{}, Malformed
	}
	if err := json.Unmarshal(payload["arguments"], &call.Arguments); err != nil || call.Arguments == nil {
		return Call{}, Malformed
	}
	return call, Valid
}

// IsPlaceholderURL 判断模型给出的链接是否只是示例占位。
// 模板标记与省略号在清理前检查，清理会剥掉外层的花括号与尖括号。
func IsPlaceholderURL(u string) bool {
	raw := strings.ToLower(strings.TrimSpace(u))
	if raw == "..." || raw == "…" ||
		strings.Contains(raw, "{url}") ||
		strings.Contains(raw, "<url>") ||
		strings.Contains(raw, "://...") ||
		strings.Contains(raw, "://…") {
		return true
	}
	input := strings.ToLower(webextract.CleanRawURL(u))
	if input == "" {
		return true
	}
	return strings.Contains(input, "example.com")
}

// ResolveCallURL 对工具参数中的链接执行与用户消息相同的发现与规范化流程。
// 链接无效或为占位符时返回 false。
func ResolveCallURL(call Call) (string, bool) {
	raw := call.URL()
	if IsPlaceholderURL(raw) {
		return "", false
	}
	candidate := raw
	if found := webextract.ExtractURLs(raw, 1); len(found) > 0 {
		candidate = found[0]
	}
	normalized, ok := webextract.NormalizeCandidate(candidate)
	if !ok || IsPlaceholderURL(normalized) {
		return "", false
	}
	return normalized, true
}
