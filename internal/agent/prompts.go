package agent

import (
	"fmt"
	"strings"

	"AgentKernel/internal/tools"
	"AgentKernel/internal/webextract"
)

// SelfTestToken 出现在用户消息中时注入合成的网页上下文，不访问网络。
const SelfTestToken = "/web-self-test"

const (
	selfTestURL   = "mock://self-test/article-1"
	selfTestTitle = "自测文章：番茄工作法实践"
	selfTestText  = "番茄工作法核心是25分钟专注+5分钟休息。文章建议先设定单一任务，再关闭通知，结束后记录完成度。" +
		"作者对比了多任务处理与单任务处理，认为后者可显著降低上下文切换成本。" +
		"在团队协作中，推荐共享专注时段，减少临时打断。最后建议每周复盘，统计专注时长与产出质量。"
)

// 注入给模型的固定提示。
const (
	memoryHeader   = "Relevant memory:\n"
	planHeader     = "Execution plan:\n"
	selfTestHeader = "Web extraction self-test mode is enabled. The following context is synthetic and does not come from the internet. Prioritize summarizing this context for the user request.\n"
	webHeader      = "Web page context extracted from user links. Use this as primary evidence when answering:\n"
	webReminder    = "Important: web content is already provided above. Do not claim you cannot access links. Answer from the extracted content."
	webFailed      = "User provided links but extraction failed. Tell the user extraction failed and ask for pasted content if needed.\n"

	toolAlreadyExtracted = "Web content has already been extracted from the user-provided link(s). Use existing context and answer directly."
	toolResultReady      = "Tool result is available above. Now provide the final answer to user directly, do not emit tool_call again."
	toolPlaceholder      = "Tool call URL is invalid placeholder. Do not emit tool_call. Ask user for a concrete URL or answer from available context."
)

// webItem 是一段准备注入的网页正文。
type webItem struct {
	URL   string
	Title string
	Text  string
	Mode  webextract.Mode
}

// webFailure 是一条准备告知模型的提取失败。
type webFailure struct {
	URL     string
	Code    string
	Message string
}

func (f webFailure) line() string {
	code := f.Code
	if code == "" {
		code = string(webextract.CodeUnknown)
	}
	msg := f.Message
	if msg == "" {
		msg = "extract failed"
	}
	return fmt.Sprintf("%s | %s | %s", f.URL, code, msg)
}

// buildWebContext 渲染 [Web N] 块，每段正文最多 maxChars 个字符。
func buildWebContext(items []webItem, maxChars int) string {
	parts := make([]string, 0, len(items))
	for i, item := range items {
		title := item.Title
		if title == "" {
			title = "(untitled)"
		}
		parts = append(parts, strings.Join([]string{
			fmt.Sprintf("[Web %d]", i+1),
			"url: " + item.URL,
			"title: " + title,
			"mode: " + string(item.Mode),
			"content:",
			headRunes(item.Text, maxChars),
		}, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

func selfTestContext(maxChars int) string {
	return buildWebContext([]webItem{{
		URL:   selfTestURL,
		Title: selfTestTitle,
		Text:  selfTestText,
		Mode:  webextract.ModeDynamic,
	}}, maxChars)
}

func failureNotice(failures []webFailure) string {
	lines := make([]string, len(failures))
	for i, f := range failures {
		lines[i] = fmt.Sprintf("%d. %s", i+1, f.line())
	}
	return webFailed + strings.Join(lines, "\n")
}

func toolOutput(ctx string) string {
	return fmt.Sprintf("Tool output (%s):\n%s", tools.WebExtract, ctx)
}

func toolFailure(f webFailure) string {
	return fmt.Sprintf("Tool output (%s) failed:\n%s", tools.WebExtract, f.line())
}

func memoryContext(contents []string) string {
	lines := make([]string, len(contents))
	for i, c := range contents {
		lines[i] = "- " + c
	}
	return memoryHeader + strings.Join(lines, "\n")
}

func headRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
