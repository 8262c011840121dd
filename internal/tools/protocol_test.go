package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallPrompt(t *testing.T) {
	lines := strings.Split(CallPrompt, "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "Available tool: web.extract", lines[1])
	assert.Equal(t, `<tool_call>{"name":"web.extract","arguments":{"url":"https://..."}}</tool_call>`, lines[5])
}

func TestParseCall(t *testing.T) {
	cases := []struct {
		name    string
		content string
		status  ParseStatus
		tool    string
		url     string
	}{
		{"plain answer", "Here is the summary.", NoMatch, "", ""},
		{"empty tag", "<tool_call>  </tool_call>", NoMatch, "", ""},
		{"valid", `<tool_call>{"name":"web.extract","arguments":{"url":" https://a.com/x "}}</tool_call>`, Valid, "web.extract", "https://a.com/x"},
		{"case insensitive multiline", "<TOOL_CALL>\n{\"name\":\"web.extract\",\"arguments\":{\"url\":\"https://a.com\"}}\n</Tool_Call>", Valid, "web.extract", "https://a.com"},
		{"other tool", `<tool_call>{"name":"shell.exec","arguments":{}}</tool_call>`, Valid, "shell.exec", ""},
		{"not json", `<tool_call>web.extract https://a.com</tool_call>`, Malformed, "", ""},
		{"missing arguments", `<tool_call>{"name":"web.extract"}</tool_call>`, Malformed, "", ""},
		{"null arguments", `<tool_call>{"name":"web.extract","arguments":null}</tool_call>`, Malformed, "", ""},
		{"array arguments", `<tool_call>{"name":"web.extract","arguments":["x"]}</tool_call>`, Malformed, "", ""},
		{"numeric name", `<tool_call>{"name":1,"arguments":{}}</tool_call>`, Malformed, "", ""},
		{"null name", `<tool_call>{"name":null,"arguments":{}}</tool_call>`, Malformed, "", ""},
		{"json array", `<tool_call>[1,2]</tool_call>`, Malformed, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			call, status := ParseCall(tc.content)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.tool, call.Name)
			assert.Equal(t, tc.url, call.URL())
		})
	}
}

func TestIsPlaceholderURL(t *testing.T) {
	for _, u := range []string{"", "https://...", "HTTP://...", "https://example.com/a", "https://www.EXAMPLE.com", "{url}", " {URL} ", "https://site/<url>", "<URL>", "...", "…", "https://…"} {
		assert.True(t, IsPlaceholderURL(u), u)
	}
	for _, u := range []string{"https://go.dev/doc", "https://mp.weixin.qq.com/s/abc"} {
		assert.False(t, IsPlaceholderURL(u), u)
	}
}

func TestResolveCallURL(t *testing.T) {
	got, ok := ResolveCallURL(Call{Name: WebExtract, Arguments: map[string]any{"url": "请看 https://go.dev/doc。"}})
	require.True(t, ok)
	assert.Equal(t, "https://go.dev/doc", got)

	got, ok = ResolveCallURL(Call{Name: WebExtract, Arguments: map[string]any{"url": "go.dev/blog"}})
	require.True(t, ok)
	assert.Equal(t, "https://go.dev/blog", got)

	for _, bad := range []any{"https://...", "http://...", "https://。。。", "{url}", "<url>", "https://example.com/page", "", 42, nil} {
		_, ok := ResolveCallURL(Call{Name: WebExtract, Arguments: map[string]any{"url": bad}})
		assert.False(t, ok, bad)
	}
}
