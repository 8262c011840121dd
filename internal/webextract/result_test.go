package webextract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	assert.Equal(t, "", Summarize(nil))

	got := Summarize([]Outcome{
		{URL: "https://a.com/", OK: true, Mode: ModeStatic, TextLength: 400},
		{URL: "https://b.com/", ErrorCode: CodeNetwork},
		{URL: "https://c.com/"},
	})
	assert.Equal(t, "OK(static,len=400) | FAIL(NETWORK) | FAIL(UNKNOWN)", got)
}

func TestResultOutcome(t *testing.T) {
	ok := success("https://a.com/", "https://a.com/final", ModeDynamic, "t", "正文内容")
	o := ok.Outcome("https://a.com/")
	assert.True(t, o.OK)
	assert.Equal(t, 4, o.TextLength)
	assert.Equal(t, "https://a.com/final", o.FinalURL)
	assert.NoError(t, ok.Err())

	failed := failure(CodeNetwork, "页面请求失败: HTTP 500", "https://b.com/", ModeStatic).Outcome("https://b.com/")
	assert.False(t, failed.OK)
	assert.Equal(t, CodeNetwork, failed.ErrorCode)
	assert.Equal(t, "页面请求失败: HTTP 500", failed.Message)
}
