package webextract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const samplePage = `<!doctype html>
<html><head><title> 标题 &amp; 副题 </title><style>.x{color:red}</style></head>
<body>
<nav>菜单</nav>
<p>第一段&amp;内容</p>
<script>var a = "<p>fake</p>";</script>
<div>第二段<br>换行</div>
<input type="text" value="ignored">
<footer>页脚</footer>
<p>尾段&nbsp;结束</p>
</body></html>`

func TestParseHTML(t *testing.T) {
	title, text := ParseHTML(strings.NewReader(samplePage), 1000)

	assert.Equal(t, "标题 & 副题", title)
	assert.Contains(t, text, "第一段&内容")
	assert.Contains(t, text, "第二段\n换行")
	assert.Contains(t, text, "尾段 结束")
	for _, hidden := range []string{"菜单", "var a", "fake", "页脚", "color:red", "ignored"} {
		assert.NotContains(t, text, hidden)
	}
	assert.Equal(t, text, strings.TrimSpace(text))
}

func TestParseHTMLTruncates(t *testing.T) {
	_, text := ParseHTML(strings.NewReader("<p>"+strings.Repeat("字", 50)+"</p>"), 10)
	assert.Equal(t, strings.Repeat("字", 10), text)
}

func TestNormalizeText(t *testing.T) {
	got := NormalizeText("  a\t\t b c\n\n\n\n\nd  ", 100)
	assert.Equal(t, "a b c\n\nd", got)
}

func TestIsGoodEnough(t *testing.T) {
	long := strings.Repeat("正文", 500)
	assert.True(t, isGoodEnough(long, 800))
	assert.False(t, isGoodEnough("short", 800))
	assert.False(t, isGoodEnough(long+" Please enable JavaScript to continue", 800))
	assert.False(t, isGoodEnough(long+" please turn JavaScript on", 800))
}
