package webextract

import (
	"net"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxLinksPerMessage 是单条消息最多提取的链接数。
const MaxLinksPerMessage = 2

var (
	zeroWidth = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "")
	fullWidth = strings.NewReplacer("：", ":", "／", "/", "．", ".")

	urlPattern    = regexp.MustCompile(`(?i)https?://[^\s)\x{00A0}\x{3000}\x{2028}\x{2029}]+|www\.[^\s)\x{00A0}\x{3000}\x{2028}\x{2029}]+`)
	schemePrefix  = regexp.MustCompile(`(?i)^https?://`)
	wechatShort   = regexp.MustCompile(`(?i)^(?:https?://)?mp\.weixin\.qq\.com/s/([A-Za-z0-9_-]+)`)
	wechatHost    = regexp.MustCompile(`(?i)https?://mp\.weixin\.qq\.com/`)
	hostnameLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
)

const (
	leadingWrappers  = `"'“”‘’([{【《`
	trailingWrappers = `"'“”‘’)]}】》，。；：！？、`
)

// normalizeText 去除零宽字符并把全角冒号、斜杠、句点转为 ASCII。
func normalizeText(text string) string {
	return fullWidth.Replace(zeroWidth.Replace(text))
}

// CleanRawURL 清理候选链接两侧的引号、括号与标点。
func CleanRawURL(value string) string {
	value = strings.TrimSpace(normalizeText(value))
	value = strings.TrimLeft(value, leadingWrappers)
	value = strings.TrimRight(value, trailingWrappers)
	return strings.TrimSpace(value)
}

// NormalizeHTTPURL 在缺少协议时补全 https://，并要求协议为 http 或 https、主机名合法。
// 输出经过规范化，重复调用结果不变。
func NormalizeHTTPURL(value string) (string, bool) {
	if value == "" {
		return "", false
	}
	if !schemePrefix.MatchString(value) {
		value = "https://" + value
	}
	u, err := url.Parse(value)
	if err != nil {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Host = strings.ToLower(u.Host)
	if !validHost(u.Hostname()) {
		return "", false
	}
	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}
	return u.String(), true
}

func validHost(host string) bool {
	if host == "" {
		return false
	}
	if strings.Contains(host, ":") {
		return net.ParseIP(host) != nil
	}
	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if !hostnameLabel.MatchString(label) {
			return false
		}
	}
	return true
}

// NormalizeCandidate 先清理再规范化单个候选链接。
func NormalizeCandidate(value string) (string, bool) {
	return NormalizeHTTPURL(CleanRawURL(value))
}

// normalizeMatched 处理正文中匹配到的链接：公众号短链转为规范形式；
// 解析失败时逐个去掉末尾字符重试，以剥离紧贴在链接后的文字。
func normalizeMatched(value string) (string, bool) {
	candidate := CleanRawURL(value)
	if candidate == "" {
		return "", false
	}

	if m := wechatShort.FindStringSubmatch(candidate); len(m) == 2 {
		if normalized, ok := NormalizeHTTPURL("https://mp.weixin.qq.com/s/" + m[1]); ok {
			return normalized, true
		}
	}

	if normalized, ok := NormalizeHTTPURL(candidate); ok {
		return normalized, true
	}

	// 截断不能越过协议头，至少保留一个主机字符。
	floor := 1
	if loc := schemePrefix.FindStringIndex(candidate); loc != nil {
		floor = utf8.RuneCountInString(candidate[:loc[1]]) + 1
	}
	runes := []rune(candidate)
	for len(runes) > floor {
		runes = []rune(strings.TrimRight(string(runes[:len(runes)-1]), " \t\r\n"))
		if len(runes) < floor {
			break
		}
		if normalized, ok := NormalizeHTTPURL(string(runes)); ok {
			return normalized, true
		}
	}
	return "", false
}

// ExtractURLs 从用户文本中发现链接，去重后按出现顺序最多返回 limit 个。
func ExtractURLs(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxLinksPerMessage
	}
	var out []string
	seen := make(map[string]struct{})
	for _, match := range urlPattern.FindAllString(normalizeText(text), -1) {
		normalized, ok := normalizeMatched(match)
		if !ok {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
		if len(out) == limit {
			break
		}
	}
	return out
}

// IsWeChatURL 判断是否为公众号文章链接，这类页面需要动态渲染优先。
func IsWeChatURL(u string) bool {
	return wechatHost.MatchString(u)
}
