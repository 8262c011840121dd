package webextract

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

var privateRanges = regexp.MustCompile(`^(10\.|192\.168\.|172\.(1[6-9]|2\d|3[0-1])\.)`)

// IsBlocked 判断链接是否指向本机、私有网段或链路本地地址。无法解析的链接一律视为阻止。
func IsBlocked(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return true
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if privateRanges.MatchString(host) {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() ||
			ip.IsPrivate() ||
			ip.IsUnspecified() ||
			ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast()
	}
	return false
}
