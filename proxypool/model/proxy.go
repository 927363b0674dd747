package model

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
)

// ProxyAddress 标识一个代理端点，格式为 "scheme://ip:port"。
// 它在发现阶段校验一次，之后被视为不可变的值，按字符串精确比较。
type ProxyAddress string

func (a ProxyAddress) String() string {
	return string(a)
}

// URL 返回解析后的代理 URL。地址在构造时已经校验过，因此这里的错误只会来自手工构造的值。
func (a ProxyAddress) URL() (*url.URL, error) {
	return url.Parse(string(a))
}

// HostPort 返回用于拨号的 "ip:port"。
func (a ProxyAddress) HostPort() string {
	u, err := a.URL()
	if err != nil {
		return ""
	}
	return u.Host
}

// NewAddress 由 scheme、host、port 文本构造地址，并通过 IsWellFormed 校验。
func NewAddress(scheme, host, port string) (ProxyAddress, error) {
	raw := fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, port))
	return ParseAddress(raw)
}

// ParseAddress 校验并返回一个 ProxyAddress。
func ParseAddress(raw string) (ProxyAddress, error) {
	if !IsWellFormed(raw) {
		return "", fmt.Errorf("malformed proxy address %q", raw)
	}
	return ProxyAddress(raw), nil
}

// IsWellFormed 判断候选代理地址在语法上是否合法：
// scheme 必须是 http 或 https，host 必须是 IP 字面量（不接受域名），端口在 [1, 65535] 内。
func IsWellFormed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	portStr := u.Port()
	if portStr == "" {
		return false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	if _, err := netip.ParseAddr(host); err != nil {
		return false
	}
	return true
}
