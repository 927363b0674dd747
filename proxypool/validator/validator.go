package validator

import (
	"context"
	"encoding/json"
	"net/netip"
	"strings"
	"time"

	"liuproxy_rotator/internal/shared/logger"
	"liuproxy_rotator/proxypool/fingerprint"
	"liuproxy_rotator/proxypool/model"
	"liuproxy_rotator/proxypool/transport"
)

const (
	DefaultIPCheckURL = "https://api64.ipify.org?format=json"
	DefaultTimeout    = 1 * time.Second
)

// Validator 通过 IP 查询端点判断代理是否可用且确实改变了出口 IP。
type Validator struct {
	doer     transport.Doer
	checkURL string
	timeout  time.Duration
	pick     fingerprint.Picker
}

// NewValidator 创建验证器。pick 为 nil 时探测使用随机指纹。
func NewValidator(doer transport.Doer, checkURL string, timeout time.Duration, pick fingerprint.Picker) *Validator {
	if checkURL == "" {
		checkURL = DefaultIPCheckURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if pick == nil {
		pick = fingerprint.Random()
	}
	return &Validator{
		doer:     doer,
		checkURL: checkURL,
		timeout:  timeout,
		pick:     pick,
	}
}

// ResolvePublicIP 不经代理查询本机公网 IP，使用固定指纹。任何失败都返回 false。
func (v *Validator) ResolvePublicIP(ctx context.Context) (netip.Addr, bool) {
	l := logger.WithComponent("ProxyPool/Validator")

	resp, err := v.doer.Do(ctx, &transport.Request{
		URL:         v.checkURL,
		Fingerprint: fingerprint.MustLookup(fingerprint.Default),
		Timeout:     v.timeout,
	})
	if err != nil {
		l.Warn().Err(err).Str("url", v.checkURL).Msg("Local public IP lookup failed.")
		return netip.Addr{}, false
	}
	if !resp.OK() {
		l.Warn().Int("status_code", resp.StatusCode).Msg("Local public IP lookup returned non-success status.")
		return netip.Addr{}, false
	}
	ip, ok := ExtractIP(resp.Body)
	if !ok {
		l.Warn().Msg("Local public IP lookup returned an unparseable body.")
	}
	return ip, ok
}

// Probe 经由 addr 查询出口 IP。只有请求成功、状态码成功、正文含合法 IP 且与 localIP 不同时才返回 true。
// 任何错误（包括 panic）都视为代理不可用，不会向调用方传播。
func (v *Validator) Probe(ctx context.Context, addr model.ProxyAddress, localIP netip.Addr) (ok bool) {
	l := logger.WithComponent("ProxyPool/Validator")
	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Str("proxy", addr.String()).Msg("Probe panicked, treating proxy as dead.")
			ok = false
		}
	}()

	if !localIP.IsValid() {
		return false
	}

	fp := v.pick()
	resp, err := v.doer.Do(ctx, &transport.Request{
		URL:         v.checkURL,
		Proxy:       addr,
		Fingerprint: fp,
		Timeout:     v.timeout,
	})
	if err != nil {
		l.Debug().Err(err).Str("proxy", addr.String()).Msg("Probe request failed.")
		return false
	}
	if !resp.OK() {
		l.Debug().Int("status_code", resp.StatusCode).Str("proxy", addr.String()).Msg("Probe returned non-success status.")
		return false
	}
	proxyIP, parsed := ExtractIP(resp.Body)
	if !parsed {
		return false
	}
	if proxyIP.Unmap() == localIP.Unmap() {
		l.Debug().Str("proxy", addr.String()).Msg("Proxy does not hide the local IP.")
		return false
	}
	return true
}

// ExtractIP 从 {"ip": "..."} 形式的 JSON 中取出 IP。字段缺失、不是字符串或不是合法 IP 时返回 false。
func ExtractIP(body []byte) (netip.Addr, bool) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return netip.Addr{}, false
	}
	raw, ok := payload["ip"].(string)
	if !ok {
		return netip.Addr{}, false
	}
	ip, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return netip.Addr{}, false
	}
	return ip, true
}
