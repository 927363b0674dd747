package transport

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"liuproxy_rotator/proxypool/fingerprint"
	"liuproxy_rotator/proxypool/model"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 32 << 20
)

// Request 描述一次出站请求。Proxy 为空时直连。
type Request struct {
	Method      string
	URL         string
	Params      url.Values
	Header      http.Header
	Proxy       model.ProxyAddress
	Fingerprint fingerprint.Fingerprint
	Timeout     time.Duration
}

// Doer 是出站请求原语。代理池、探测器和分发器都只依赖这个接口。
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Client 通过 uTLS 模拟浏览器 TLS 指纹发出请求，可选地经由 HTTP(S) 代理。
// 每个请求使用独立连接，不在请求之间复用。
type Client struct {
	dialer             *net.Dialer
	insecureSkipVerify bool
	rootCAs            *x509.CertPool
	maxBodyBytes       int64
}

type ClientOption func(*Client)

// WithInsecureSkipVerify 关闭目标与 https 代理的证书校验。
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *Client) { c.insecureSkipVerify = skip }
}

// WithRootCAs 指定校验目标证书时使用的根证书池。
func WithRootCAs(pool *x509.CertPool) ClientOption {
	return func(c *Client) { c.rootCAs = pool }
}

func WithMaxBodyBytes(n int64) ClientOption {
	return func(c *Client) { c.maxBodyBytes = n }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		dialer: &net.Dialer{
			KeepAlive: 30 * time.Second,
		},
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do 执行请求并读完整个正文。任何失败都以带 Kind 的 *Error 返回。
func (c *Client) Do(ctx context.Context, r *Request) (*Response, error) {
	target, err := buildURL(r.URL, r.Params)
	if err != nil {
		return nil, &Error{Kind: KindOther, Op: "build url", Err: err}
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, &Error{Kind: KindOther, Op: "build request", Err: err}
	}
	applyHeaders(req, r)

	hc := &http.Client{
		Transport: &roundTripper{
			client: c,
			proxy:  r.Proxy,
			hello:  r.Fingerprint,
		},
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, classify("request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, classify("read body", err)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		Status:      resp.Status,
		Header:      resp.Header,
		Body:        body,
		URL:         resp.Request.URL.String(),
		Proxy:       r.Proxy,
		Fingerprint: r.Fingerprint.Name,
	}, nil
}

func buildURL(raw string, params url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// applyHeaders 先写入与指纹匹配的浏览器默认头，再由调用方的头覆盖。
func applyHeaders(req *http.Request, r *Request) {
	if r.Fingerprint.UserAgent != "" {
		req.Header.Set("User-Agent", r.Fingerprint.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, vs := range r.Header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if host := r.Header.Get("Host"); host != "" {
		req.Host = host
	}
}

// canonicalAddr 返回带默认端口的 "host:port"。
func canonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		if strings.EqualFold(u.Scheme, "https") {
			port = "443"
		} else {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}
