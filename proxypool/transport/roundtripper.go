package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"

	"liuproxy_rotator/proxypool/fingerprint"
	"liuproxy_rotator/proxypool/model"
)

// roundTripper 为单个请求建立一条新连接：
// 直连或经由代理（明文目标用绝对形式请求，https 目标用 CONNECT 隧道），
// 然后用指纹对应的 ClientHello 与目标完成 TLS 握手，按 ALPN 结果选择 HTTP/1.1 或 HTTP/2。
type roundTripper struct {
	client *Client
	proxy  model.ProxyAddress
	hello  fingerprint.Fingerprint
}

type dialResult struct {
	conn       net.Conn
	proto      string
	viaProxyH1 bool // 明文目标经由代理转发，需写出绝对形式的请求行
}

func (t *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	dr, err := t.dial(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	conn := dr.conn
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	if dr.proto == http2.NextProtoTLS {
		cc, err := (&http2.Transport{}).NewClientConn(conn)
		if err != nil {
			stop()
			conn.Close()
			return nil, &Error{Kind: KindConnection, Op: "http2 setup", Err: err}
		}
		resp, err := cc.RoundTrip(req)
		if err != nil {
			stop()
			cc.Close()
			return nil, err
		}
		resp.Body = &closeHookBody{ReadCloser: resp.Body, hook: func() { stop(); cc.Close() }}
		return resp, nil
	}

	if dr.viaProxyH1 {
		err = req.WriteProxy(conn)
	} else {
		err = req.Write(conn)
	}
	if err != nil {
		stop()
		conn.Close()
		return nil, &Error{Kind: KindConnection, Op: "write request", Err: err}
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		stop()
		conn.Close()
		return nil, err
	}
	resp.Body = &closeHookBody{ReadCloser: resp.Body, hook: func() { stop(); conn.Close() }}
	return resp, nil
}

func (t *roundTripper) dial(ctx context.Context, target *url.URL) (*dialResult, error) {
	targetAddr := canonicalAddr(target)

	if t.proxy == "" {
		raw, err := t.client.dialer.DialContext(ctx, "tcp", targetAddr)
		if err != nil {
			return nil, &Error{Kind: KindConnection, Op: "dial", Err: err}
		}
		setDeadline(ctx, raw)
		if target.Scheme != "https" {
			return &dialResult{conn: raw, proto: "http/1.1"}, nil
		}
		return t.handshake(ctx, raw, target.Hostname())
	}

	proxyURL, err := t.proxy.URL()
	if err != nil {
		return nil, &Error{Kind: KindProxy, Op: "parse proxy", Err: err}
	}
	raw, err := t.client.dialer.DialContext(ctx, "tcp", canonicalAddr(proxyURL))
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: "dial proxy", Err: err}
	}
	setDeadline(ctx, raw)

	if proxyURL.Scheme == "https" {
		tlsConn := tls.Client(raw, &tls.Config{
			ServerName:         proxyURL.Hostname(),
			InsecureSkipVerify: t.client.insecureSkipVerify,
			RootCAs:            t.client.rootCAs,
			NextProtos:         []string{"http/1.1"},
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, &Error{Kind: KindProxy, Op: "proxy tls handshake", Err: err}
		}
		raw = tlsConn
	}

	if target.Scheme != "https" {
		return &dialResult{conn: raw, proto: "http/1.1", viaProxyH1: true}, nil
	}

	tunnel, err := connectTunnel(raw, targetAddr)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return t.handshake(ctx, tunnel, target.Hostname())
}

// handshake 在 raw 之上用 uTLS 完成与目标的握手。
func (t *roundTripper) handshake(ctx context.Context, raw net.Conn, serverName string) (*dialResult, error) {
	helloID := t.hello.HelloID
	if helloID.Client == "" {
		helloID = utls.HelloChrome_Auto
	}
	uconn := utls.UClient(raw, &utls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: t.client.insecureSkipVerify,
		RootCAs:            t.client.rootCAs,
	}, helloID)
	if err := uconn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, &Error{Kind: KindConnection, Op: "tls handshake", Err: err}
	}
	proto := uconn.ConnectionState().NegotiatedProtocol
	if proto == "" {
		proto = "http/1.1"
	}
	return &dialResult{conn: uconn, proto: proto}, nil
}

// connectTunnel 通过 CONNECT 在代理上建立到 addr 的隧道。
// 返回的连接先读出代理在应答头之后已发送的字节。
func connectTunnel(conn net.Conn, addr string) (net.Conn, error) {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if err := req.Write(conn); err != nil {
		return nil, &Error{Kind: KindConnection, Op: "write connect", Err: err}
	}
	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, &Error{Kind: KindProxy, Op: "read connect response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &Error{Kind: KindProxy, Op: "connect", Err: fmt.Errorf("proxy refused tunnel to %s: %s", addr, resp.Status)}
	}
	if br.Buffered() == 0 {
		return conn, nil
	}
	return &bufferedConn{Conn: conn, r: br}, nil
}

// bufferedConn 让读取先经过已缓冲的 reader。
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func setDeadline(ctx context.Context, conn net.Conn) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
}

// closeHookBody 在正文关闭时释放底层连接。
type closeHookBody struct {
	io.ReadCloser
	once sync.Once
	hook func()
}

func (b *closeHookBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.hook)
	return err
}
