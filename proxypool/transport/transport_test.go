package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"liuproxy_rotator/proxypool/fingerprint"
	"liuproxy_rotator/proxypool/model"
)

// newForwardProxy starts a minimal HTTP proxy that forwards absolute-form
// requests and tunnels CONNECT requests.
func newForwardProxy(t *testing.T, hits *atomic.Int32, refuseConnect bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method == http.MethodConnect {
			if refuseConnect {
				http.Error(w, "tunnel not allowed", http.StatusForbidden)
				return
			}
			upstream, err := net.Dial("tcp", r.Host)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			hj, ok := w.(http.Hijacker)
			if !ok {
				upstream.Close()
				http.Error(w, "hijack unsupported", http.StatusInternalServerError)
				return
			}
			client, _, err := hj.Hijack()
			if err != nil {
				upstream.Close()
				return
			}
			client.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n"))
			go func() {
				io.Copy(upstream, client)
				upstream.Close()
			}()
			io.Copy(client, upstream)
			client.Close()
			return
		}

		out, err := http.NewRequest(r.Method, r.URL.String(), r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out.Header = r.Header.Clone()
		resp, err := http.DefaultTransport.RoundTrip(out)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.Header().Set("X-Forwarded-By", "test-proxy")
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func proxyAddr(t *testing.T, srv *httptest.Server) model.ProxyAddress {
	t.Helper()
	addr, err := model.ParseAddress(srv.URL)
	if err != nil {
		t.Fatalf("test proxy URL %q is not a valid proxy address: %v", srv.URL, err)
	}
	return addr
}

func closedPortAddr(t *testing.T) model.ProxyAddress {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return model.ProxyAddress("http://" + addr)
}

func TestDo_DirectWithFingerprintHeaders(t *testing.T) {
	var gotUA, gotQuery string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.Query().Get("format")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ip":"203.0.113.7"}`)
	}))
	defer target.Close()

	fp := fingerprint.MustLookup("firefox120")
	resp, err := NewClient().Do(context.Background(), &Request{
		URL:         target.URL,
		Params:      url.Values{"format": {"json"}},
		Fingerprint: fp,
		Timeout:     2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Do() returned an error: %v", err)
	}
	if !resp.OK() || resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 OK, got %d", resp.StatusCode)
	}
	var payload struct {
		IP string `json:"ip"`
	}
	if err := resp.JSON(&payload); err != nil || payload.IP != "203.0.113.7" {
		t.Errorf("Unexpected JSON payload %q (err=%v)", resp.Text(), err)
	}
	if gotUA != fp.UserAgent {
		t.Errorf("Expected fingerprint User-Agent %q, got %q", fp.UserAgent, gotUA)
	}
	if gotQuery != "json" {
		t.Errorf("Expected query param format=json, got %q", gotQuery)
	}
	if resp.Fingerprint != "firefox120" {
		t.Errorf("Expected response to record fingerprint, got %q", resp.Fingerprint)
	}
}

func TestDo_ThroughHTTPProxy(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, "short and stout")
	}))
	defer target.Close()

	var hits atomic.Int32
	proxy := newForwardProxy(t, &hits, false)

	resp, err := NewClient().Do(context.Background(), &Request{
		URL:         target.URL + "/pot",
		Proxy:       proxyAddr(t, proxy),
		Fingerprint: fingerprint.MustLookup(fingerprint.Default),
		Timeout:     2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Do() returned an error: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("Expected the proxy to see 1 request, saw %d", hits.Load())
	}
	if resp.Header.Get("X-Forwarded-By") != "test-proxy" {
		t.Error("Expected the response to come back through the proxy")
	}
	if resp.StatusCode != http.StatusTeapot || resp.OK() {
		t.Errorf("Expected a non-OK 418 response, got %d", resp.StatusCode)
	}
	if resp.Text() != "short and stout" {
		t.Errorf("Unexpected body %q", resp.Text())
	}
}

func TestDo_HTTPSThroughConnectTunnel(t *testing.T) {
	target := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "tls via %s", r.Proto)
	}))
	defer target.Close()

	var hits atomic.Int32
	proxy := newForwardProxy(t, &hits, false)

	rootCAs := target.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs
	client := NewClient(WithRootCAs(rootCAs))

	resp, err := client.Do(context.Background(), &Request{
		URL:         target.URL,
		Proxy:       proxyAddr(t, proxy),
		Fingerprint: fingerprint.MustLookup("chrome102"),
		Timeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Do() returned an error: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("Expected exactly one CONNECT, proxy saw %d requests", hits.Load())
	}
	if !strings.HasPrefix(resp.Text(), "tls via HTTP/") {
		t.Errorf("Unexpected body %q", resp.Text())
	}
}

func TestDo_ConnectRefusedIsProxyError(t *testing.T) {
	var hits atomic.Int32
	proxy := newForwardProxy(t, &hits, true)

	_, err := NewClient().Do(context.Background(), &Request{
		URL:     "https://127.0.0.1:1/",
		Proxy:   proxyAddr(t, proxy),
		Timeout: 2 * time.Second,
	})
	if err == nil {
		t.Fatal("Expected an error when the proxy refuses CONNECT")
	}
	if got := KindOf(err); got != KindProxy {
		t.Errorf("Expected KindProxy, got %v (%v)", got, err)
	}
}

func TestDo_UnreachableProxyIsConnectionError(t *testing.T) {
	_, err := NewClient().Do(context.Background(), &Request{
		URL:     "http://example.invalid/",
		Proxy:   closedPortAddr(t),
		Timeout: 2 * time.Second,
	})
	if err == nil {
		t.Fatal("Expected an error for an unreachable proxy")
	}
	if got := KindOf(err); got != KindConnection {
		t.Errorf("Expected KindConnection, got %v (%v)", got, err)
	}
}

func TestDo_RejectsUnsupportedScheme(t *testing.T) {
	_, err := NewClient().Do(context.Background(), &Request{URL: "ftp://127.0.0.1/file"})
	if err == nil {
		t.Fatal("Expected an error for ftp scheme")
	}
	if got := KindOf(err); got != KindOther {
		t.Errorf("Expected KindOther, got %v", got)
	}
}

func TestDo_SlowResponseIsOtherError(t *testing.T) {
	release := make(chan struct{})
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer target.Close()
	defer close(release)

	_, err := NewClient().Do(context.Background(), &Request{
		URL:     target.URL,
		Timeout: 200 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("Expected a timeout error")
	}
	if got := KindOf(err); got != KindOther {
		t.Errorf("Expected a read timeout to be KindOther, got %v (%v)", got, err)
	}
}

func TestConnectTunnel_KeepsBytesAfterReply(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		req, err := http.ReadRequest(bufio.NewReader(server))
		if err != nil || req.Method != http.MethodConnect {
			return
		}
		// 应答头和隧道里的第一批数据在同一次写入中到达
		server.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\nEARLY"))
	}()

	client.SetDeadline(time.Now().Add(2 * time.Second))
	tunnel, err := connectTunnel(client, "example.test:443")
	if err != nil {
		t.Fatalf("connectTunnel() failed: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(tunnel, buf); err != nil {
		t.Fatalf("Reading tunnel failed: %v", err)
	}
	if string(buf) != "EARLY" {
		t.Errorf("Expected bytes sent after the reply, got %q", buf)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindOther},
		{"eof", io.EOF, KindConnection},
		{"wrapped unexpected eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), KindConnection},
		{"deadline", context.DeadlineExceeded, KindOther},
		{"typed proxy", fmt.Errorf("outer: %w", &Error{Kind: KindProxy, Op: "connect", Err: errors.New("403")}), KindProxy},
		{"plain", errors.New("boom"), KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
