package validator

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"liuproxy_rotator/proxypool/fingerprint"
	"liuproxy_rotator/proxypool/model"
	"liuproxy_rotator/proxypool/transport"
)

// mockDoer answers every request with a canned response or error, and records
// the last request it saw.
type mockDoer struct {
	resp  *transport.Response
	err   error
	panic bool
	last  *transport.Request
}

func (m *mockDoer) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	m.last = req
	if m.panic {
		panic("transport exploded")
	}
	return m.resp, m.err
}

func jsonResp(status int, body string) *transport.Response {
	return &transport.Response{StatusCode: status, Body: []byte(body)}
}

var localIP = netip.MustParseAddr("198.51.100.1")

const candidate = model.ProxyAddress("http://203.0.113.9:8080")

func TestProbe(t *testing.T) {
	tests := []struct {
		name string
		doer *mockDoer
		want bool
	}{
		{"different ip", &mockDoer{resp: jsonResp(200, `{"ip":"203.0.113.9"}`)}, true},
		{"same ip is transparent", &mockDoer{resp: jsonResp(200, `{"ip":"198.51.100.1"}`)}, false},
		{"same ip with whitespace", &mockDoer{resp: jsonResp(200, `{"ip":" 198.51.100.1 "}`)}, false},
		{"error status", &mockDoer{resp: jsonResp(502, `{"ip":"203.0.113.9"}`)}, false},
		{"not json", &mockDoer{resp: jsonResp(200, `<html>blocked</html>`)}, false},
		{"ip not a string", &mockDoer{resp: jsonResp(200, `{"ip":12345}`)}, false},
		{"ip not an address", &mockDoer{resp: jsonResp(200, `{"ip":"not-an-ip"}`)}, false},
		{"transport error", &mockDoer{err: &transport.Error{Kind: transport.KindConnection, Op: "dial", Err: errors.New("refused")}}, false},
		{"panic", &mockDoer{panic: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(tt.doer, "", 0, fingerprint.Fixed("safari16"))
			if got := v.Probe(context.Background(), candidate, localIP); got != tt.want {
				t.Errorf("Probe() = %v, want %v", got, tt.want)
			}
			if tt.doer.last == nil {
				t.Fatal("Expected a request to be issued")
			}
			if tt.doer.last.Proxy != candidate {
				t.Errorf("Expected probe through %s, got %q", candidate, tt.doer.last.Proxy)
			}
			if tt.doer.last.Timeout != DefaultTimeout {
				t.Errorf("Expected timeout %v, got %v", DefaultTimeout, tt.doer.last.Timeout)
			}
			if tt.doer.last.Fingerprint.Name != "safari16" {
				t.Errorf("Expected injected fingerprint, got %q", tt.doer.last.Fingerprint.Name)
			}
		})
	}
}

func TestProbe_InvalidLocalIPNeverPasses(t *testing.T) {
	doer := &mockDoer{resp: jsonResp(200, `{"ip":"203.0.113.9"}`)}
	v := NewValidator(doer, "", 0, nil)
	if v.Probe(context.Background(), candidate, netip.Addr{}) {
		t.Error("Expected Probe to fail without a local IP baseline")
	}
}

func TestResolvePublicIP(t *testing.T) {
	doer := &mockDoer{resp: jsonResp(200, `{"ip":"198.51.100.1"}`)}
	v := NewValidator(doer, "http://ip.test/json", 0, fingerprint.Fixed("firefox120"))

	ip, ok := v.ResolvePublicIP(context.Background())
	if !ok || ip != localIP {
		t.Fatalf("ResolvePublicIP() = %v, %v", ip, ok)
	}
	if doer.last.Proxy != "" {
		t.Errorf("Expected a direct request, got proxy %q", doer.last.Proxy)
	}
	if doer.last.URL != "http://ip.test/json" {
		t.Errorf("Unexpected URL %q", doer.last.URL)
	}
	if doer.last.Fingerprint.Name != fingerprint.Default {
		t.Errorf("Expected the fixed default fingerprint, got %q", doer.last.Fingerprint.Name)
	}
}

func TestResolvePublicIP_Failures(t *testing.T) {
	for name, doer := range map[string]*mockDoer{
		"error":  {err: errors.New("offline")},
		"status": {resp: jsonResp(500, `{"ip":"198.51.100.1"}`)},
		"body":   {resp: jsonResp(200, `{}`)},
	} {
		t.Run(name, func(t *testing.T) {
			if _, ok := NewValidator(doer, "", 0, nil).ResolvePublicIP(context.Background()); ok {
				t.Error("Expected ResolvePublicIP to fail")
			}
		})
	}
}
