package manager

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"liuproxy_rotator/internal/shared/logger"
	"liuproxy_rotator/proxypool/pool"
	"liuproxy_rotator/proxypool/transport"
)

const defaultRequestTimeout = 10 * time.Second

type getOptions struct {
	timeout time.Duration
	header  http.Header
}

// GetOption 定制单次 Get 调用。
type GetOption func(*getOptions)

// WithTimeout 同时作为取代理的等待上限和单次请求的超时。
func WithTimeout(d time.Duration) GetOption {
	return func(o *getOptions) { o.timeout = d }
}

// WithHeader 追加一个请求头，覆盖指纹带来的同名头。
func WithHeader(key, value string) GetOption {
	return func(o *getOptions) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		o.header.Add(key, value)
	}
}

// Get 从池中取出代理并经由它发送 GET 请求。
//
// 连接层或代理层失败时，该代理被拒绝，然后换下一个代理重试；
// 其他失败同样拒绝该代理，并以 *RequestError 返回。
// 成功时代理以非阻塞方式放回池中，池满则直接丢弃。
// 池在超时时间内为空时返回 ErrExhausted，已关闭时返回 ErrClosed。
func (m *Manager) Get(ctx context.Context, rawURL string, params url.Values, opts ...GetOption) (*transport.Response, error) {
	o := getOptions{timeout: m.cfg.RequestTimeout()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = defaultRequestTimeout
	}

	l := logger.WithComponent("ProxyPool/Dispatcher").With().
		Str("request_id", uuid.NewString()).
		Str("url", rawURL).
		Logger()

	for attempt := 1; ; attempt++ {
		if m.Closed() {
			return nil, ErrClosed
		}

		addr, outcome := m.pool.Acquire(ctx, o.timeout)
		switch outcome {
		case pool.Stopped:
			return nil, ErrClosed
		case pool.Canceled:
			return nil, ctx.Err()
		case pool.TimedOut:
			l.Warn().Int("attempts", attempt-1).Dur("timeout", o.timeout).Msg("Pool exhausted.")
			return nil, fmt.Errorf("%w within %s", ErrExhausted, o.timeout)
		}

		// 同一地址可能有多份留在池中，其中一份失败后其余副本直接丢弃。
		if m.denied.Contains(addr) {
			m.discarded.Add(1)
			l.Debug().Str("proxy", addr.String()).Msg("Dropping denied proxy still queued in pool.")
			continue
		}

		fp := m.pick()
		resp, err := m.doer.Do(ctx, &transport.Request{
			URL:         rawURL,
			Params:      params,
			Header:      o.header,
			Proxy:       addr,
			Fingerprint: fp,
			Timeout:     o.timeout,
		})
		if err == nil {
			if !m.pool.TryPush(addr) {
				m.discarded.Add(1)
				l.Debug().Str("proxy", addr.String()).Msg("Pool full, discarding used proxy.")
			}
			m.served.Add(1)
			l.Debug().
				Str("proxy", addr.String()).
				Str("fingerprint", fp.Name).
				Int("status_code", resp.StatusCode).
				Int("attempt", attempt).
				Msg("Request served.")
			return resp, nil
		}

		// 调用方自己取消时，失败不归咎于代理。
		if ctx.Err() != nil {
			m.pool.TryPush(addr)
			return nil, ctx.Err()
		}

		m.denied.Add(addr)
		kind := transport.KindOf(err)
		switch kind {
		case transport.KindConnection, transport.KindProxy:
			l.Debug().Err(err).Str("proxy", addr.String()).Str("kind", kind.String()).Msg("Proxy failed, retrying with another.")
			continue
		}
		l.Warn().Err(err).Str("proxy", addr.String()).Msg("Request failed.")
		return nil, &RequestError{Proxy: addr, Err: err}
	}
}
