package manager

import (
	"errors"
	"fmt"

	"liuproxy_rotator/proxypool/model"
)

var (
	// ErrInitialization 表示构造时无法解析本机公网 IP，代理池不可用。
	ErrInitialization = errors.New("proxypool: unable to resolve local public IP")

	// ErrClosed 表示管理器已关闭。
	ErrClosed = errors.New("proxypool: pool is closed")

	// ErrProxyGet 是 Get 所有非关闭类失败的公共根错误。
	ErrProxyGet = errors.New("proxypool: proxy get failed")

	// ErrExhausted 表示在超时时间内池中没有可用代理。
	ErrExhausted = fmt.Errorf("%w: no proxy available in pool", ErrProxyGet)
)

// RequestError 表示经由某个代理的请求出现了无法归类为连接/代理层的失败。
// 该代理已被加入拒绝集合。
type RequestError struct {
	Proxy model.ProxyAddress
	Err   error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed while using proxy %s: %v", e.Proxy, e.Err)
}

func (e *RequestError) Unwrap() []error {
	return []error{ErrProxyGet, e.Err}
}
