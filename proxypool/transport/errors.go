package transport

import (
	"errors"
	"fmt"
	"io"
	"syscall"
)

// Kind 对出站请求失败进行分类，分发器据此决定是换代理重试还是直接失败。
type Kind int

const (
	// KindOther 表示无法归类到连接层或代理层的失败（读超时、畸形响应等）。
	KindOther Kind = iota
	// KindConnection 表示无法与代理或目标建立可用连接（拨号失败、连接被重置、TLS 握手失败）。
	KindConnection
	// KindProxy 表示代理本身拒绝或无法完成隧道（CONNECT 被拒、代理响应不可解析）。
	KindProxy
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProxy:
		return "proxy"
	default:
		return "other"
	}
}

// Error 是传输层返回的带分类的错误。
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf 返回错误链上的分类。未显式分类的连接重置和提前 EOF 视为连接层失败。
func KindOf(err error) Kind {
	if err == nil {
		return KindOther
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return KindConnection
	}
	return KindOther
}

// classify 保证返回给调用方的错误链上一定带有 *Error。
func classify(op string, err error) error {
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}
