package pool

import (
	"context"
	"time"

	"liuproxy_rotator/proxypool/model"
)

// Outcome 是一次 Acquire 的结果。池为空不是错误，而是一种预期的结果。
type Outcome int

const (
	Acquired Outcome = iota
	TimedOut
	Canceled // 调用方的 ctx 已结束
	Stopped  // 所属的管理器已关闭
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case TimedOut:
		return "timed_out"
	case Canceled:
		return "canceled"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Pool 是已验证代理的有界并发队列，底层是带缓冲的 channel：
// 生产者在满时阻塞，消费者在空时阻塞（可超时），不存在忙等。
type Pool struct {
	ch   chan model.ProxyAddress
	done <-chan struct{}
}

// New 创建容量为 capacity 的池。done 关闭后，所有阻塞中的 Push/Acquire 立即返回。
func New(capacity int, done <-chan struct{}) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{
		ch:   make(chan model.ProxyAddress, capacity),
		done: done,
	}
}

// Push 放入一个地址，池满时阻塞。返回 false 表示在放入前池已停止。
func (p *Pool) Push(addr model.ProxyAddress) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.ch <- addr:
		return true
	case <-p.done:
		return false
	}
}

// TryPush 非阻塞地放入一个地址；池满时直接丢弃并返回 false。
func (p *Pool) TryPush(addr model.ProxyAddress) bool {
	select {
	case p.ch <- addr:
		return true
	default:
		return false
	}
}

// Acquire 取出一个地址，最多等待 timeout。
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (model.ProxyAddress, Outcome) {
	// 已有可用代理时不与停止信号竞争。
	select {
	case addr := <-p.ch:
		return addr, Acquired
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case addr := <-p.ch:
		return addr, Acquired
	case <-timer.C:
		return "", TimedOut
	case <-ctx.Done():
		return "", Canceled
	case <-p.done:
		return "", Stopped
	}
}

// Len 返回当前池中的地址数量。
func (p *Pool) Len() int {
	return len(p.ch)
}

// Cap 返回池的容量。
func (p *Pool) Cap() int {
	return cap(p.ch)
}
