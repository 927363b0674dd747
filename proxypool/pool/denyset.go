package pool

import (
	"sync"
	"time"

	"liuproxy_rotator/proxypool/model"
)

// DenySet 记录已知失效或被封锁的代理地址，供刷新器过滤候选。
// ttl 为 0 时条目永不过期，集合在进程生命周期内单调增长。
type DenySet struct {
	mu      sync.RWMutex
	entries map[model.ProxyAddress]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewDenySet(ttl time.Duration) *DenySet {
	return &DenySet{
		entries: make(map[model.ProxyAddress]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Add 记录一个失败的地址；重复添加会刷新其时间。
func (d *DenySet) Add(addr model.ProxyAddress) {
	d.mu.Lock()
	d.entries[addr] = d.now()
	d.mu.Unlock()
}

// Contains 判断地址当前是否被拒绝。过期条目视为不存在，由 Filter 顺带清理。
func (d *DenySet) Contains(addr model.ProxyAddress) bool {
	d.mu.RLock()
	at, ok := d.entries[addr]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	return !d.expired(at)
}

// Filter 返回 candidates 中未被拒绝的地址，保持原顺序。
func (d *DenySet) Filter(candidates []model.ProxyAddress) []model.ProxyAddress {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]model.ProxyAddress, 0, len(candidates))
	for _, c := range candidates {
		at, ok := d.entries[c]
		if ok && d.expired(at) {
			delete(d.entries, c)
			ok = false
		}
		if !ok {
			out = append(out, c)
		}
	}
	return out
}

// Len 返回集合中（含尚未清理的过期）条目数量。
func (d *DenySet) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *DenySet) expired(at time.Time) bool {
	return d.ttl > 0 && d.now().Sub(at) >= d.ttl
}
