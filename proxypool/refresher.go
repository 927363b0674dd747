package manager

import (
	"time"

	"golang.org/x/sync/errgroup"

	"liuproxy_rotator/internal/shared/logger"
	"liuproxy_rotator/proxypool/model"
)

const defaultRefreshSleep = 2 * time.Second

type probeResult struct {
	addr model.ProxyAddress
	ok   bool
}

// refreshLoop 是后台刷新循环，只有停止信号能让它退出。
func (m *Manager) refreshLoop() {
	defer m.wg.Done()
	l := logger.WithComponent("ProxyPool/Refresher")

	for {
		select {
		case <-m.ctx.Done():
			l.Info().Msg("Stop signal received. Refresher exiting.")
			return
		default:
		}

		if !m.runRefreshPass() {
			m.backoff()
		}
	}
}

// runRefreshPass 执行一次“抓取 -> 过滤 -> 并发探测 -> 入池/拒绝”。
// 返回 false 表示需要退避后再重试。
func (m *Manager) runRefreshPass() (ok bool) {
	l := logger.WithComponent("ProxyPool/Refresher")
	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Msg("Refresh pass panicked, backing off.")
			ok = false
		}
	}()

	scraped, err := m.scraper.Scrape(m.ctx)
	if err != nil {
		l.Warn().Err(err).Msg("Scrape failed, backing off.")
		return false
	}

	candidates := m.denied.Filter(scraped)
	if len(candidates) == 0 {
		l.Debug().Int("scraped", len(scraped)).Msg("No new candidates in this pass.")
		return false
	}

	workers := min(m.cfg.ValidateWorkers, len(candidates))
	if workers <= 0 {
		workers = 1
	}
	l.Debug().Int("candidates", len(candidates)).Int("workers", workers).Msg("Probing candidates...")

	// 结果通道容量等于候选数，探测协程永远不会因入池阻塞而卡住。
	results := make(chan probeResult, len(candidates))
	go func() {
		var g errgroup.Group
		g.SetLimit(workers)
		for _, c := range candidates {
			if m.ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				results <- probeResult{addr: c, ok: m.probe(c)}
				return nil
			})
		}
		g.Wait()
		close(results)
	}()

	accepted, rejected := 0, 0
	for r := range results {
		if !r.ok {
			m.denied.Add(r.addr)
			rejected++
			continue
		}
		// 池满时阻塞，使发现速度与消费速度一致。
		if !m.pool.Push(r.addr) {
			l.Debug().Msg("Pool stopped while pushing, abandoning pass.")
			return true
		}
		accepted++
	}

	m.passes.Add(1)
	l.Info().
		Int("scraped", len(scraped)).
		Int("accepted", accepted).
		Int("rejected", rejected).
		Int("pool_size", m.pool.Len()).
		Msg("Refresh pass finished.")
	return true
}

// probe 调用 Prober，并把任何 panic 视为探测失败。
func (m *Manager) probe(addr model.ProxyAddress) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return m.prober.Probe(m.ctx, addr, m.localIP)
}

func (m *Manager) backoff() {
	d := m.cfg.RefreshSleep()
	if d <= 0 {
		d = defaultRefreshSleep
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-m.ctx.Done():
	}
}
