package manager

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"liuproxy_rotator/internal/shared/logger"
	"liuproxy_rotator/internal/shared/types"
	"liuproxy_rotator/proxypool/fingerprint"
	"liuproxy_rotator/proxypool/model"
	"liuproxy_rotator/proxypool/pool"
	"liuproxy_rotator/proxypool/scraper"
	"liuproxy_rotator/proxypool/transport"
	"liuproxy_rotator/proxypool/validator"
)

// Prober 判断一个候选代理是否可用且能隐藏本机 IP。
type Prober interface {
	Probe(ctx context.Context, addr model.ProxyAddress, localIP netip.Addr) bool
}

// IPResolver 解析本机公网 IP。
type IPResolver interface {
	ResolvePublicIP(ctx context.Context) (netip.Addr, bool)
}

// Manager 是代理池模块的总控制器：持有代理池、拒绝集合和停止信号，
// 在后台运行刷新循环，并通过 Get 对外提供经由代理的请求。
// 多个 Manager 实例之间没有任何共享状态。
type Manager struct {
	cfg      types.PoolConf
	scraper  scraper.Scraper
	prober   Prober
	resolver IPResolver
	doer     transport.Doer
	pick     fingerprint.Picker

	pool    *pool.Pool
	denied  *pool.DenySet
	localIP netip.Addr

	// 生命周期：ctx.Done() 即停止信号，stop 可重复调用。
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	passes    atomic.Int64
	served    atomic.Int64
	discarded atomic.Int64
}

// Option 定制 Manager 的协作者，主要用于测试和嵌入场景。
type Option func(*Manager)

func WithScraper(s scraper.Scraper) Option {
	return func(m *Manager) { m.scraper = s }
}

func WithProber(p Prober) Option {
	return func(m *Manager) { m.prober = p }
}

func WithResolver(r IPResolver) Option {
	return func(m *Manager) { m.resolver = r }
}

func WithDoer(d transport.Doer) Option {
	return func(m *Manager) { m.doer = d }
}

// WithFingerprintPicker 替换分发请求时的指纹选择策略。
func WithFingerprintPicker(p fingerprint.Picker) Option {
	return func(m *Manager) { m.pick = p }
}

// New 创建代理池管理器：同步解析本机公网 IP（失败则返回 ErrInitialization），
// 然后启动后台刷新循环。New 不会等待池中出现可用代理。
func New(ctx context.Context, cfg types.PoolConf, opts ...Option) (*Manager, error) {
	l := logger.WithComponent("ProxyPool/Manager")

	m := &Manager{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.applyDefaults(); err != nil {
		return nil, err
	}

	localIP, ok := m.resolver.ResolvePublicIP(ctx)
	if !ok {
		return nil, ErrInitialization
	}
	m.localIP = localIP

	m.ctx, m.stop = context.WithCancel(context.Background())
	m.pool = pool.New(cfg.PoolSize, m.ctx.Done())
	m.denied = pool.NewDenySet(cfg.DenyTTL())

	l.Info().
		Int("capacity", m.pool.Cap()).
		Str("local_ip", localIP.String()).
		Str("sources", m.scraper.Name()).
		Msg("Manager starting...")

	m.wg.Add(1)
	go m.refreshLoop()

	return m, nil
}

func (m *Manager) applyDefaults() error {
	if m.doer == nil {
		m.doer = transport.NewClient(transport.WithInsecureSkipVerify(m.cfg.InsecureSkipVerify))
	}
	if m.pick == nil {
		m.pick = fingerprint.Random()
	}
	if m.prober == nil || m.resolver == nil {
		v := validator.NewValidator(m.doer, m.cfg.IPCheckURL, m.cfg.ValidateTimeout(), fingerprint.Random())
		if m.prober == nil {
			m.prober = v
		}
		if m.resolver == nil {
			m.resolver = v
		}
	}
	if m.scraper == nil {
		s, err := scraper.FromNames(m.cfg.Sources(), m.cfg.ScrapeTimeout(), m.cfg.ScrapePerMinute)
		if err != nil {
			return fmt.Errorf("failed to build scrapers: %w", err)
		}
		m.scraper = s
	}
	return nil
}

// Size 返回池中当前的代理数量。
func (m *Manager) Size() int {
	return m.pool.Len()
}

// Cap 返回池的容量。
func (m *Manager) Cap() int {
	return m.pool.Cap()
}

// LocalIP 返回构造时解析到的本机公网 IP。
func (m *Manager) LocalIP() netip.Addr {
	return m.localIP
}

// IsDenied 报告地址是否在拒绝集合中。
func (m *Manager) IsDenied(addr model.ProxyAddress) bool {
	return m.denied.Contains(addr)
}

// Closed 报告 Close 是否已被调用。
func (m *Manager) Closed() bool {
	return m.ctx.Err() != nil
}

// Close 设置停止信号。可重复调用；不会等待进行中的请求结束。
func (m *Manager) Close() error {
	m.stop()
	return nil
}

// Wait 阻塞直到后台刷新循环退出。通常在 Close 之后调用。
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Stats 是管理器状态的一个快照。
type Stats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Denied    int    `json:"denied"`
	Closed    bool   `json:"closed"`
	LocalIP   string `json:"local_ip"`
	Passes    int64  `json:"refresh_passes"`
	Served    int64  `json:"served"`
	Discarded int64  `json:"discarded"`
}

func (m *Manager) Stats() Stats {
	return Stats{
		Size:      m.pool.Len(),
		Capacity:  m.pool.Cap(),
		Denied:    m.denied.Len(),
		Closed:    m.Closed(),
		LocalIP:   m.localIP.String(),
		Passes:    m.passes.Load(),
		Served:    m.served.Load(),
		Discarded: m.discarded.Load(),
	}
}
