package scraper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"liuproxy_rotator/internal/shared/logger"
	"liuproxy_rotator/proxypool/model"
)

// ErrNoSources 表示 Multi 中没有任何抓取器。
var ErrNoSources = errors.New("no proxy list sources configured")

// Multi 并发运行多个抓取器并合并结果。只有全部抓取器失败时才返回 FetchError。
type Multi struct {
	scrapers []Scraper
}

func NewMulti(scrapers ...Scraper) *Multi {
	return &Multi{scrapers: scrapers}
}

func (m *Multi) Name() string {
	names := make([]string, 0, len(m.scrapers))
	for _, s := range m.scrapers {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}

func (m *Multi) Scrape(ctx context.Context) ([]model.ProxyAddress, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	if len(m.scrapers) == 0 {
		return nil, &FetchError{Source: m.Name(), Err: ErrNoSources}
	}

	type result struct {
		proxies []model.ProxyAddress
		err     error
	}

	var wg sync.WaitGroup
	results := make([]result, len(m.scrapers))
	for i, s := range m.scrapers {
		wg.Add(1)
		go func(i int, sc Scraper) {
			defer wg.Done()
			proxies, err := sc.Scrape(ctx)
			if err != nil {
				l.Warn().Err(err).Str("source", sc.Name()).Msg("Scraper failed.")
			}
			results[i] = result{proxies: proxies, err: err}
		}(i, s)
	}
	wg.Wait()

	set := newAddressSet()
	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		for _, p := range r.proxies {
			set.add(p)
		}
	}

	if len(errs) == len(m.scrapers) {
		return nil, &FetchError{Source: m.Name(), Err: errors.Join(errs...)}
	}
	return set.items, nil
}

// Limited 限制底层抓取器的调用频率。
type Limited struct {
	Scraper
	limiter *rate.Limiter
}

// WithRateLimit 让 s 每分钟最多被调用 perMinute 次；perMinute <= 0 时原样返回。
func WithRateLimit(s Scraper, perMinute int) Scraper {
	if perMinute <= 0 {
		return s
	}
	return &Limited{
		Scraper: s,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (l *Limited) Scrape(ctx context.Context) ([]model.ProxyAddress, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Source: l.Name(), Err: err}
	}
	return l.Scraper.Scrape(ctx)
}
