package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/corpix/uarand"
	"github.com/gocolly/colly/v2"

	"liuproxy_rotator/internal/shared/logger"
	"liuproxy_rotator/proxypool/model"
)

// CollyScraper 抓取与 free-proxy-list.net 同版式的代理源（sslproxies.org、us-proxy.org）。
type CollyScraper struct {
	name    string
	url     string
	timeout time.Duration
}

// NewCollyScraper 创建一个新的 CollyScraper 实例。
func NewCollyScraper(name, url string, timeout time.Duration) *CollyScraper {
	return &CollyScraper{
		name:    name,
		url:     url,
		timeout: timeout,
	}
}

// Name 返回抓取器的名称。
func (s *CollyScraper) Name() string {
	return s.name
}

// Scrape 执行抓取操作。每次调用使用新的 collector，避免回调在多次抓取之间累积。
func (s *CollyScraper) Scrape(ctx context.Context) ([]model.ProxyAddress, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	l.Debug().Str("source", s.Name()).Msg("Starting scrape...")

	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Source: s.name, Err: err}
	}

	c := colly.NewCollector(
		colly.UserAgent(uarand.GetRandom()),
	)
	c.SetRequestTimeout(s.timeout)

	var (
		mu        sync.Mutex
		set       = newAddressSet()
		sawTable  bool
		scrapeErr error
	)

	c.OnHTML("tbody", func(e *colly.HTMLElement) {
		mu.Lock()
		defer mu.Unlock()
		// 只解析第一个 tbody
		if sawTable {
			return
		}
		sawTable = true
		e.ForEach("tr", func(_ int, row *colly.HTMLElement) {
			if addr, ok := rowAddress(row.ChildText("td:nth-child(1)"), row.ChildText("td:nth-child(2)")); ok {
				set.add(addr)
			}
		})
	})

	c.OnError(func(r *colly.Response, err error) {
		l.Debug().Err(err).Int("status_code", r.StatusCode).Str("source", s.Name()).Msg("Scrape request failed.")
		mu.Lock()
		scrapeErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
		mu.Unlock()
	})

	if err := c.Visit(s.url); err != nil {
		return nil, &FetchError{Source: s.name, Err: err}
	}
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	if scrapeErr != nil {
		return nil, &FetchError{Source: s.name, Err: scrapeErr}
	}
	l.Debug().Int("count", len(set.items)).Str("source", s.Name()).Msg("Scrape finished.")
	return set.items, nil
}
