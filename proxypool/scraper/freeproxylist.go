package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/corpix/uarand"

	"liuproxy_rotator/internal/shared/logger"
	"liuproxy_rotator/proxypool/model"
)

// TableScraper 用一次 GET 抓取代理列表页面，并用 goquery 解析其中第一个表格。
type TableScraper struct {
	name   string
	url    string
	client *http.Client
}

// NewTableScraper 创建一个新的实例
func NewTableScraper(name, url string, timeout time.Duration) *TableScraper {
	return &TableScraper{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *TableScraper) Name() string {
	return s.name
}

func (s *TableScraper) Scrape(ctx context.Context) ([]model.ProxyAddress, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	l.Debug().Str("source", s.Name()).Msg("Starting scrape...")

	doc, err := fetchDocument(ctx, s.client, s.url)
	if err != nil {
		return nil, &FetchError{Source: s.name, Err: err}
	}

	proxies := parseTable(doc, s.name)
	l.Debug().Int("count", len(proxies)).Str("source", s.Name()).Msg("Scrape finished.")
	return proxies, nil
}

// fetchDocument 以随机 User-Agent 抓取一个页面并解析为 goquery 文档。
func fetchDocument(ctx context.Context, client *http.Client, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", uarand.GetRandom())
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code (%d)", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}
