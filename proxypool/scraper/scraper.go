package scraper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"liuproxy_rotator/internal/shared/logger"
	"liuproxy_rotator/proxypool/model"
)

// Scraper 接口定义了从代理源抓取候选代理的行为。
type Scraper interface {
	// Scrape 执行抓取操作，返回去重后的候选地址。
	// 实现者只负责抓取和语法校验，不做连通性验证，也不了解代理池和拒绝集合。
	Scrape(ctx context.Context) ([]model.ProxyAddress, error)

	// Name 返回抓取器的名称，用于日志记录。
	Name() string
}

// FetchError 表示一次抓取失败（网络、HTTP 状态或解析），由调用方决定重试策略。
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to scrape %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

const (
	SourceFreeProxyList = "free-proxy-list.net"
	SourceSSLProxies    = "sslproxies.org"
	SourceUSProxy       = "us-proxy.org"
	SourceProxyDB       = "proxydb.net"
)

var sourceURLs = map[string]string{
	SourceFreeProxyList: "https://free-proxy-list.net",
	SourceSSLProxies:    "https://www.sslproxies.org/",
	SourceUSProxy:       "https://www.us-proxy.org/",
	SourceProxyDB:       "https://proxydb.net/?protocol=http&protocol=https&offset=%d",
}

// Sources 返回所有已知的代理源名称。
func Sources() []string {
	names := make([]string, 0, len(sourceURLs))
	for name := range sourceURLs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New 按名称创建抓取器。free-proxy-list.net 用 goquery 解析，proxydb.net 分页抓取，
// 其余同版式的源用 colly 抓取。
func New(name string, timeout time.Duration) (Scraper, error) {
	url, ok := sourceURLs[name]
	if !ok {
		return nil, fmt.Errorf("unknown proxy list source %q (known: %s)", name, strings.Join(Sources(), ", "))
	}
	switch name {
	case SourceFreeProxyList:
		return NewTableScraper(name, url, timeout), nil
	case SourceProxyDB:
		return NewPagedScraper(name, url, proxydbPages, timeout), nil
	default:
		return NewCollyScraper(name, url, timeout), nil
	}
}

// FromNames 按配置中的名称列表构建抓取器，多于一个时合并为 Multi。
func FromNames(names []string, timeout time.Duration, perMinute int) (Scraper, error) {
	if len(names) == 0 {
		return nil, ErrNoSources
	}
	scrapers := make([]Scraper, 0, len(names))
	for _, name := range names {
		s, err := New(name, timeout)
		if err != nil {
			return nil, err
		}
		scrapers = append(scrapers, s)
	}
	var s Scraper = scrapers[0]
	if len(scrapers) > 1 {
		s = NewMulti(scrapers...)
	}
	return WithRateLimit(s, perMinute), nil
}

// addressSet 保持首次出现顺序的去重集合。
type addressSet struct {
	seen  map[model.ProxyAddress]struct{}
	items []model.ProxyAddress
}

func newAddressSet() *addressSet {
	return &addressSet{seen: make(map[model.ProxyAddress]struct{})}
}

func (s *addressSet) add(a model.ProxyAddress) {
	if _, ok := s.seen[a]; ok {
		return
	}
	s.seen[a] = struct{}{}
	s.items = append(s.items, a)
}

// rowAddress 由表格行的前两列构造 http 地址；不合法时返回 false。
func rowAddress(hostText, portText string) (model.ProxyAddress, bool) {
	host := strings.TrimSpace(hostText)
	port := strings.TrimSpace(portText)
	if host == "" || port == "" {
		return "", false
	}
	addr, err := model.NewAddress("http", host, port)
	if err != nil {
		return "", false
	}
	return addr, true
}

// parseTable 解析文档中第一个 tbody 的每一行，取前两列作为 (host, port)。
func parseTable(doc *goquery.Document, source string) []model.ProxyAddress {
	l := logger.WithComponent("ProxyPool/Scraper")
	set := newAddressSet()
	skipped := 0

	doc.Find("tbody").First().Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		addr, ok := rowAddress(cells.Eq(0).Text(), cells.Eq(1).Text())
		if !ok {
			skipped++
			return
		}
		set.add(addr)
	})

	if skipped > 0 {
		l.Debug().Str("source", source).Int("skipped", skipped).Msg("Skipped malformed rows.")
	}
	return set.items
}
