package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"liuproxy_rotator/internal/shared/logger"
	"liuproxy_rotator/proxypool/model"
)

const (
	proxydbPageSize = 15
	proxydbPages    = 3
)

// PagedScraper 抓取以 offset 分页的代理列表（proxydb.net 版式），IP 和端口位于单元格内的链接中。
// 单页失败只记录日志并继续；所有页都失败时才返回 FetchError。
type PagedScraper struct {
	name    string
	pageURL string // 含一个 %d 占位符，用于 offset
	pages   int
	client  *http.Client
}

// NewPagedScraper 创建一个新的实例
func NewPagedScraper(name, pageURL string, pages int, timeout time.Duration) *PagedScraper {
	if pages <= 0 {
		pages = 1
	}
	return &PagedScraper{
		name:    name,
		pageURL: pageURL,
		pages:   pages,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *PagedScraper) Name() string {
	return s.name
}

func (s *PagedScraper) Scrape(ctx context.Context) ([]model.ProxyAddress, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	l.Debug().Str("source", s.Name()).Msg("Starting scrape...")

	set := newAddressSet()
	var errs []error
	for page := 0; page < s.pages; page++ {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		url := fmt.Sprintf(s.pageURL, page*proxydbPageSize)
		l.Debug().Str("url", url).Str("source", s.Name()).Msg("Scraping page...")

		doc, err := fetchDocument(ctx, s.client, url)
		if err != nil {
			l.Warn().Err(err).Str("url", url).Str("source", s.Name()).Msg("Failed to scrape page.")
			errs = append(errs, err)
			continue
		}
		for _, a := range parseLinkedRows(doc) {
			set.add(a)
		}
	}

	if len(errs) > 0 && len(set.items) == 0 {
		return nil, &FetchError{Source: s.name, Err: errors.Join(errs...)}
	}
	l.Debug().Int("count", len(set.items)).Str("source", s.Name()).Msg("Scrape finished.")
	return set.items, nil
}

// parseLinkedRows 取每行前两列中链接的文本作为 (host, port)；没有链接时退回单元格文本。
func parseLinkedRows(doc *goquery.Document) []model.ProxyAddress {
	var out []model.ProxyAddress
	doc.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		addr, ok := rowAddress(linkOrText(cells.Eq(0)), linkOrText(cells.Eq(1)))
		if ok {
			out = append(out, addr)
		}
	})
	return out
}

func linkOrText(cell *goquery.Selection) string {
	if a := cell.Find("a"); a.Length() > 0 {
		return a.First().Text()
	}
	return cell.Text()
}
