package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/IliaW/site-bot/config"
	"github.com/gocolly/colly"
)

type Page struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Fetcher downloads a single page per call. Every call uses a fresh collector so that revisits
// across bots are never deduplicated by colly.
type Fetcher struct {
	transport http.RoundTripper
	timeout   time.Duration
	userAgent string
}

func NewFetcher(cfg *config.CrawlerConfig, transport http.RoundTripper) *Fetcher {
	return &Fetcher{
		transport: transport,
		timeout:   cfg.FetchTimeout,
		userAgent: cfg.UserAgent,
	}
}

// Fetch returns an error on transport failures, timeouts and non-2xx responses.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := colly.NewCollector()
	if f.transport != nil {
		c.WithTransport(f.transport)
	}
	c.SetRequestTimeout(f.timeout)
	c.UserAgent = f.userAgent

	page := &Page{URL: pageURL}
	c.OnResponse(func(resp *colly.Response) {
		page.StatusCode = resp.StatusCode
		page.Body = resp.Body
		page.URL = resp.Request.URL.String()
	})

	if err := c.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	if page.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch %s: status code %d", pageURL, page.StatusCode)
	}
	if page.Body == nil {
		return nil, errors.New("fetch " + pageURL + ": empty response")
	}

	return page, nil
}
