package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/IliaW/site-bot/config"
	"github.com/IliaW/site-bot/internal"
	"github.com/IliaW/site-bot/internal/model"
	"github.com/IliaW/site-bot/internal/telemetry"
	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"
)

var ErrNoContent = errors.New("could not extract content")

type Scraper struct {
	fetcher PageFetcher
	cfg     *config.CrawlerConfig
	metrics *telemetry.AppMetrics
	now     func() time.Time
}

func NewScraper(fetcher PageFetcher, cfg *config.CrawlerConfig, metrics *telemetry.AppMetrics) *Scraper {
	return &Scraper{
		fetcher: fetcher,
		cfg:     cfg,
		metrics: metrics,
		now:     time.Now,
	}
}

// Scrape fetches every path one after another, paced by the configured page delay, and returns the
// content bundle together with the paths actually requested (home included). Pages that fail or
// carry too little text are skipped. The bundle is built in memory only, so a cancelled scrape
// leaves nothing behind.
func (s *Scraper) Scrape(ctx context.Context, seed *url.URL, paths []string) (*model.BotContent, []string,
	error) {
	paths = model.WithHome(paths)

	var raw strings.Builder
	pages := make([]model.PageRecord, 0, len(paths))
	for i, p := range paths {
		if i > 0 {
			if err := s.pause(ctx); err != nil {
				return nil, nil, fmt.Errorf("scrape %s: %w", seed.String(), err)
			}
		}
		page, ok := s.scrapePage(ctx, seed, p)
		if !ok {
			s.metrics.PageSkippedCnt(1)
			continue
		}
		pages = append(pages, *page)
		fmt.Fprintf(&raw, "Page: %s\n\n%s\n\n---\n\n", p, page.Content)
		s.metrics.PageScrapedCnt(1)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("scrape %s: %w", seed.String(), err)
	}
	if len(pages) == 0 {
		return nil, nil, ErrNoContent
	}

	structured, err := jsoniter.MarshalToString(model.StructuredContent{
		Pages:       pages,
		TotalPages:  len(pages),
		ProcessedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal structured content: %w", err)
	}

	return &model.BotContent{
		Raw:        internal.TruncateRunes(raw.String(), s.cfg.MaxContentLength, model.TruncationMarker),
		Structured: structured,
		Pages:      pages,
	}, paths, nil
}

// pause waits a full page delay counted from now, so slow or timed out fetches never shorten the gap
// between two requests to the same site.
func (s *Scraper) pause(ctx context.Context) error {
	gap := rate.NewLimiter(rate.Every(s.cfg.PageDelay), 1)
	gap.Allow()
	return gap.Wait(ctx)
}

func (s *Scraper) scrapePage(ctx context.Context, seed *url.URL, p string) (*model.PageRecord, bool) {
	pageURL, ok := PageURL(seed, p)
	if !ok {
		slog.Debug("path is not on the seed site.", slog.String("path", p))
		return nil, false
	}
	page, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		slog.Warn("page skipped.", slog.String("url", pageURL), slog.String("err", err.Error()))
		return nil, false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		slog.Warn("page skipped, html is not parsable.", slog.String("url", pageURL),
			slog.String("err", err.Error()))
		return nil, false
	}

	title := extractTitle(doc)
	if title == "" {
		title = "Page: " + p
	}
	text := extractText(doc)
	if utf8.RuneCountInString(text) <= s.cfg.MinPageTextLength {
		slog.Debug("page skipped, not enough text.", slog.String("url", pageURL))
		return nil, false
	}
	// Page text is stored twice (pages and structured), the cap keeps a bot document well under the
	// mongodb document size limit.
	if s.cfg.MaxPageContentLength > 0 {
		text = internal.TruncateRunes(text, s.cfg.MaxPageContentLength, model.TruncationMarker)
	}

	return &model.PageRecord{
		URL:         pageURL,
		Title:       title,
		Content:     text,
		ExtractedAt: s.now().UTC(),
	}, true
}
