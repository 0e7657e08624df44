package crawler

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/IliaW/site-bot/config"
)

var ErrNoLinks = errors.New("could not extract links")

type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)
}

type LinkExtractor struct {
	fetcher PageFetcher
	limit   int
}

func NewLinkExtractor(fetcher PageFetcher, cfg *config.CrawlerConfig) *LinkExtractor {
	return &LinkExtractor{fetcher: fetcher, limit: cfg.MaxCandidates}
}

// Extract fetches the seed page and returns its candidate paths. Any fetch failure yields an empty
// list; callers treat an empty result as a failed extraction.
func (e *LinkExtractor) Extract(ctx context.Context, seed *url.URL) []string {
	page, err := e.fetcher.Fetch(ctx, seed.String())
	if err != nil {
		slog.Warn("failed to fetch seed url.", slog.String("url", seed.String()),
			slog.String("err", err.Error()))
		return []string{}
	}
	candidates := ExtractCandidates(seed, page.Body, e.limit)
	slog.Debug("links extracted.", slog.String("url", seed.String()), slog.Int("candidates", len(candidates)))

	return candidates
}
