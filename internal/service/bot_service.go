package service

import (
	"context"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/IliaW/site-bot/config"
	"github.com/IliaW/site-bot/internal/crawler"
	"github.com/IliaW/site-bot/internal/model"
	"github.com/IliaW/site-bot/internal/telemetry"
)

type LinkExtractor interface {
	Extract(context.Context, *url.URL) []string
}

type PathRanker interface {
	Rank(ctx context.Context, seedURL string, candidates []string) []model.PathOption
}

type ContentScraper interface {
	Scrape(ctx context.Context, seed *url.URL, paths []string) (*model.BotContent, []string, error)
}

type BotStore interface {
	Create(ctx context.Context, seedURL string, paths []string, content *model.BotContent,
		requesterID string) (*model.BotRecord, error)
	Get(ctx context.Context, id string) (*model.BotRecord, error)
}

type BotArchive interface {
	WriteBot(context.Context, *model.BotRecord) (string, error)
}

// BotService runs the ingestion pipeline: discover candidate paths for a site, then build and
// persist a bot from the selected ones. Archive and Events are optional. Events must be closed
// through CloseEvents only.
type BotService struct {
	Extractor LinkExtractor
	Ranker    PathRanker
	Scraper   ContentScraper
	Store     BotStore
	Archive   BotArchive
	Events    chan<- *model.BotCreatedEvent
	Cfg       *config.CrawlerConfig
	Metrics   *telemetry.AppMetrics

	eventsMu     sync.RWMutex
	eventsClosed bool
}

func (s *BotService) Discover(ctx context.Context, rawURL string) (*model.Discovery, error) {
	seed, err := crawler.ValidateSeedURL(rawURL)
	if err != nil {
		return nil, err
	}

	candidates := s.Extractor.Extract(ctx, seed)
	if len(candidates) == 0 {
		return nil, crawler.ErrNoLinks
	}

	return &model.Discovery{
		PathOptions: s.Ranker.Rank(ctx, seed.String(), candidates),
		TotalHrefs:  len(candidates),
	}, nil
}

// Build scrapes the selected paths and persists the result. Nothing is stored unless the whole
// scrape finished with at least one page.
func (s *BotService) Build(ctx context.Context, rawURL string, paths []string, requesterID string) (
	*model.BotRecord, error) {
	seed, err := crawler.ValidateSeedURL(rawURL)
	if err != nil {
		return nil, err
	}
	paths = s.selectPaths(paths)

	content, scraped, err := s.Scraper.Scrape(ctx, seed, paths)
	if err != nil {
		s.Metrics.BotFailedCnt(1)
		return nil, err
	}
	bot, err := s.Store.Create(ctx, seed.String(), scraped, content, requesterID)
	if err != nil {
		s.Metrics.BotFailedCnt(1)
		return nil, err
	}
	s.Metrics.BotCreatedCnt(1)

	s.publish(ctx, bot, s.archive(ctx, bot))

	return bot, nil
}

func (s *BotService) Get(ctx context.Context, id string) (*model.BotRecord, error) {
	return s.Store.Get(ctx, id)
}

// selectPaths normalizes and de-duplicates the requested paths and keeps at most MaxExtractPaths,
// home first.
func (s *BotService) selectPaths(paths []string) []string {
	selected := make([]string, 0, len(paths)+1)
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		if p != model.HomePath {
			p = strings.TrimRight(p, "/")
		}
		if !slices.Contains(selected, p) {
			selected = append(selected, p)
		}
	}
	selected = model.WithHome(selected)
	if len(selected) > s.Cfg.MaxExtractPaths {
		slog.Warn("too many paths requested. extra paths are ignored.", slog.Int("requested", len(selected)),
			slog.Int("max", s.Cfg.MaxExtractPaths))
		home := slices.Index(selected, model.HomePath)
		selected = append([]string{model.HomePath}, slices.Delete(selected, home, home+1)...)
		selected = selected[:s.Cfg.MaxExtractPaths]
	}

	return selected
}

func (s *BotService) archive(ctx context.Context, bot *model.BotRecord) string {
	if s.Archive == nil {
		return ""
	}
	key, err := s.Archive.WriteBot(ctx, bot)
	if err != nil {
		slog.Error("failed to archive bot.", slog.String("id", bot.ID), slog.String("err", err.Error()))
		return ""
	}
	return key
}

func (s *BotService) publish(ctx context.Context, bot *model.BotRecord, s3Key string) {
	if s.Events == nil {
		return
	}
	event := &model.BotCreatedEvent{
		BotID:         bot.ID,
		WebsiteURL:    bot.WebsiteURL,
		TotalPages:    bot.Metadata.TotalPages,
		ContentLength: bot.Metadata.ContentLength,
		S3Key:         s3Key,
		CreatedAt:     bot.Metadata.CreatedAt,
	}

	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	if s.eventsClosed {
		slog.Warn("bot created event dropped, events are closed.", slog.String("id", bot.ID))
		return
	}
	select {
	case s.Events <- event:
	case <-ctx.Done():
		slog.Warn("bot created event dropped.", slog.String("id", bot.ID), slog.String("err", ctx.Err().Error()))
	}
}

// CloseEvents closes Events once every running publish has finished. Builds that complete later
// drop their event instead of sending on the closed channel.
func (s *BotService) CloseEvents() {
	if s.Events == nil {
		return
	}
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if s.eventsClosed {
		return
	}
	s.eventsClosed = true
	close(s.Events)
	slog.Info("close eventChan.")
}
