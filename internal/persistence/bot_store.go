package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/IliaW/site-bot/config"
	"github.com/IliaW/site-bot/internal/model"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

var ErrBotNotFound = errors.New("bot not found")

// BotStore is the only writer of bot records. Records never change after Create, so reads are
// served from an in-process cache in front of the repository.
type BotStore struct {
	repo   BotRepository
	cache  *cache.Cache
	maxRaw int
	now    func() time.Time
	newID  func() string
}

func NewBotStore(repo BotRepository, mongoCfg *config.MongoConfig, crawlerCfg *config.CrawlerConfig) *BotStore {
	return &BotStore{
		repo:   repo,
		cache:  cache.New(mongoCfg.BotCacheTtl, 2*mongoCfg.BotCacheTtl),
		maxRaw: crawlerCfg.MaxContentLength,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Create assigns a fresh id, derives the metadata and persists the bot in one write.
func (s *BotStore) Create(ctx context.Context, seedURL string, paths []string, content *model.BotContent,
	requesterID string) (*model.BotRecord, error) {
	paths = model.WithHome(paths)
	bot := &model.BotRecord{
		ID:         s.newID(),
		WebsiteURL: seedURL,
		Paths:      paths,
		Content:    *content,
		Metadata: model.BotMetadata{
			TotalPages:       len(content.Pages),
			ContentLength:    utf8.RuneCountInString(content.Raw),
			CreatedAt:        s.now().UTC(),
			RequesterID:      requesterID,
			RecommendedPaths: model.RecommendedPaths(paths),
		},
	}
	if err := bot.Validate(s.maxRaw); err != nil {
		return nil, err
	}
	if err := s.repo.SaveBot(ctx, bot); err != nil {
		return nil, err
	}
	s.cache.SetDefault(bot.ID, bot)
	slog.Info("bot created.", slog.String("id", bot.ID), slog.String("url", seedURL),
		slog.Int("pages", bot.Metadata.TotalPages))

	return bot, nil
}

func (s *BotStore) Get(ctx context.Context, id string) (*model.BotRecord, error) {
	if cached, ok := s.cache.Get(id); ok {
		return cached.(*model.BotRecord), nil
	}
	bot, err := s.repo.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, fmt.Errorf("%w: %s", ErrBotNotFound, id)
	}
	s.cache.SetDefault(id, bot)

	return bot, nil
}
