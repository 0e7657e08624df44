package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/IliaW/site-bot/config"
	"github.com/IliaW/site-bot/internal/completion"
	"github.com/IliaW/site-bot/internal/crawler"
	"github.com/IliaW/site-bot/internal/model"
	"github.com/IliaW/site-bot/internal/persistence"
	"github.com/IliaW/site-bot/internal/ranker"
	"github.com/IliaW/site-bot/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	candidates []string
	calls      int
}

func (f *fakeExtractor) Extract(context.Context, *url.URL) []string {
	f.calls++
	return f.candidates
}

type fakeScraper struct {
	content *model.BotContent
	err     error
	paths   []string
}

func (f *fakeScraper) Scrape(_ context.Context, _ *url.URL, paths []string) (*model.BotContent, []string, error) {
	f.paths = paths
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.content, paths, nil
}

type fakeStore struct {
	bots      map[string]*model.BotRecord
	createErr error
}

func (f *fakeStore) Create(_ context.Context, seedURL string, paths []string, content *model.BotContent,
	requesterID string) (*model.BotRecord, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	bot := &model.BotRecord{
		ID:         "bot-1",
		WebsiteURL: seedURL,
		Paths:      paths,
		Content:    *content,
		Metadata:   model.BotMetadata{TotalPages: len(content.Pages), RequesterID: requesterID},
	}
	f.bots[bot.ID] = bot
	return bot, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*model.BotRecord, error) {
	if bot, ok := f.bots[id]; ok {
		return bot, nil
	}
	return nil, persistence.ErrBotNotFound
}

type fakeArchive struct {
	err error
}

func (f *fakeArchive) WriteBot(_ context.Context, bot *model.BotRecord) (string, error) {
	return "bots/" + bot.ID + "/bot.json", f.err
}

type failingCompleter struct{}

func (failingCompleter) Complete(context.Context, completion.Request) (string, error) {
	return "", errors.New("completion service unavailable")
}

type counters struct {
	created, failed int64
}

func newService(extractor LinkExtractor, scraper ContentScraper, store BotStore) (*BotService, *counters) {
	cnt := &counters{}
	metrics := telemetry.Noop().AppMetrics
	metrics.BotCreatedCnt = func(n int64) { cnt.created += n }
	metrics.BotFailedCnt = func(n int64) { cnt.failed += n }
	return &BotService{
		Extractor: extractor,
		Ranker:    ranker.NewPathRanker(failingCompleter{}, &config.CompletionConfig{}, metrics),
		Scraper:   scraper,
		Store:     store,
		Cfg:       &config.CrawlerConfig{MaxExtractPaths: 4},
		Metrics:   metrics,
	}, cnt
}

func testContent() *model.BotContent {
	return &model.BotContent{
		Raw:        "Page: /\n\nhello\n\n---\n\n",
		Structured: `{"pages":[],"totalPages":0}`,
		Pages:      []model.PageRecord{{URL: "https://example.com/", Title: "Home", Content: "hello"}},
	}
}

func TestDiscover(t *testing.T) {
	extractor := &fakeExtractor{candidates: []string{"/contact", "/about", "/blog"}}
	s, _ := newService(extractor, &fakeScraper{}, &fakeStore{})

	discovery, err := s.Discover(context.Background(), "  https://example.com  ")

	require.NoError(t, err)
	assert.Equal(t, 3, discovery.TotalHrefs)
	assert.Equal(t, []model.PathOption{
		{Path: "/", Title: "Home", Recommended: true},
		{Path: "/about", Title: "About", Recommended: true},
		{Path: "/blog", Title: "Blog"},
		{Path: "/contact", Title: "Contact"},
	}, discovery.PathOptions)
}

func TestDiscover_InvalidURL(t *testing.T) {
	extractor := &fakeExtractor{}
	s, _ := newService(extractor, &fakeScraper{}, &fakeStore{})

	for _, raw := range []string{"", "not a url", "ftp://example.com", "https://"} {
		_, err := s.Discover(context.Background(), raw)
		assert.ErrorIs(t, err, crawler.ErrInvalidURL, raw)
	}
	assert.Zero(t, extractor.calls)
}

func TestDiscover_NoLinks(t *testing.T) {
	s, _ := newService(&fakeExtractor{candidates: []string{}}, &fakeScraper{}, &fakeStore{})

	_, err := s.Discover(context.Background(), "https://example.com")

	assert.ErrorIs(t, err, crawler.ErrNoLinks)
}

func TestBuild(t *testing.T) {
	events := make(chan *model.BotCreatedEvent, 1)
	scraper := &fakeScraper{content: testContent()}
	store := &fakeStore{bots: map[string]*model.BotRecord{}}
	s, cnt := newService(&fakeExtractor{}, scraper, store)
	s.Archive = &fakeArchive{}
	s.Events = events

	bot, err := s.Build(context.Background(), "https://example.com", []string{"about/", " /contact", "/about"},
		"203.0.113.7")

	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/about", "/contact"}, scraper.paths)
	assert.Equal(t, "https://example.com", bot.WebsiteURL)
	assert.Equal(t, "203.0.113.7", bot.Metadata.RequesterID)
	assert.Equal(t, int64(1), cnt.created)
	select {
	case event := <-events:
		assert.Equal(t, "bot-1", event.BotID)
		assert.Equal(t, "bots/bot-1/bot.json", event.S3Key)
		assert.Equal(t, 1, event.TotalPages)
	default:
		t.Fatal("bot created event was not published")
	}
}

func TestBuild_CapsPathsKeepingHome(t *testing.T) {
	scraper := &fakeScraper{content: testContent()}
	s, _ := newService(&fakeExtractor{}, scraper, &fakeStore{bots: map[string]*model.BotRecord{}})

	_, err := s.Build(context.Background(), "https://example.com",
		[]string{"/a", "/b", "/c", "/d", "/", "/e"}, "ip")

	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/a", "/b", "/c"}, scraper.paths)
}

func TestBuild_ArchiveFailureIsNotFatal(t *testing.T) {
	events := make(chan *model.BotCreatedEvent, 1)
	s, _ := newService(&fakeExtractor{}, &fakeScraper{content: testContent()},
		&fakeStore{bots: map[string]*model.BotRecord{}})
	s.Archive = &fakeArchive{err: errors.New("s3: access denied")}
	s.Events = events

	_, err := s.Build(context.Background(), "https://example.com", nil, "ip")

	require.NoError(t, err)
	assert.Empty(t, (<-events).S3Key)
}

func TestBuild_Failures(t *testing.T) {
	tests := []struct {
		name    string
		scraper *fakeScraper
		store   *fakeStore
		want    error
	}{
		{"no content", &fakeScraper{err: crawler.ErrNoContent}, &fakeStore{}, crawler.ErrNoContent},
		{"store down", &fakeScraper{content: testContent()}, &fakeStore{createErr: errors.New("mongo down")}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := make(chan *model.BotCreatedEvent, 1)
			s, cnt := newService(&fakeExtractor{}, tt.scraper, tt.store)
			s.Events = events

			_, err := s.Build(context.Background(), "https://example.com", []string{"/about"}, "ip")

			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, int64(1), cnt.failed)
			assert.Empty(t, events)
		})
	}
}

func TestBuild_InvalidURL(t *testing.T) {
	scraper := &fakeScraper{}
	s, _ := newService(&fakeExtractor{}, scraper, &fakeStore{})

	_, err := s.Build(context.Background(), "javascript:alert(1)", []string{"/"}, "ip")

	assert.ErrorIs(t, err, crawler.ErrInvalidURL)
	assert.Nil(t, scraper.paths)
}

func TestBuild_EventDroppedWhenCancelled(t *testing.T) {
	s, _ := newService(&fakeExtractor{}, &fakeScraper{content: testContent()},
		&fakeStore{bots: map[string]*model.BotRecord{}})
	s.Events = make(chan *model.BotCreatedEvent)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.publish(ctx, &model.BotRecord{ID: "bot-1"}, "")
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a cancelled context")
	}
}

func TestBuild_AfterCloseEventsDropsEvent(t *testing.T) {
	store := &fakeStore{bots: map[string]*model.BotRecord{}}
	s, cnt := newService(&fakeExtractor{}, &fakeScraper{content: testContent()}, store)
	events := make(chan *model.BotCreatedEvent, 1)
	s.Events = events
	s.CloseEvents()
	s.CloseEvents()

	bot, err := s.Build(context.Background(), "https://example.com", []string{"/about"}, "203.0.113.7")

	require.NoError(t, err)
	assert.NotNil(t, bot)
	assert.Equal(t, int64(1), cnt.created)
	_, open := <-events
	assert.False(t, open)
}

func TestCloseEvents_WaitsForRunningPublish(t *testing.T) {
	s, _ := newService(&fakeExtractor{}, &fakeScraper{content: testContent()},
		&fakeStore{bots: map[string]*model.BotRecord{}})
	events := make(chan *model.BotCreatedEvent)
	s.Events = events

	go s.publish(context.Background(), &model.BotRecord{ID: "bot-1"}, "")
	time.Sleep(50 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		s.CloseEvents()
	}()

	select {
	case <-closed:
		t.Fatal("events closed while a publish was still sending")
	case <-time.After(50 * time.Millisecond):
	}

	event := <-events
	assert.Equal(t, "bot-1", event.BotID)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("CloseEvents did not return after the publish finished")
	}
	_, open := <-events
	assert.False(t, open)
}

type memoryRepository struct {
	bots map[string]*model.BotRecord
}

func (m *memoryRepository) SaveBot(_ context.Context, bot *model.BotRecord) error {
	m.bots[bot.ID] = bot
	return nil
}

func (m *memoryRepository) GetBot(_ context.Context, id string) (*model.BotRecord, error) {
	return m.bots[id], nil
}

func TestPipeline_EndToEnd(t *testing.T) {
	text := strings.Repeat("We design fast websites for small businesses. ", 5)
	pages := map[string]string{
		"/": `<html><head><title>Example</title></head><body>` +
			`<a href="/about">About</a> <a href="/contact">Contact</a> ` +
			`<a href="https://other.com/x">Other</a> <a href="#top">Top</a><p>` + text + `</p></body></html>`,
		"/about":   `<html><head><title>About us</title></head><body><p>` + text + `</p></body></html>`,
		"/contact": `<html><head><title>Contact</title></head><body><p>` + text + `</p></body></html>`,
	}
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(body))
	}))
	defer site.Close()

	crawlerCfg := &config.CrawlerConfig{
		UserAgent:         "TestBot/1.0",
		FetchTimeout:      2 * time.Second,
		MaxCandidates:     20,
		MaxExtractPaths:   20,
		MaxContentLength:  500_000,
		MinPageTextLength: 100,
	}
	metrics := telemetry.Noop().AppMetrics
	fetcher := crawler.NewFetcher(crawlerCfg, http.DefaultTransport)
	repo := &memoryRepository{bots: map[string]*model.BotRecord{}}
	s := &BotService{
		Extractor: crawler.NewLinkExtractor(fetcher, crawlerCfg),
		Ranker:    ranker.NewPathRanker(failingCompleter{}, &config.CompletionConfig{}, metrics),
		Scraper:   crawler.NewScraper(fetcher, crawlerCfg, metrics),
		Store:     persistence.NewBotStore(repo, &config.MongoConfig{BotCacheTtl: time.Minute}, crawlerCfg),
		Cfg:       crawlerCfg,
		Metrics:   metrics,
	}

	discovery, err := s.Discover(context.Background(), site.URL)
	require.NoError(t, err)
	assert.Equal(t, 2, discovery.TotalHrefs)
	assert.Equal(t, []model.PathOption{
		{Path: "/", Title: "Home", Recommended: true},
		{Path: "/about", Title: "About", Recommended: true},
		{Path: "/contact", Title: "Contact"},
	}, discovery.PathOptions)

	bot, err := s.Build(context.Background(), site.URL, []string{"/about"}, "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/about"}, bot.Paths)
	assert.Equal(t, 2, bot.Metadata.TotalPages)
	assert.Equal(t, []string{"/", "/about"}, bot.Metadata.RecommendedPaths)
	assert.Contains(t, bot.Content.Raw, "Page: /about\n\n")
	assert.Same(t, bot, repo.bots[bot.ID])

	stored, err := s.Get(context.Background(), bot.ID)
	require.NoError(t, err)
	assert.Equal(t, bot.ID, stored.ID)

	_, err = s.Get(context.Background(), "unknown")
	assert.ErrorIs(t, err, persistence.ErrBotNotFound)
}
