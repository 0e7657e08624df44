package crawler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/IliaW/site-bot/config"
	"github.com/stretchr/testify/require"
)

func testCrawlerConfig() *config.CrawlerConfig {
	return &config.CrawlerConfig{
		UserAgent:         "TestBot/1.0",
		FetchTimeout:      2 * time.Second,
		MaxCandidates:     20,
		MaxExtractPaths:   20,
		MaxContentLength:  500_000,
		MinPageTextLength: 100,
	}
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func htmlPage(title, body string) string {
	return "<!doctype html><html><head><title>" + title + "</title></head><body>" + body + "</body></html>"
}

func longText(word string, n int) string {
	return strings.TrimSpace(strings.Repeat(word+" ", n))
}

func newSite(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}
