package crawler

import (
	"bytes"
	"log/slog"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var skippedExtensions = []string{
	".pdf", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".ico", ".bmp",
	".css", ".js", ".json", ".xml", ".zip", ".gz", ".mp3", ".mp4", ".avi", ".mov", ".woff", ".woff2",
}

// ExtractCandidates returns the same-site paths referenced by href attributes of body in document
// order, deduplicated and capped at limit.
func ExtractCandidates(seed *url.URL, body []byte, limit int) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		slog.Warn("failed to parse html.", slog.String("url", seed.String()), slog.String("err", err.Error()))
		return []string{}
	}

	candidates := make([]string, 0, limit)
	doc.Find("[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(candidates) >= limit {
			return false
		}
		href, _ := s.Attr("href")
		p, ok := candidatePath(seed, href)
		if ok && !slices.Contains(candidates, p) {
			candidates = append(candidates, p)
		}
		return true
	})

	return candidates
}

// candidatePath normalizes href to a site path: resolved against the seed origin, query and
// fragment dropped, trailing slash removed. The home path is reported as not a candidate.
func candidatePath(seed *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return "", false
	}

	resolved, ok := resolveSameSite(seed, href)
	if !ok {
		return "", false
	}

	p := strings.TrimRight(resolved.EscapedPath(), "/")
	if p == "" {
		return "", false
	}
	if slices.Contains(skippedExtensions, strings.ToLower(path.Ext(p))) {
		return "", false
	}
	return p, true
}

// resolveSameSite resolves ref against the origin of seed. Relative references are taken from the
// site root, not from the seed path.
func resolveSameSite(seed *url.URL, ref string) (*url.URL, bool) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return nil, false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "", "http", "https":
	default:
		return nil, false
	}

	origin := &url.URL{Scheme: seed.Scheme, Host: seed.Host, Path: "/"}
	resolved := origin.ResolveReference(parsed)
	if !sameSite(resolved.Hostname(), seed.Hostname()) {
		return nil, false
	}
	return resolved, true
}

func sameSite(a, b string) bool {
	a = strings.TrimPrefix(strings.ToLower(a), "www.")
	b = strings.TrimPrefix(strings.ToLower(b), "www.")
	return a == b
}

// PageURL builds the absolute url of a selected path on the seed site.
func PageURL(seed *url.URL, p string) (string, bool) {
	resolved, ok := resolveSameSite(seed, p)
	if !ok {
		return "", false
	}
	resolved.Fragment = ""
	return resolved.String(), true
}
