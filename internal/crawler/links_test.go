package crawler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCandidates_SameSiteOnly(t *testing.T) {
	seed := mustParse(t, "https://example.com")
	body := htmlPage("Example", `
		<a href="/about">About</a>
		<a href="/contact">Contact</a>
		<a href="https://other.com/x">Other</a>
		<a href="#top">Top</a>`)

	got := ExtractCandidates(seed, []byte(body), 20)

	assert.Equal(t, []string{"/about", "/contact"}, got)
}

func TestExtractCandidates_NormalizesAndDeduplicates(t *testing.T) {
	seed := mustParse(t, "https://example.com/")
	body := htmlPage("Example", `
		<a href="/about">About</a>
		<a href="/about/">About again</a>
		<a href="https://example.com/about?ref=nav#team">About with query</a>
		<a href="pricing/">Pricing</a>
		<a href="//example.com/blog/">Blog</a>
		<a href="https://www.example.com/careers">Careers</a>`)

	got := ExtractCandidates(seed, []byte(body), 20)

	assert.Equal(t, []string{"/about", "/pricing", "/blog", "/careers"}, got)
}

func TestExtractCandidates_SkipsNonPages(t *testing.T) {
	seed := mustParse(t, "https://example.com")
	body := htmlPage("Example", `
		<link rel="stylesheet" href="/static/site.css">
		<a href="mailto:hello@example.com">Mail</a>
		<a href="tel:+123456">Call</a>
		<a href="javascript:void(0)">Noop</a>
		<a href="/files/brochure.pdf">Brochure</a>
		<a href="/img/logo.PNG">Logo</a>
		<a href="/img/photo.jpg">Photo</a>
		<a href="/anim.gif">Gif</a>
		<a href="/">Home</a>
		<a href="?page=2">Next</a>
		<a href="/services">Services</a>`)

	got := ExtractCandidates(seed, []byte(body), 20)

	assert.Equal(t, []string{"/services"}, got)
}

func TestExtractCandidates_CapsInDocumentOrder(t *testing.T) {
	seed := mustParse(t, "https://example.com")
	var links strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&links, `<a href="/page-%d">Page %d</a>`, i, i)
	}

	got := ExtractCandidates(seed, []byte(htmlPage("Many", links.String())), 20)

	assert.Len(t, got, 20)
	assert.Equal(t, "/page-0", got[0])
	assert.Equal(t, "/page-19", got[19])
}

func TestExtractCandidates_Empty(t *testing.T) {
	seed := mustParse(t, "https://example.com")
	assert.Empty(t, ExtractCandidates(seed, []byte(""), 20))
	assert.Empty(t, ExtractCandidates(seed, []byte("<p>no links</p>"), 20))
}

func TestPageURL(t *testing.T) {
	seed := mustParse(t, "https://example.com/shop/")

	u, ok := PageURL(seed, "/about")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/about", u)

	u, ok = PageURL(seed, "/")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/", u)

	_, ok = PageURL(seed, "https://other.com/about")
	assert.False(t, ok)
}

func TestValidateSeedURL(t *testing.T) {
	u, err := ValidateSeedURL(" https://example.com ")
	assert.NoError(t, err)
	assert.Equal(t, "example.com", u.Host)

	for _, raw := range []string{"", "example.com", "ftp://example.com", "https://", "http://%zz"} {
		_, err := ValidateSeedURL(raw)
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}
