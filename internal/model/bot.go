package model

import (
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

const HomePath = "/"

// TruncationMarker is appended to BotContent.Raw when the crawl produced more text than allowed.
const TruncationMarker = "..."

var ErrInvalidBot = errors.New("invalid bot record")

// CommonPages is the allowlist used for BotMetadata.RecommendedPaths.
var CommonPages = []string{"/", "/about", "/contact", "/services", "/products", "/blog"}

type PathOption struct {
	Path        string `json:"path"`
	Title       string `json:"title"`
	Recommended bool   `json:"recommended"`
}

type PageRecord struct {
	URL         string    `json:"url" bson:"url"`
	Title       string    `json:"title" bson:"title"`
	Content     string    `json:"content" bson:"content"`
	ExtractedAt time.Time `json:"extractedAt" bson:"extracted_at"`
}

// StructuredContent is the bundle serialized into BotContent.Structured.
type StructuredContent struct {
	Pages       []PageRecord `json:"pages"`
	TotalPages  int          `json:"totalPages"`
	ProcessedAt time.Time    `json:"processedAt"`
}

type BotContent struct {
	Raw        string       `json:"raw" bson:"raw"`
	Structured string       `json:"structured" bson:"structured"`
	Pages      []PageRecord `json:"pages" bson:"pages"`
}

type BotMetadata struct {
	TotalPages       int       `json:"totalPages" bson:"total_pages"`
	ContentLength    int       `json:"contentLength" bson:"content_length"`
	CreatedAt        time.Time `json:"createdAt" bson:"created_at"`
	RequesterID      string    `json:"requesterId" bson:"requester_id"`
	RecommendedPaths []string  `json:"recommendedPaths" bson:"recommended_paths"`
}

type BotRecord struct {
	ID         string      `json:"id" bson:"_id"`
	WebsiteURL string      `json:"websiteUrl" bson:"website_url"`
	Paths      []string    `json:"paths" bson:"paths"`
	Content    BotContent  `json:"content" bson:"content"`
	Metadata   BotMetadata `json:"metadata" bson:"metadata"`
}

// WithHome returns paths with the home path prepended when it is missing.
func WithHome(paths []string) []string {
	if slices.Contains(paths, HomePath) {
		return paths
	}
	return append([]string{HomePath}, paths...)
}

// RecommendedPaths keeps the paths that belong to CommonPages, preserving order.
func RecommendedPaths(paths []string) []string {
	recommended := make([]string, 0, len(CommonPages))
	for _, p := range paths {
		if slices.Contains(CommonPages, p) {
			recommended = append(recommended, p)
		}
	}
	return recommended
}

func (c *BotContent) DecodeStructured() (*StructuredContent, error) {
	var s StructuredContent
	if err := jsoniter.UnmarshalFromString(c.Structured, &s); err != nil {
		return nil, fmt.Errorf("decode structured content: %w", err)
	}
	return &s, nil
}

// Validate checks the invariants every stored bot must hold. maxRaw is the raw content ceiling
// without the truncation marker.
func (b *BotRecord) Validate(maxRaw int) error {
	if b.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidBot)
	}
	if !slices.Contains(b.Paths, HomePath) {
		return fmt.Errorf("%w: home path is missing", ErrInvalidBot)
	}
	rawLen := utf8.RuneCountInString(b.Content.Raw)
	if rawLen > maxRaw+utf8.RuneCountInString(TruncationMarker) {
		return fmt.Errorf("%w: raw content is %d characters", ErrInvalidBot, rawLen)
	}
	if b.Metadata.ContentLength != rawLen {
		return fmt.Errorf("%w: content length %d does not match raw content", ErrInvalidBot,
			b.Metadata.ContentLength)
	}
	if b.Metadata.TotalPages != len(b.Content.Pages) {
		return fmt.Errorf("%w: total pages %d, pages %d", ErrInvalidBot, b.Metadata.TotalPages,
			len(b.Content.Pages))
	}
	structured, err := b.Content.DecodeStructured()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBot, err)
	}
	if structured.TotalPages != len(structured.Pages) {
		return fmt.Errorf("%w: structured content is inconsistent", ErrInvalidBot)
	}
	return nil
}
