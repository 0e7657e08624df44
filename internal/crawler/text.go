package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func extractTitle(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// extractText flattens the document to plain text. Script and style blocks are dropped, every tag
// boundary becomes a space and whitespace runs collapse to one space.
func extractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, template").Remove()

	var sb strings.Builder
	for _, n := range doc.Nodes {
		collectText(n, &sb)
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func collectText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
		return
	case html.CommentNode, html.DoctypeNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
	if n.Type == html.ElementNode {
		sb.WriteByte(' ')
	}
}
