package chat

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/IliaW/site-bot/config"
)

const botSystemPrompt = "You are a professional website guide. Strictly stick to the provided website content. " +
	"Respond in 2 lines maximum unless the answer requires more clarification. Use short, easy English."

// SitePrompt builds the general chat system prompt from the site description.
func SitePrompt(site *config.SiteConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a demo AI assistant for %s", site.Name)
	if site.Description != "" {
		fmt.Fprintf(&b, ", %s", site.Description)
	}
	b.WriteString(".\n\n")
	if site.Tagline != "" {
		fmt.Fprintf(&b, "%s\n\n", site.Tagline)
	}
	if len(site.Services) > 0 {
		fmt.Fprintf(&b, "IMPORTANT: This is just a demo. %s specializes in:\n", site.Name)
		for _, s := range site.Services {
			fmt.Fprintf(&b, "- %s", s.Title)
			if s.Description != "" {
				fmt.Fprintf(&b, ": %s", s.Description)
			}
			if len(s.Features) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(s.Features, ", "))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Always mention this is a demo and that %s can help with real implementations. "+
		"Keep answers concise, ideally one line unless more explanation is needed.", site.Name)

	return b.String()
}

var cannedReplies = []struct {
	keywords []string
	reply    string
}{
	{[]string{"hello", "hi", "hey"}, "Hello! I will guide you about this site. What would you like to know?"},
	{[]string{"contact", "email"}, "For contact information, please check the contact section of the website."},
	{[]string{"about", "company"},
		"I can help you learn about this company. Please ask about specific services or information."},
}

const genericReply = "I can answer questions about this website. Please ask about specific content or services."

// CannedReply picks a fixed answer by whole-word keyword match.
func CannedReply(question string) string {
	words := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, c := range cannedReplies {
		for _, k := range c.keywords {
			if slices.Contains(words, k) {
				return c.reply
			}
		}
	}
	return genericReply
}
