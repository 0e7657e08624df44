package model

import "time"

// ExtractTask is the asynchronous form of POST /api/bot/extract, read from Kafka.
type ExtractTask struct {
	URL         string   `json:"url"`
	Paths       []string `json:"paths"`
	RequesterID string   `json:"requester_id"`
}

// BotCreatedEvent is published for every persisted bot.
type BotCreatedEvent struct {
	BotID         string    `json:"bot_id"`
	WebsiteURL    string    `json:"website_url"`
	TotalPages    int       `json:"total_pages"`
	ContentLength int       `json:"content_length"`
	S3Key         string    `json:"s3_key,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Discovery struct {
	PathOptions []PathOption `json:"pathOptions"`
	TotalHrefs  int          `json:"totalHrefs"`
}
