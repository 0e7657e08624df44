package model

import "time"

type RateLimitState struct {
	MessageCount    int       `json:"message_count"`
	LastMessageTime time.Time `json:"last_message_time"`
	CreatedAt       time.Time `json:"created_at"`
}

type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"resetTime"`
}

type MessageLogEntry struct {
	RequesterID string
	Message     string
	Response    string
	Timestamp   time.Time
}
