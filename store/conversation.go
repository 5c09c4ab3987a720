package store

import "time"

// ConversationSummary is the rolling summary stored on
// public.conversations.summary as jsonb.
type ConversationSummary struct {
	Text          string    `json:"text"`
	Topics        []string  `json:"topics"`
	MessageCount  int       `json:"message_count"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}
