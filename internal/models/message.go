package models

import "time"

// Message is an append-only entry of a conversation. Sender and Seen carry the
// resolved users so clients can render without a follow-up fetch.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversationId"`
	Body           string    `db:"body" json:"body,omitempty"`
	Image          string    `db:"image" json:"image,omitempty"`
	SenderID       string    `db:"sender_id" json:"senderId"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	Sender         User      `db:"-" json:"sender"`
	SeenIDs        []string  `db:"-" json:"seenIds"`
	Seen           []User    `db:"-" json:"seen"`
}
