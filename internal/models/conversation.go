package models

import (
	"sort"
	"strings"
	"time"
)

// Conversation is either a private chat between two users or a named group.
type Conversation struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name,omitempty"`
	IsGroup       bool      `db:"is_group" json:"isGroup"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	LastMessageAt time.Time `db:"last_message_at" json:"lastMessageAt"`
	UserIDs       []string  `db:"-" json:"userIds"`
	Users         []User    `db:"-" json:"users"`
	Messages      []Message `db:"-" json:"messages"`
}

// HasMember reports whether userID belongs to the conversation.
func (c Conversation) HasMember(userID string) bool {
	for _, id := range c.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// PairKey returns the canonical key of an unordered pair of users.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}
