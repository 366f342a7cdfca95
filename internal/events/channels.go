package events

import "chirpchat/internal/models"

// PersonalChannel is the per-user channel carrying conversation list events.
// Users without an email cannot be addressed.
func PersonalChannel(u models.User) (string, bool) {
	if !u.HasEmail() {
		return "", false
	}
	return u.Email, true
}

// ConversationChannel is the channel carrying message events of one conversation.
func ConversationChannel(conversationID string) string {
	return conversationID
}
