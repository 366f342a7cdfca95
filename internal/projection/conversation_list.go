package projection

import (
	"sync"

	"chirpchat/internal/channel"
	"chirpchat/internal/events"
	"chirpchat/internal/models"
)

// Session is the context a conversation list is bound to.
type Session struct {
	// Email names the personal channel. Empty means nothing is subscribed.
	Email string
	// OpenConversationID is the conversation currently on screen, if any.
	OpenConversationID string
	// OnNavigateAway is called with the id of the open conversation when it
	// is removed.
	OnNavigateAway func(conversationID string)
}

// ConversationList is one session's conversation list, kept current by
// folding personal channel events. New conversations are prepended and
// updates never reorder.
type ConversationList struct {
	mu       sync.Mutex
	session  Session
	items    []models.Conversation
	client   *channel.Client
	sub      *channel.Subscription
	bindings []channel.Binding
}

func NewConversationList(session Session, initial []models.Conversation) *ConversationList {
	return &ConversationList{
		session: session,
		items:   append([]models.Conversation(nil), initial...),
	}
}

// Bind subscribes the session's personal channel on client and binds the
// conversation handlers. Binding a different client releases the previous one.
func (l *ConversationList) Bind(client *channel.Client) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if client != l.client {
		l.teardownLocked()
	}
	l.client = client
	return l.bindLocked()
}

// Rebind tears down the current subscription and binds the channel of email.
func (l *ConversationList) Rebind(email string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if email == l.session.Email && l.sub != nil {
		return nil
	}
	l.teardownLocked()
	l.session.Email = email
	return l.bindLocked()
}

// SetOpenConversation records which conversation is on screen.
func (l *ConversationList) SetOpenConversation(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session.OpenConversationID = id
}

// Close unbinds every handler and unsubscribes the personal channel.
func (l *ConversationList) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.teardownLocked()
	l.client = nil
}

func (l *ConversationList) bindLocked() error {
	if l.client == nil || l.session.Email == "" || l.sub != nil {
		return nil
	}
	sub, err := l.client.Subscribe(l.session.Email)
	if err != nil {
		return err
	}
	l.sub = sub
	l.bindings = []channel.Binding{
		sub.Bind(events.ConversationNewName, l.Fold),
		sub.Bind(events.ConversationUpdateName, l.Fold),
		sub.Bind(events.ConversationRemoveName, l.Fold),
	}
	return nil
}

func (l *ConversationList) teardownLocked() {
	if l.sub == nil {
		return
	}
	for _, b := range l.bindings {
		l.sub.Unbind(b)
	}
	_ = l.client.Unsubscribe(l.sub.Channel())
	l.sub = nil
	l.bindings = nil
}

// Fold applies one event to the list.
func (l *ConversationList) Fold(evt events.Event) {
	var navigateAway func(string)
	var removedID string

	l.mu.Lock()
	switch e := evt.(type) {
	case events.ConversationNew:
		if l.indexLocked(e.Conversation.ID) < 0 {
			l.items = append([]models.Conversation{e.Conversation}, l.items...)
		}
	case events.ConversationUpdate:
		if i := l.indexLocked(e.ID); i >= 0 {
			l.items[i].Messages = e.Messages
		}
	case events.ConversationRemove:
		if i := l.indexLocked(e.Conversation.ID); i >= 0 {
			l.items = append(l.items[:i:i], l.items[i+1:]...)
		}
		if e.Conversation.ID != "" && e.Conversation.ID == l.session.OpenConversationID {
			navigateAway = l.session.OnNavigateAway
			removedID = e.Conversation.ID
		}
	}
	l.mu.Unlock()

	if navigateAway != nil {
		navigateAway(removedID)
	}
}

// Items returns a snapshot of the list.
func (l *ConversationList) Items() []models.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Conversation(nil), l.items...)
}

func (l *ConversationList) indexLocked(id string) int {
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}
