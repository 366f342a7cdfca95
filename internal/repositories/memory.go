package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"chirpchat/internal/models"
)

// MemoryStore keeps users, conversations and messages in process. It satisfies
// the same repository interfaces as the sqlx repos and is used when the
// service runs without postgres.
type MemoryStore struct {
	mu            sync.Mutex
	now           func() time.Time
	users         map[string]models.User
	conversations map[string]*memoryConversation
	pairKeys      map[string]string
}

type memoryConversation struct {
	conv     models.Conversation
	messages []models.Message
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		users:         make(map[string]models.User),
		conversations: make(map[string]*memoryConversation),
		pairKeys:      make(map[string]string),
	}
}

// SetClock replaces the time source used for timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

var (
	_ UserRepository         = (*MemoryStore)(nil)
	_ ConversationRepository = (*MemoryStore)(nil)
	_ MessageRepository      = (*MemoryStore)(nil)
)

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) GetUsers(ctx context.Context, userIDs []string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]models.User, 0, len(userIDs))
	for _, id := range userIDs {
		if u, ok := s.users[id]; ok {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *MemoryStore) UpsertUser(ctx context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[user.ID]
	if !ok {
		if user.CreatedAt.IsZero() {
			user.CreatedAt = s.now().UTC()
		}
		s.users[user.ID] = user
		return nil
	}
	if user.Name != "" {
		existing.Name = user.Name
	}
	if user.Email != "" {
		existing.Email = user.Email
	}
	if user.Image != "" {
		existing.Image = user.Image
	}
	s.users[user.ID] = existing
	return nil
}

func (s *MemoryStore) FindSingle(ctx context.Context, userID, otherUserID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *memoryConversation
	for _, mc := range s.conversations {
		c := mc.conv
		if c.IsGroup || len(c.UserIDs) != 2 || !c.HasMember(userID) || !c.HasMember(otherUserID) {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.conv.CreatedAt) {
			found = mc
		}
	}
	if found == nil {
		return models.Conversation{}, ErrConversationNotFound
	}
	return s.resolveLocked(found, false), nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, in NewConversation) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.PairKey != "" {
		if _, taken := s.pairKeys[in.PairKey]; taken {
			return models.Conversation{}, ErrDuplicatePair
		}
	}
	now := s.now().UTC()
	mc := &memoryConversation{conv: models.Conversation{
		ID:            models.NewID(),
		Name:          in.Name,
		IsGroup:       in.IsGroup,
		CreatedAt:     now,
		LastMessageAt: now,
		UserIDs:       append([]string(nil), in.MemberIDs...),
	}}
	s.conversations[mc.conv.ID] = mc
	if in.PairKey != "" {
		s.pairKeys[in.PairKey] = mc.conv.ID
	}
	return s.resolveLocked(mc, false), nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return s.resolveLocked(mc, false), nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	convs := []models.Conversation{}
	for _, mc := range s.conversations {
		if mc.conv.HasMember(userID) {
			convs = append(convs, s.resolveLocked(mc, true))
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].LastMessageAt.After(convs[j].LastMessageAt) })
	return convs, nil
}

func (s *MemoryStore) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc, ok := s.conversations[conversationID]
	return ok && mc.conv.HasMember(userID), nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, in NewMessage) (models.Message, models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc, ok := s.conversations[in.ConversationID]
	if !ok {
		return models.Message{}, models.Conversation{}, ErrConversationNotFound
	}

	at := s.now().UTC()
	if floor := mc.conv.LastMessageAt.Add(time.Microsecond); at.Before(floor) {
		at = floor
	}
	mc.conv.LastMessageAt = at

	msg := models.Message{
		ID:             models.NewID(),
		ConversationID: in.ConversationID,
		Body:           in.Body,
		Image:          in.Image,
		SenderID:       in.SenderID,
		CreatedAt:      at,
		SeenIDs:        []string{in.SenderID},
	}
	mc.messages = append(mc.messages, msg)

	resolved := s.resolveMessageLocked(msg)
	conv := s.resolveLocked(mc, false)
	conv.Messages = []models.Message{resolved}
	return resolved, conv, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc, ok := s.conversations[conversationID]
	if !ok {
		return []models.Message{}, nil
	}
	msgs := make([]models.Message, 0, len(mc.messages))
	for _, m := range mc.messages {
		msgs = append(msgs, s.resolveMessageLocked(m))
	}
	return msgs, nil
}

func (s *MemoryStore) resolveLocked(mc *memoryConversation, withMessages bool) models.Conversation {
	conv := mc.conv
	conv.UserIDs = append([]string(nil), mc.conv.UserIDs...)
	conv.Users = make([]models.User, 0, len(conv.UserIDs))
	for _, id := range conv.UserIDs {
		if u, ok := s.users[id]; ok {
			conv.Users = append(conv.Users, u)
		}
	}
	conv.Messages = []models.Message{}
	if withMessages {
		for _, m := range mc.messages {
			conv.Messages = append(conv.Messages, s.resolveMessageLocked(m))
		}
	}
	return conv
}

func (s *MemoryStore) resolveMessageLocked(m models.Message) models.Message {
	m.Sender = s.users[m.SenderID]
	m.SeenIDs = append([]string(nil), m.SeenIDs...)
	m.Seen = make([]models.User, 0, len(m.SeenIDs))
	for _, id := range m.SeenIDs {
		if u, ok := s.users[id]; ok {
			m.Seen = append(m.Seen, u)
		}
	}
	return m
}
