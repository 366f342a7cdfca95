package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chirpchat/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrDuplicatePair        = errors.New("conversation already exists for pair")
)

// NewConversation describes a conversation to create. PairKey is only set when
// the caller enforces one conversation per pair of users.
type NewConversation struct {
	Name      string
	IsGroup   bool
	MemberIDs []string
	PairKey   string
}

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	FindSingle(ctx context.Context, userID, otherUserID string) (models.Conversation, error)
	CreateConversation(ctx context.Context, in NewConversation) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `c.id, COALESCE(c.name, '') AS name, c.is_group, c.created_at, c.last_message_at`

// FindSingle returns the oldest private conversation whose members are exactly the two users.
func (r *ConversationRepo) FindSingle(ctx context.Context, userID, otherUserID string) (models.Conversation, error) {
	var id string
	query := `SELECT c.id FROM conversations c
        WHERE c.is_group = FALSE
        AND EXISTS (SELECT 1 FROM conversation_members m WHERE m.conversation_id = c.id AND m.user_id = $1)
        AND EXISTS (SELECT 1 FROM conversation_members m WHERE m.conversation_id = c.id AND m.user_id = $2)
        AND (SELECT COUNT(*) FROM conversation_members m WHERE m.conversation_id = c.id) = 2
        ORDER BY c.created_at ASC
        LIMIT 1`
	if err := r.db.GetContext(ctx, &id, query, userID, otherUserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Conversation{}, ErrConversationNotFound
		}
		return models.Conversation{}, err
	}
	return r.GetConversation(ctx, id)
}

// CreateConversation inserts the conversation and its members atomically.
func (r *ConversationRepo) CreateConversation(ctx context.Context, in NewConversation) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	conv := models.Conversation{ID: models.NewID(), Name: in.Name, IsGroup: in.IsGroup}
	err = tx.QueryRowxContext(ctx, `INSERT INTO conversations (id, name, is_group, pair_key)
        VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''))
        RETURNING created_at, last_message_at`, conv.ID, in.Name, in.IsGroup, in.PairKey).
		Scan(&conv.CreatedAt, &conv.LastMessageAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return models.Conversation{}, ErrDuplicatePair
		}
		return models.Conversation{}, err
	}

	for i, userID := range in.MemberIDs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id, position) VALUES ($1, $2, $3)`, conv.ID, userID, i); err != nil {
			return models.Conversation{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return r.GetConversation(ctx, conv.ID)
}

// GetConversation fetches a conversation with its members.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}

	members, err := loadMembers(ctx, r.db, []string{conv.ID})
	if err != nil {
		return models.Conversation{}, err
	}
	setMembers(&conv, members[conv.ID])
	conv.Messages = []models.Message{}
	return conv, nil
}

// ListForUser returns the user's conversations, most recently active first,
// with members and messages.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, `SELECT `+conversationColumns+` FROM conversations c
        INNER JOIN conversation_members cm ON cm.conversation_id = c.id
        WHERE cm.user_id = $1
        ORDER BY c.last_message_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []models.Conversation{}, nil
	}

	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	members, err := loadMembers(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	msgs, err := loadMessages(ctx, r.db, `m.conversation_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	byConversation := map[string][]models.Message{}
	for _, m := range msgs {
		byConversation[m.ConversationID] = append(byConversation[m.ConversationID], m)
	}

	for i := range convs {
		setMembers(&convs[i], members[convs[i].ID])
		convs[i].Messages = byConversation[convs[i].ID]
		if convs[i].Messages == nil {
			convs[i].Messages = []models.Message{}
		}
	}
	return convs, nil
}

// IsMember checks membership.
func (r *ConversationRepo) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

type memberRow struct {
	ConversationID string `db:"conversation_id"`
	models.User
}

func loadMembers(ctx context.Context, q sqlx.QueryerContext, conversationIDs []string) (map[string][]models.User, error) {
	var rows []memberRow
	err := sqlx.SelectContext(ctx, q, &rows, `SELECT m.conversation_id, `+userColumns+`
        FROM conversation_members m
        INNER JOIN users u ON u.id = m.user_id
        WHERE m.conversation_id = ANY($1)
        ORDER BY m.conversation_id, m.position`, pq.Array(conversationIDs))
	if err != nil {
		return nil, err
	}
	result := make(map[string][]models.User, len(conversationIDs))
	for _, row := range rows {
		result[row.ConversationID] = append(result[row.ConversationID], row.User)
	}
	return result, nil
}

func setMembers(conv *models.Conversation, users []models.User) {
	conv.Users = users
	if conv.Users == nil {
		conv.Users = []models.User{}
	}
	conv.UserIDs = make([]string, 0, len(conv.Users))
	for _, u := range conv.Users {
		conv.UserIDs = append(conv.UserIDs, u.ID)
	}
}
