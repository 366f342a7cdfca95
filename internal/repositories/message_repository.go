package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chirpchat/internal/models"
)

// NewMessage describes a message to append.
type NewMessage struct {
	ConversationID string
	SenderID       string
	Body           string
	Image          string
}

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	AppendMessage(ctx context.Context, in NewMessage) (models.Message, models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage stores the message, marks it seen by the sender and bumps the
// conversation's last activity in one transaction. It returns the stored
// message with resolved users and the conversation with its members.
func (r *MessageRepo) AppendMessage(ctx context.Context, in NewMessage) (models.Message, models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// The row lock taken here serializes appends to the same conversation, so
	// last_message_at strictly increases even when clocks tie.
	var at time.Time
	err = tx.QueryRowxContext(ctx, `UPDATE conversations
        SET last_message_at = GREATEST(NOW(), last_message_at + INTERVAL '1 microsecond')
        WHERE id = $1
        RETURNING last_message_at`, in.ConversationID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Message{}, models.Conversation{}, err
	}

	id := models.NewID()
	if _, err = tx.ExecContext(ctx, `INSERT INTO messages (id, conversation_id, sender_id, body, image, created_at)
        VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)`,
		id, in.ConversationID, in.SenderID, in.Body, in.Image, at); err != nil {
		return models.Message{}, models.Conversation{}, err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO message_seen (message_id, user_id) VALUES ($1, $2)`, id, in.SenderID); err != nil {
		return models.Message{}, models.Conversation{}, err
	}
	// Resolve the result inside the transaction so a committed message is
	// always returned to the caller.
	msgs, err := loadMessages(ctx, tx, `m.id = $1`, id)
	if err != nil {
		return models.Message{}, models.Conversation{}, err
	}
	if len(msgs) == 0 {
		err = ErrMessageNotFound
		return models.Message{}, models.Conversation{}, err
	}

	var conv models.Conversation
	if err = tx.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, in.ConversationID); err != nil {
		return models.Message{}, models.Conversation{}, err
	}
	members, err := loadMembers(ctx, tx, []string{conv.ID})
	if err != nil {
		return models.Message{}, models.Conversation{}, err
	}
	setMembers(&conv, members[conv.ID])
	conv.Messages = []models.Message{msgs[0]}

	if err = tx.Commit(); err != nil {
		return models.Message{}, models.Conversation{}, err
	}
	return msgs[0], conv, nil
}

// ListMessages returns the conversation's messages, oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return loadMessages(ctx, r.db, `m.conversation_id = $1`, conversationID)
}

var ErrMessageNotFound = errors.New("message not found")

type messageRow struct {
	models.Message
	SenderUser models.User `db:"sender"`
}

type seenRow struct {
	MessageID string `db:"message_id"`
	models.User
}

func loadMessages(ctx context.Context, q sqlx.QueryerContext, where string, args ...any) ([]models.Message, error) {
	var rows []messageRow
	err := sqlx.SelectContext(ctx, q, &rows, `SELECT m.id, m.conversation_id, COALESCE(m.body, '') AS body, COALESCE(m.image, '') AS image,
            m.sender_id, m.created_at,
            u.id AS "sender.id", COALESCE(u.name, '') AS "sender.name", COALESCE(u.email, '') AS "sender.email",
            COALESCE(u.image, '') AS "sender.image", u.created_at AS "sender.created_at"
        FROM messages m
        INNER JOIN users u ON u.id = m.sender_id
        WHERE `+where+`
        ORDER BY m.created_at ASC`, args...)
	if err != nil {
		return nil, err
	}

	msgs := make([]models.Message, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		msg := row.Message
		msg.Sender = row.SenderUser
		msgs = append(msgs, msg)
		ids = append(ids, msg.ID)
	}
	if len(ids) == 0 {
		return msgs, nil
	}

	var seen []seenRow
	err = sqlx.SelectContext(ctx, q, &seen, `SELECT s.message_id, `+userColumns+`
        FROM message_seen s
        INNER JOIN users u ON u.id = s.user_id
        WHERE s.message_id = ANY($1)
        ORDER BY u.id`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	seenBy := map[string][]models.User{}
	for _, row := range seen {
		seenBy[row.MessageID] = append(seenBy[row.MessageID], row.User)
	}
	for i := range msgs {
		msgs[i].Seen = seenBy[msgs[i].ID]
		if msgs[i].Seen == nil {
			msgs[i].Seen = []models.User{}
		}
		msgs[i].SeenIDs = make([]string, 0, len(msgs[i].Seen))
		for _, u := range msgs[i].Seen {
			msgs[i].SeenIDs = append(msgs[i].SeenIDs, u.ID)
		}
	}
	return msgs, nil
}
