package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"skillswap-chat-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyMessage    = errors.New("message needs text or an image")
)

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	Append(ctx context.Context, chatID, senderID int, text, imageURL string) (models.Message, error)
	Page(ctx context.Context, chatID, page, limit int) ([]models.MessageView, error)
	GetView(ctx context.Context, messageID int) (models.MessageView, error)
	MarkAllRead(ctx context.Context, chatID, readerID int) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append stores an immutable message with the sender pre-marked as reader.
// Empty messages are rejected before touching the database.
func (r *MessageRepo) Append(ctx context.Context, chatID, senderID int, text, imageURL string) (models.Message, error) {
	if text == "" && imageURL == "" {
		return models.Message{}, ErrEmptyMessage
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var msg models.Message
	if err = tx.QueryRowxContext(ctx,
		`INSERT INTO messages (chat_id, sender_id, text, image_url) VALUES ($1, $2, $3, $4)
         RETURNING id, chat_id, sender_id, text, image_url, created_at`,
		chatID, senderID, text, imageURL).StructScan(&msg); err != nil {
		return models.Message{}, err
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2)`, msg.ID, senderID); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	msg.ReadBy = []int{senderID}
	return msg, nil
}

const messageViewQuery = `
    SELECT m.id, m.chat_id, m.text, m.image_url, m.created_at,
           u.id AS sender_id, u.full_name, u.avatar_url,
           COALESCE((SELECT array_agg(r.user_id ORDER BY r.user_id) FROM message_reads r WHERE r.message_id = m.id), '{}') AS read_by
    FROM messages m
    JOIN users u ON u.id = m.sender_id`

// Page returns one newest-first page of hydrated messages.
func (r *MessageRepo) Page(ctx context.Context, chatID, page, limit int) ([]models.MessageView, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	offset := (page - 1) * limit

	rows, err := r.db.QueryxContext(ctx,
		messageViewQuery+`
        WHERE m.chat_id=$1
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT $2 OFFSET $3`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := []models.MessageView{}
	for rows.Next() {
		view, err := scanMessageView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, rows.Err()
}

// GetView fetches a single hydrated message.
func (r *MessageRepo) GetView(ctx context.Context, messageID int) (models.MessageView, error) {
	rows, err := r.db.QueryxContext(ctx, messageViewQuery+` WHERE m.id=$1`, messageID)
	if err != nil {
		return models.MessageView{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return models.MessageView{}, err
		}
		return models.MessageView{}, ErrMessageNotFound
	}
	return scanMessageView(rows)
}

// MarkAllRead adds the reader to the read set of every message in the chat
// it has not read yet. Idempotent: a second call reports zero modified.
func (r *MessageRepo) MarkAllRead(ctx context.Context, chatID, readerID int) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO message_reads (message_id, user_id)
         SELECT m.id, $2 FROM messages m WHERE m.chat_id=$1
         ON CONFLICT DO NOTHING`, chatID, readerID)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}

func scanMessageView(rows *sqlx.Rows) (models.MessageView, error) {
	var (
		view   models.MessageView
		readBy pq.Int64Array
	)
	err := rows.Scan(&view.ID, &view.ChatID, &view.Text, &view.ImageURL, &view.CreatedAt,
		&view.Sender.ID, &view.Sender.FullName, &view.Sender.AvatarURL, &readBy)
	if err != nil {
		return models.MessageView{}, err
	}
	view.ReadBy = toIntSlice(readBy)
	return view, nil
}
