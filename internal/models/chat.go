package models

import (
	"database/sql"
	"time"
)

// Chat is a conversation: a direct chat between exactly two users or a
// named group with an admin. For direct chats User1ID < User2ID always
// holds; for groups both are NULL and membership lives only in chat_members.
type Chat struct {
	ID              int           `db:"id" json:"id"`
	IsGroup         bool          `db:"is_group" json:"is_group"`
	Name            string        `db:"name" json:"name,omitempty"`
	AdminID         sql.NullInt64 `db:"admin_id" json:"-"`
	User1ID         sql.NullInt64 `db:"user1_id" json:"-"`
	User2ID         sql.NullInt64 `db:"user2_id" json:"-"`
	LatestMessageID sql.NullInt64 `db:"latest_message_id" json:"-"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// ChatSummary is the denormalized per-user view of a chat returned by the
// conversation list: member display data plus a latest-message summary,
// which is nil while the chat has no messages.
type ChatSummary struct {
	ChatID        int             `json:"chat_id"`
	IsGroup       bool            `json:"is_group"`
	Name          string          `json:"name,omitempty"`
	Members       []UserSummary   `json:"members"`
	LatestMessage *MessageSummary `json:"latest_message"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MessageSummary is the latest-message projection embedded in ChatSummary.
type MessageSummary struct {
	ID        int         `json:"id"`
	Text      string      `json:"text,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	ReadBy    []int       `json:"read_by"`
	Sender    UserSummary `json:"sender"`
	CreatedAt time.Time   `json:"created_at"`
}
