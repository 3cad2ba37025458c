package models

import "time"

// Message is an immutable chat message. Either Text or ImageURL is set.
// The read set only grows and always contains the sender.
type Message struct {
	ID        int       `db:"id" json:"id"`
	ChatID    int       `db:"chat_id" json:"chat_id"`
	SenderID  int       `db:"sender_id" json:"sender_id"`
	Text      string    `db:"text" json:"text,omitempty"`
	ImageURL  string    `db:"image_url" json:"image_url,omitempty"`
	ReadBy    []int     `db:"-" json:"read_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MessageView is a message hydrated with the sender's display data, the
// shape returned by the history feed, the send response and the push event.
type MessageView struct {
	ID        int         `json:"id"`
	ChatID    int         `json:"chat_id"`
	Text      string      `json:"text,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	ReadBy    []int       `json:"read_by"`
	Sender    UserSummary `json:"sender"`
	CreatedAt time.Time   `json:"created_at"`
}

// ChatEvent is emitted over WebSocket connections.
type ChatEvent struct {
	Type    string       `json:"type"`
	Message *MessageView `json:"message,omitempty"`
	UserIDs []int        `json:"user_ids,omitempty"`
}

// Event type values for ChatEvent.
const (
	EventNewMessage  = "new_message"
	EventOnlineUsers = "online_users"
)
