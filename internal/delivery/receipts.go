package delivery

import (
	"context"

	"skillswap-chat-service/internal/repositories"
)

// Receipts is the read-receipt engine: it validates the chat id and
// delegates the bulk mark to the message store. No state of its own.
type Receipts struct {
	messages repositories.MessageRepository
}

// NewReceipts constructs a Receipts engine.
func NewReceipts(messages repositories.MessageRepository) *Receipts {
	return &Receipts{messages: messages}
}

// MarkRead marks every unread message in the chat as read by readerID and
// returns how many messages actually changed.
func (r *Receipts) MarkRead(ctx context.Context, chatID, readerID int) (int, error) {
	if chatID <= 0 {
		return 0, ErrInvalidTarget
	}
	return r.messages.MarkAllRead(ctx, chatID, readerID)
}
