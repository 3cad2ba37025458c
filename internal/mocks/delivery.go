package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"skillswap-chat-service/internal/delivery"
	"skillswap-chat-service/internal/models"
)

type SenderMock struct {
	mock.Mock
}

func (m *SenderMock) Send(ctx context.Context, requesterID, targetID int, text string, image *delivery.ImageAttachment) (models.MessageView, error) {
	args := m.Called(ctx, requesterID, targetID, text, image)
	var view models.MessageView
	if val := args.Get(0); val != nil {
		view = val.(models.MessageView)
	}
	return view, args.Error(1)
}

type ReceiptsMock struct {
	mock.Mock
}

func (m *ReceiptsMock) MarkRead(ctx context.Context, chatID, readerID int) (int, error) {
	args := m.Called(ctx, chatID, readerID)
	return args.Int(0), args.Error(1)
}
