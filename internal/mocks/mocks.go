package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"skillswap-chat-service/internal/models"
	"skillswap-chat-service/internal/repositories"
)

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) FindDirectChat(ctx context.Context, userA, userB int) (models.Chat, error) {
	args := m.Called(ctx, userA, userB)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) CreateDirectChat(ctx context.Context, userA, userB int) (models.Chat, error) {
	args := m.Called(ctx, userA, userB)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) ResolveOrCreateDirect(ctx context.Context, userA, userB int) (models.Chat, error) {
	args := m.Called(ctx, userA, userB)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) CreateGroupChat(ctx context.Context, adminID int, name string, memberIDs []int) (models.Chat, error) {
	args := m.Called(ctx, adminID, name, memberIDs)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) IsMember(ctx context.Context, chatID, userID int) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ChatRepositoryMock) Members(ctx context.Context, chatID int) ([]int, error) {
	args := m.Called(ctx, chatID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ChatRepositoryMock) SetLatestMessage(ctx context.Context, chatID, messageID int) error {
	args := m.Called(ctx, chatID, messageID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) ListForUser(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ChatSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSummary)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, chatID, senderID int, text, imageURL string) (models.Message, error) {
	args := m.Called(ctx, chatID, senderID, text, imageURL)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) Page(ctx context.Context, chatID, page, limit int) ([]models.MessageView, error) {
	args := m.Called(ctx, chatID, page, limit)
	var views []models.MessageView
	if val := args.Get(0); val != nil {
		views = val.([]models.MessageView)
	}
	return views, args.Error(1)
}

func (m *MessageRepositoryMock) GetView(ctx context.Context, messageID int) (models.MessageView, error) {
	args := m.Called(ctx, messageID)
	var view models.MessageView
	if val := args.Get(0); val != nil {
		view = val.(models.MessageView)
	}
	return view, args.Error(1)
}

func (m *MessageRepositoryMock) MarkAllRead(ctx context.Context, chatID, readerID int) (int, error) {
	args := m.Called(ctx, chatID, readerID)
	return args.Int(0), args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) BulkUsers(ctx context.Context, ids []int) ([]models.User, error) {
	args := m.Called(ctx, ids)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

type UploaderMock struct {
	mock.Mock
}

func (m *UploaderMock) Upload(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, filename, contentType, data)
	return args.String(0), args.Error(1)
}

type PresenceMock struct {
	mock.Mock
}

func (m *PresenceMock) Push(userID int, event models.ChatEvent) bool {
	args := m.Called(userID, event)
	return args.Bool(0)
}

var _ repositories.ChatRepository = (*ChatRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
