package delivery_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"skillswap-chat-service/internal/delivery"
	"skillswap-chat-service/internal/media"
	"skillswap-chat-service/internal/mocks"
	"skillswap-chat-service/internal/models"
	"skillswap-chat-service/internal/repositories"
)

type pipelineFixture struct {
	chats    *mocks.ChatRepositoryMock
	messages *mocks.MessageRepositoryMock
	users    *mocks.UserRepositoryMock
	presence *mocks.PresenceMock
	uploader *mocks.UploaderMock
	pipeline *delivery.Pipeline
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		chats:    new(mocks.ChatRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		users:    new(mocks.UserRepositoryMock),
		presence: new(mocks.PresenceMock),
		uploader: new(mocks.UploaderMock),
	}
	f.pipeline = delivery.NewPipeline(f.chats, f.messages, f.users, f.presence, f.uploader)
	return f
}

func TestSendCreatesDirectChatOnFirstContact(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	// Target 2 is no chat id, so it is resolved as user B's id.
	f.chats.On("GetChat", mock.Anything, 2).Return(models.Chat{}, repositories.ErrChatNotFound).Once()
	f.users.On("GetUser", mock.Anything, 2).Return(models.User{ID: 2, FullName: "Bea"}, nil).Once()
	f.chats.On("ResolveOrCreateDirect", mock.Anything, 1, 2).Return(models.Chat{ID: 9}, nil).Once()
	f.messages.On("Append", mock.Anything, 9, 1, "hi", "").Return(models.Message{ID: 7, ChatID: 9, SenderID: 1, Text: "hi", ReadBy: []int{1}}, nil).Once()
	f.chats.On("SetLatestMessage", mock.Anything, 9, 7).Return(nil).Once()
	view := models.MessageView{ID: 7, ChatID: 9, Text: "hi", ReadBy: []int{1}, Sender: models.UserSummary{ID: 1, FullName: "Al"}}
	f.messages.On("GetView", mock.Anything, 7).Return(view, nil).Once()
	f.chats.On("Members", mock.Anything, 9).Return([]int{1, 2}, nil).Once()
	f.presence.On("Push", 2, mock.Anything).Return(true).Once()

	got, err := f.pipeline.Send(ctx, 1, 2, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, view, got)
	assert.Equal(t, "Al", got.Sender.FullName)

	f.chats.AssertExpectations(t)
	f.messages.AssertExpectations(t)
	f.users.AssertExpectations(t)
	f.presence.AssertExpectations(t)
}

func TestSendIntoExistingChatRequiresMembership(t *testing.T) {
	f := newPipelineFixture()

	f.chats.On("GetChat", mock.Anything, 5).Return(models.Chat{ID: 5}, nil).Once()
	f.chats.On("IsMember", mock.Anything, 5, 1).Return(false, nil).Once()

	_, err := f.pipeline.Send(context.Background(), 1, 5, "hi", nil)
	assert.ErrorIs(t, err, delivery.ErrNotChatMember)
	f.messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendToSelfIsRejected(t *testing.T) {
	f := newPipelineFixture()

	f.chats.On("GetChat", mock.Anything, 1).Return(models.Chat{}, repositories.ErrChatNotFound).Once()

	_, err := f.pipeline.Send(context.Background(), 1, 1, "hi", nil)
	assert.ErrorIs(t, err, repositories.ErrSelfChat)
}

func TestSendToUnknownPeerFails(t *testing.T) {
	f := newPipelineFixture()

	f.chats.On("GetChat", mock.Anything, 44).Return(models.Chat{}, repositories.ErrChatNotFound).Once()
	f.users.On("GetUser", mock.Anything, 44).Return(models.User{}, repositories.ErrUserNotFound).Once()

	_, err := f.pipeline.Send(context.Background(), 1, 44, "hi", nil)
	assert.ErrorIs(t, err, repositories.ErrUserNotFound)
}

func TestSendInvalidTarget(t *testing.T) {
	f := newPipelineFixture()

	_, err := f.pipeline.Send(context.Background(), 1, 0, "hi", nil)
	assert.ErrorIs(t, err, delivery.ErrInvalidTarget)
}

func TestSendUploadFailurePersistsNothing(t *testing.T) {
	f := newPipelineFixture()

	f.chats.On("GetChat", mock.Anything, 5).Return(models.Chat{ID: 5}, nil).Once()
	f.chats.On("IsMember", mock.Anything, 5, 1).Return(true, nil).Once()
	f.uploader.On("Upload", mock.Anything, "pic.png", "image/png", mock.Anything).Return("", media.ErrUploadFailed).Once()

	image := &delivery.ImageAttachment{Filename: "pic.png", ContentType: "image/png", Data: []byte{1, 2, 3}}
	_, err := f.pipeline.Send(context.Background(), 1, 5, "", image)
	assert.ErrorIs(t, err, media.ErrUploadFailed)

	f.messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.chats.AssertNotCalled(t, "SetLatestMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendEmptyMessageRejected(t *testing.T) {
	f := newPipelineFixture()

	f.chats.On("GetChat", mock.Anything, 5).Return(models.Chat{ID: 5}, nil).Once()
	f.chats.On("IsMember", mock.Anything, 5, 1).Return(true, nil).Once()
	f.messages.On("Append", mock.Anything, 5, 1, "", "").Return(models.Message{}, repositories.ErrEmptyMessage).Once()

	_, err := f.pipeline.Send(context.Background(), 1, 5, "", nil)
	assert.ErrorIs(t, err, repositories.ErrEmptyMessage)
}

func TestSendFansOutToGroupRecipients(t *testing.T) {
	f := newPipelineFixture()

	f.chats.On("GetChat", mock.Anything, 8).Return(models.Chat{ID: 8, IsGroup: true}, nil).Once()
	f.chats.On("IsMember", mock.Anything, 8, 1).Return(true, nil).Once()
	f.messages.On("Append", mock.Anything, 8, 1, "all hands", "").Return(models.Message{ID: 30, ChatID: 8, SenderID: 1}, nil).Once()
	f.chats.On("SetLatestMessage", mock.Anything, 8, 30).Return(nil).Once()
	f.messages.On("GetView", mock.Anything, 30).Return(models.MessageView{ID: 30, ChatID: 8}, nil).Once()
	f.chats.On("Members", mock.Anything, 8).Return([]int{1, 2, 3, 4}, nil).Once()
	// Offline recipients are not an error.
	f.presence.On("Push", 2, mock.Anything).Return(true).Once()
	f.presence.On("Push", 3, mock.Anything).Return(false).Once()
	f.presence.On("Push", 4, mock.Anything).Return(true).Once()

	_, err := f.pipeline.Send(context.Background(), 1, 8, "all hands", nil)
	require.NoError(t, err)
	f.presence.AssertExpectations(t)
	f.presence.AssertNotCalled(t, "Push", 1, mock.Anything)
}

func TestMarkReadDelegatesToMessageStore(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	receipts := delivery.NewReceipts(messages)

	messages.On("MarkAllRead", mock.Anything, 5, 2).Return(3, nil).Once()
	messages.On("MarkAllRead", mock.Anything, 5, 2).Return(0, nil).Once()

	first, err := receipts.MarkRead(context.Background(), 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, first)

	second, err := receipts.MarkRead(context.Background(), 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, second)
}

func TestMarkReadRejectsMalformedChatID(t *testing.T) {
	receipts := delivery.NewReceipts(new(mocks.MessageRepositoryMock))

	_, err := receipts.MarkRead(context.Background(), -1, 2)
	assert.ErrorIs(t, err, delivery.ErrInvalidTarget)
}
