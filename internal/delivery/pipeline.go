package delivery

import (
	"context"
	"errors"
	"log"

	"skillswap-chat-service/internal/media"
	"skillswap-chat-service/internal/models"
	"skillswap-chat-service/internal/observability"
	"skillswap-chat-service/internal/repositories"
)

var (
	ErrInvalidTarget = errors.New("invalid target id")
	ErrNotChatMember = errors.New("not a chat member")
)

// Presence is the slice of the presence registry the pipeline needs.
type Presence interface {
	Push(userID int, event models.ChatEvent) bool
}

// ImageAttachment is an inbound image payload, handed to the media
// collaborator before anything is persisted.
type ImageAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Pipeline orchestrates a message send: resolve the target conversation,
// attach media, persist, move the latest-message pointer, push to online
// recipients, and return the hydrated message to the sender.
type Pipeline struct {
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	users    repositories.UserRepository
	presence Presence
	uploader media.Uploader
}

// NewPipeline constructs a Pipeline.
func NewPipeline(chats repositories.ChatRepository, messages repositories.MessageRepository, users repositories.UserRepository, presence Presence, uploader media.Uploader) *Pipeline {
	return &Pipeline{
		chats:    chats,
		messages: messages,
		users:    users,
		presence: presence,
		uploader: uploader,
	}
}

type targetKind int

const (
	targetExistingChat targetKind = iota
	targetPeerUser
)

// chatTarget is the resolved form of the ambiguous chat-id-or-user-id
// parameter, decided exactly once at the pipeline boundary.
type chatTarget struct {
	kind targetKind
	chat models.Chat
}

// resolveTarget binds the raw id to an existing chat the requester belongs
// to, or treats it as a peer user id and lazily resolves the direct chat.
func (p *Pipeline) resolveTarget(ctx context.Context, requesterID, targetID int) (chatTarget, error) {
	if targetID <= 0 {
		return chatTarget{}, ErrInvalidTarget
	}

	chat, err := p.chats.GetChat(ctx, targetID)
	if err == nil {
		member, err := p.chats.IsMember(ctx, chat.ID, requesterID)
		if err != nil {
			return chatTarget{}, err
		}
		if !member {
			return chatTarget{}, ErrNotChatMember
		}
		return chatTarget{kind: targetExistingChat, chat: chat}, nil
	}
	if !errors.Is(err, repositories.ErrChatNotFound) {
		return chatTarget{}, err
	}

	if targetID == requesterID {
		return chatTarget{}, repositories.ErrSelfChat
	}
	if _, err := p.users.GetUser(ctx, targetID); err != nil {
		return chatTarget{}, err
	}
	chat, err = p.chats.ResolveOrCreateDirect(ctx, requesterID, targetID)
	if err != nil {
		return chatTarget{}, err
	}
	return chatTarget{kind: targetPeerUser, chat: chat}, nil
}

// Send runs the full delivery pipeline and returns the hydrated persisted
// message. Push failures never surface: history retrieval is the durability
// guarantee for offline or flaky recipients.
func (p *Pipeline) Send(ctx context.Context, requesterID, targetID int, text string, image *ImageAttachment) (models.MessageView, error) {
	target, err := p.resolveTarget(ctx, requesterID, targetID)
	if err != nil {
		return models.MessageView{}, err
	}
	chat := target.chat

	imageURL := ""
	if image != nil && len(image.Data) > 0 {
		imageURL, err = p.uploader.Upload(ctx, image.Filename, image.ContentType, image.Data)
		if err != nil {
			return models.MessageView{}, err
		}
	}

	msg, err := p.messages.Append(ctx, chat.ID, requesterID, text, imageURL)
	if err != nil {
		return models.MessageView{}, err
	}

	if err := p.chats.SetLatestMessage(ctx, chat.ID, msg.ID); err != nil {
		return models.MessageView{}, err
	}

	view, err := p.messages.GetView(ctx, msg.ID)
	if err != nil {
		return models.MessageView{}, err
	}
	observability.IncMessageSent()

	members, err := p.chats.Members(ctx, chat.ID)
	if err != nil {
		// The message is durable; recipients fall back to polling.
		log.Printf("recipient lookup failed for chat %d: %v", chat.ID, err)
		return view, nil
	}

	event := models.ChatEvent{Type: models.EventNewMessage, Message: &view}
	for _, memberID := range members {
		if memberID == requesterID {
			continue
		}
		if p.presence.Push(memberID, event) {
			observability.IncPushDelivery("delivered")
		} else {
			observability.IncPushDelivery("missed")
		}
	}

	return view, nil
}
