package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"skillswap-chat-service/internal/delivery"
	"skillswap-chat-service/internal/media"
	"skillswap-chat-service/internal/models"
	"skillswap-chat-service/internal/repositories"
	"skillswap-chat-service/internal/telemetry"
)

const (
	defaultPage  = 1
	defaultLimit = 20
)

type messageSender interface {
	Send(ctx context.Context, requesterID, targetID int, text string, image *delivery.ImageAttachment) (models.MessageView, error)
}

type readMarker interface {
	MarkRead(ctx context.Context, chatID, readerID int) (int, error)
}

// ChatHandler manages the conversation endpoints.
type ChatHandler struct {
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	users    repositories.UserRepository
	pipeline messageSender
	receipts readMarker
	audit    *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chats repositories.ChatRepository, messages repositories.MessageRepository, users repositories.UserRepository, pipeline messageSender, receipts readMarker, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{
		chats:    chats,
		messages: messages,
		users:    users,
		pipeline: pipeline,
		receipts: receipts,
		audit:    audit,
	}
}

// ListChats returns the caller's conversations, newest activity first, each
// hydrated with member display data and the latest-message summary.
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := c.GetInt("userID")

	summaries, err := h.chats.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats", "kind": "internal"})
		return
	}
	if summaries == nil {
		summaries = []models.ChatSummary{}
	}

	c.JSON(http.StatusOK, gin.H{"chats": summaries})
}

// GetChatMessages returns one newest-first page of hydrated messages.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id", "kind": "validation_error"})
		return
	}

	userID := c.GetInt("userID")
	member, err := h.chats.IsMember(c.Request.Context(), chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership", "kind": "internal"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member", "kind": "unauthorized"})
		return
	}

	page := atoiOrDefault(c.Query("page"), defaultPage)
	limit := atoiOrDefault(c.Query("limit"), defaultLimit)

	views, err := h.messages.Page(c.Request.Context(), chatID, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages", "kind": "internal"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": views})
}

// SendMessage runs the delivery pipeline. The chat_id path parameter is
// either an existing chat id or a peer user id; the pipeline decides which.
// Accepts multipart form data (text field plus optional image file) or a
// plain JSON body with a text field.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	targetID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target id", "kind": "validation_error"})
		return
	}
	userID := c.GetInt("userID")

	text, image, err := readSendPayload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "validation_error"})
		return
	}

	view, err := h.pipeline.Send(c.Request.Context(), userID, targetID, text, image)
	if err != nil {
		h.emitAudit(c, "ERROR", "message send failed")
		respondError(c, err)
		return
	}

	h.emitAudit(c, "INFO", "message sent")
	c.JSON(http.StatusCreated, view)
}

// MarkRead marks every message in the chat as read by the caller.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id", "kind": "validation_error"})
		return
	}
	userID := c.GetInt("userID")

	modified, err := h.receipts.MarkRead(c.Request.Context(), chatID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"modified_count": modified})
}

// CreateGroupChat creates a group conversation with the caller as admin.
func (h *ChatHandler) CreateGroupChat(c *gin.Context) {
	userID := c.GetInt("userID")

	var req struct {
		Name      string `json:"name" binding:"required"`
		MemberIDs []int  `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "validation_error"})
		return
	}

	peers := make([]int, 0, len(req.MemberIDs))
	for _, id := range req.MemberIDs {
		if id != userID {
			peers = append(peers, id)
		}
	}
	if len(peers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a group needs at least one member besides the admin", "kind": "validation_error"})
		return
	}

	users, err := h.users.BulkUsers(c.Request.Context(), peers)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate members", "kind": "internal"})
		return
	}
	if len(users) != uniqueCount(peers) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown member", "kind": "not_found"})
		return
	}

	chat, err := h.chats.CreateGroupChat(c.Request.Context(), userID, req.Name, peers)
	if err != nil {
		h.emitAudit(c, "ERROR", "group chat creation failed")
		respondError(c, err)
		return
	}

	h.emitAudit(c, "INFO", "group chat created")
	c.JSON(http.StatusCreated, gin.H{"chat_id": chat.ID})
}

func (h *ChatHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}

func readSendPayload(c *gin.Context) (string, *delivery.ImageAttachment, error) {
	if c.ContentType() == "application/json" {
		var req struct {
			Text string `json:"text"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			return "", nil, err
		}
		return req.Text, nil, nil
	}

	text := c.PostForm("text")

	header, err := c.FormFile("image")
	if err != nil {
		// No image attached.
		return text, nil, nil
	}
	file, err := header.Open()
	if err != nil {
		return "", nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, err
	}

	return text, &delivery.ImageAttachment{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// respondError maps the error taxonomy onto structured HTTP responses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repositories.ErrEmptyMessage),
		errors.Is(err, repositories.ErrGroupTooSmall),
		errors.Is(err, delivery.ErrInvalidTarget):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "validation_error"})
	case errors.Is(err, repositories.ErrSelfChat):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_operation"})
	case errors.Is(err, repositories.ErrChatNotFound),
		errors.Is(err, repositories.ErrUserNotFound),
		errors.Is(err, repositories.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "kind": "not_found"})
	case errors.Is(err, delivery.ErrNotChatMember):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "kind": "unauthorized"})
	case errors.Is(err, media.ErrUploadFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "kind": "upload_error"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": "internal"})
	}
}

func atoiOrDefault(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func uniqueCount(ids []int) int {
	set := map[int]struct{}{}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return len(set)
}
