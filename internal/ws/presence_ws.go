package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"skillswap-chat-service/internal/middleware"
	"skillswap-chat-service/internal/observability"
	"skillswap-chat-service/internal/presence"
)

const presenceRoutingKey = "ws_events.presence"

// PresenceWebSocketHandler upgrades the per-user live connection and keeps
// the presence registry in sync with its lifecycle.
type PresenceWebSocketHandler struct {
	registry  *presence.Registry
	jwtSecret string
}

// NewPresenceWebSocketHandler constructs a PresenceWebSocketHandler.
func NewPresenceWebSocketHandler(registry *presence.Registry, jwtSecret string) *PresenceWebSocketHandler {
	return &PresenceWebSocketHandler{registry: registry, jwtSecret: jwtSecret}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connInfo carries per-connection identity for lifecycle events.
type connInfo struct {
	connID      string
	userID      int
	meta        observability.ClientMeta
	traceID     string
	connectedAt time.Time
}

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

// Handle authenticates, upgrades the connection and registers the user as
// online. The connection stays up until the client goes away; a stale
// disconnect never clobbers a newer connection because unregistration is
// handle-guarded in the registry.
func (h *PresenceWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("skillswap-chat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.GetHeader("Authorization"))
	}

	userID, err := middleware.UserIDFromToken(h.jwtSecret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "kind": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := connInfo{
		connID:      newConnID(),
		userID:      userID,
		meta:        observability.ClientMetaFromRequest(c.Request),
		traceID:     span.SpanContext().TraceID().String(),
		connectedAt: time.Now(),
	}
	h.registry.Register(userID, conn)

	observability.IncWSEvent("ws_connect")
	publishPresenceEvent(ctx, info, "ws_connect", "")

	go func() {
		var closeReason string
		defer func() {
			h.registry.Unregister(userID, conn)
			observability.IncWSEvent("ws_disconnect")
			publishPresenceEvent(ctx, info, "ws_disconnect", closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("ws_error")
					publishPresenceEvent(ctx, info, "ws_error", closeReason)
				}
				return
			}
		}
	}()
}

func publishPresenceEvent(ctx context.Context, info connInfo, event, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.connID,
			"duration_ms": time.Since(info.connectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.userID,
			"device_id": info.meta.DeviceID,
			"ip":        info.meta.IP,
		},
	}

	_ = observability.PublishEvent(ctx, presenceRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		RequestID: info.meta.RequestID,
		TraceID:   info.traceID,
		Payload:   payload,
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
