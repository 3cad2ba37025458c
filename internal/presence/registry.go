package presence

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"skillswap-chat-service/internal/models"
	"skillswap-chat-service/internal/observability"
)

// Conn is the write side of a live connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// client pairs a registered connection with its write mutex. Gorilla
// websocket connections allow at most one concurrent writer, and pushes,
// register broadcasts and grace-timer broadcasts all race for the same
// connection, so every write goes through here.
type client struct {
	mu   sync.Mutex
	conn Conn
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Registry maps each user to at most one live connection and is the source
// of truth for who is online. It is process-local and rebuilt from scratch
// on restart.
type Registry struct {
	mu    sync.RWMutex
	conns map[int]*client
	grace time.Duration
}

// NewRegistry creates an empty registry. grace is how long a disconnect may
// be followed by a reconnect before the offline broadcast goes out.
func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		conns: make(map[int]*client),
		grace: grace,
	}
}

// Register binds the user to conn, replacing any stale connection, and
// broadcasts the new online set.
func (r *Registry) Register(userID int, conn Conn) {
	r.mu.Lock()
	r.conns[userID] = &client{conn: conn}
	online := len(r.conns)
	r.mu.Unlock()

	observability.SetPresenceOnline(online)
	r.broadcastOnline()
}

// Unregister removes the user's entry only while conn is still the stored
// handle, so a disconnect event arriving after a reconnect is a no-op. The
// offline broadcast is deferred by the grace interval and suppressed if the
// user came back in the meantime, which keeps rapid reconnect flaps from
// flooding presence events.
func (r *Registry) Unregister(userID int, conn Conn) {
	r.mu.Lock()
	current, ok := r.conns[userID]
	if !ok || current.conn != conn {
		r.mu.Unlock()
		return
	}
	delete(r.conns, userID)
	online := len(r.conns)
	r.mu.Unlock()

	observability.SetPresenceOnline(online)
	time.AfterFunc(r.grace, func() {
		r.mu.RLock()
		_, back := r.conns[userID]
		r.mu.RUnlock()
		if !back {
			r.broadcastOnline()
		}
	})
}

// Lookup returns the user's live connection, if any.
func (r *Registry) Lookup(userID int) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	if !ok {
		return nil, false
	}
	return c.conn, true
}

// Snapshot returns the sorted ids of all online users.
func (r *Registry) Snapshot() []int {
	r.mu.RLock()
	ids := make([]int, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Ints(ids)
	return ids
}

// Push delivers an event to one user's connection. Reports whether the user
// had a live connection; write failures close and drop the connection.
func (r *Registry) Push(userID int, event models.ChatEvent) bool {
	r.mu.RLock()
	c, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	payload, _ := json.Marshal(event)
	if err := c.write(payload); err != nil {
		log.Printf("websocket write error: %v", err)
		c.conn.Close()
		r.Unregister(userID, c.conn)
		return false
	}
	return true
}

// broadcastOnline fans the current online-id set out to every connection.
func (r *Registry) broadcastOnline() {
	ids := r.Snapshot()

	r.mu.RLock()
	clients := make(map[int]*client, len(r.conns))
	for id, c := range r.conns {
		clients[id] = c
	}
	r.mu.RUnlock()

	event := models.ChatEvent{Type: models.EventOnlineUsers, UserIDs: ids}
	payload, _ := json.Marshal(event)
	for userID, c := range clients {
		if err := c.write(payload); err != nil {
			log.Printf("websocket write error: %v", err)
			c.conn.Close()
			r.Unregister(userID, c.conn)
		}
	}
}
