package presence

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillswap-chat-service/internal/models"
)

type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	failNext bool
	closed   bool
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		return errors.New("broken pipe")
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) events(t *testing.T) []models.ChatEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ChatEvent, 0, len(c.writes))
	for _, raw := range c.writes {
		var event models.ChatEvent
		require.NoError(t, json.Unmarshal(raw, &event))
		out = append(out, event)
	}
	return out
}

func TestRegisterOverwritesPriorHandle(t *testing.T) {
	registry := NewRegistry(time.Millisecond)
	conn1 := &fakeConn{}
	conn2 := &fakeConn{}

	registry.Register(1, conn1)
	registry.Register(1, conn2)

	current, ok := registry.Lookup(1)
	require.True(t, ok)
	assert.Same(t, conn2, current.(*fakeConn))
}

func TestStaleUnregisterDoesNotClobberReconnect(t *testing.T) {
	registry := NewRegistry(time.Millisecond)
	conn1 := &fakeConn{}
	conn2 := &fakeConn{}

	registry.Register(1, conn1)
	registry.Register(1, conn2)
	registry.Unregister(1, conn1)

	current, ok := registry.Lookup(1)
	require.True(t, ok)
	assert.Same(t, conn2, current.(*fakeConn))
}

func TestUnregisterRemovesMatchingHandle(t *testing.T) {
	registry := NewRegistry(time.Millisecond)
	conn := &fakeConn{}

	registry.Register(1, conn)
	registry.Unregister(1, conn)

	_, ok := registry.Lookup(1)
	assert.False(t, ok)
}

func TestSnapshotIsSorted(t *testing.T) {
	registry := NewRegistry(time.Millisecond)
	registry.Register(3, &fakeConn{})
	registry.Register(1, &fakeConn{})
	registry.Register(2, &fakeConn{})

	assert.Equal(t, []int{1, 2, 3}, registry.Snapshot())
}

func TestRegisterBroadcastsOnlineSet(t *testing.T) {
	registry := NewRegistry(time.Millisecond)
	conn1 := &fakeConn{}

	registry.Register(1, conn1)
	registry.Register(2, &fakeConn{})

	events := conn1.events(t)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, models.EventOnlineUsers, last.Type)
	assert.Equal(t, []int{1, 2}, last.UserIDs)
}

func TestOfflineBroadcastWaitsForGrace(t *testing.T) {
	registry := NewRegistry(30 * time.Millisecond)
	conn1 := &fakeConn{}
	conn2 := &fakeConn{}

	registry.Register(1, conn1)
	registry.Register(2, conn2)
	before := len(conn1.events(t))

	registry.Unregister(2, conn2)
	assert.Len(t, conn1.events(t), before, "no broadcast before the grace interval")

	assert.Eventually(t, func() bool {
		events := conn1.events(t)
		if len(events) == before {
			return false
		}
		last := events[len(events)-1]
		return last.Type == models.EventOnlineUsers && len(last.UserIDs) == 1 && last.UserIDs[0] == 1
	}, time.Second, 5*time.Millisecond)
}

func TestOfflineBroadcastSuppressedByReconnect(t *testing.T) {
	registry := NewRegistry(20 * time.Millisecond)
	conn1 := &fakeConn{}
	conn2 := &fakeConn{}

	registry.Register(1, conn1)
	registry.Register(2, conn2)

	registry.Unregister(2, conn2)
	conn3 := &fakeConn{}
	registry.Register(2, conn3)
	reconnectEvents := len(conn1.events(t))

	time.Sleep(60 * time.Millisecond)
	assert.Len(t, conn1.events(t), reconnectEvents, "flap must not produce an offline broadcast")

	_, ok := registry.Lookup(2)
	assert.True(t, ok)
}

func TestPushDeliversToOnlineUser(t *testing.T) {
	registry := NewRegistry(time.Millisecond)
	conn := &fakeConn{}
	registry.Register(5, conn)

	view := models.MessageView{ID: 7, ChatID: 3, Text: "hi"}
	delivered := registry.Push(5, models.ChatEvent{Type: models.EventNewMessage, Message: &view})
	require.True(t, delivered)

	events := conn.events(t)
	last := events[len(events)-1]
	assert.Equal(t, models.EventNewMessage, last.Type)
	require.NotNil(t, last.Message)
	assert.Equal(t, 7, last.Message.ID)
}

func TestPushToOfflineUserIsMiss(t *testing.T) {
	registry := NewRegistry(time.Millisecond)
	assert.False(t, registry.Push(42, models.ChatEvent{Type: models.EventNewMessage}))
}

// bareConn counts concurrent WriteMessage entries without locking, the way
// a real websocket connection would fault on overlapping writers.
type bareConn struct {
	writers    atomic.Int32
	violations atomic.Int32
}

func (c *bareConn) WriteMessage(messageType int, data []byte) error {
	if c.writers.Add(1) > 1 {
		c.violations.Add(1)
	}
	time.Sleep(20 * time.Microsecond)
	c.writers.Add(-1)
	return nil
}

func (c *bareConn) Close() error { return nil }

func TestConcurrentPushesSerializePerConnection(t *testing.T) {
	registry := NewRegistry(time.Millisecond)
	conn := &bareConn{}
	registry.Register(1, conn)

	event := models.ChatEvent{Type: models.EventNewMessage}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				registry.Push(1, event)
			}
		}()
	}
	// Churn other users so register and grace-timer broadcasts hit the
	// same connection while pushes are in flight.
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			peer := &bareConn{}
			registry.Register(100+id, peer)
			registry.Unregister(100+id, peer)
		}(i)
	}
	wg.Wait()

	assert.Zero(t, conn.violations.Load(), "writes to one connection must not interleave")
}

func TestPushWriteErrorDropsConnection(t *testing.T) {
	registry := NewRegistry(time.Millisecond)
	conn := &fakeConn{}
	registry.Register(5, conn)
	conn.mu.Lock()
	conn.failNext = true
	conn.mu.Unlock()

	delivered := registry.Push(5, models.ChatEvent{Type: models.EventNewMessage})
	assert.False(t, delivered)

	_, ok := registry.Lookup(5)
	assert.False(t, ok)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.True(t, conn.closed)
}
