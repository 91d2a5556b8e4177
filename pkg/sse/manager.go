package sse

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// client is one open event-stream connection
type client struct {
	userID string
	send   chan []byte
}

// Manager tracks every connected event-stream per user and fans messages
// out to all of a user's open tabs/devices
type Manager struct {
	mu         sync.RWMutex
	clients    map[string]map[*client]struct{}
	register   chan *client
	unregister chan *client
}

// NewManager creates an SSE manager; call Run in a goroutine
func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run processes connection registration until the process exits
func (m *Manager) Run() {
	for {
		select {
		case c := <-m.register:
			m.mu.Lock()
			if m.clients[c.userID] == nil {
				m.clients[c.userID] = make(map[*client]struct{})
			}
			m.clients[c.userID][c] = struct{}{}
			m.mu.Unlock()
			log.Printf("[SSE] client connected for user %s", c.userID)
		case c := <-m.unregister:
			m.mu.Lock()
			if set, ok := m.clients[c.userID]; ok {
				if _, ok := set[c]; ok {
					delete(set, c)
					close(c.send)
					if len(set) == 0 {
						delete(m.clients, c.userID)
					}
				}
			}
			m.mu.Unlock()
			log.Printf("[SSE] client disconnected for user %s", c.userID)
		}
	}
}

// SendToUser pushes one event to every open connection of userID. Slow
// consumers are skipped rather than blocking the sender.
func (m *Manager) SendToUser(userID string, eventType string, payload interface{}) {
	msg, err := json.Marshal(map[string]interface{}{
		"type":      eventType,
		"payload":   payload,
		"timestamp": time.Now(),
	})
	if err != nil {
		log.Printf("[SSE] failed to marshal event %s: %v", eventType, err)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for c := range m.clients[userID] {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// ConnectedUsers returns how many connections userID currently holds
func (m *Manager) ConnectedUsers(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients[userID])
}

// ServeHTTP streams events to one connection until the client goes away
func (m *Manager) ServeHTTP(c *gin.Context, userID string) {
	cl := &client{
		userID: userID,
		send:   make(chan []byte, 64),
	}
	m.register <- cl
	defer func() { m.unregister <- cl }()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-cl.send:
			if !ok {
				return false
			}
			c.SSEvent("message", string(msg))
			return true
		case <-keepalive.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
