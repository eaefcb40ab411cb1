package collaboration

import (
	"encoding/json"
	"log"
	"sync"

	"collab-relay/internal/models"
)

// NotificationRegistry maps user ids to their open notification sockets
type NotificationRegistry struct {
	mu    sync.RWMutex
	users map[string]map[string]*Conn
}

func NewNotificationRegistry() *NotificationRegistry {
	return &NotificationRegistry{users: make(map[string]map[string]*Conn)}
}

func (r *NotificationRegistry) Add(userID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]*Conn)
		r.users[userID] = conns
	}
	conns[c.ID] = c
	activeConnections.WithLabelValues(string(models.ChannelNotification)).Inc()
}

func (r *NotificationRegistry) Remove(userID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userID]
	if !ok {
		return
	}
	if _, ok := conns[c.ID]; !ok {
		return
	}
	delete(conns, c.ID)
	if len(conns) == 0 {
		delete(r.users, userID)
	}
	activeConnections.WithLabelValues(string(models.ChannelNotification)).Dec()
}

// Connections returns the sockets open for userID
func (r *NotificationRegistry) Connections(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Conn, 0, len(r.users[userID]))
	for _, c := range r.users[userID] {
		out = append(out, c)
	}
	return out
}

// Users returns the number of users with at least one socket
func (r *NotificationRegistry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// CloseAll closes every notification socket with code and reason
func (r *NotificationRegistry) CloseAll(code int, reason string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conns := range r.users {
		for _, c := range conns {
			c.Close(code, reason)
		}
	}
}

// NotificationBroadcaster tells users that their document list changed
type NotificationBroadcaster struct {
	registry *NotificationRegistry
}

func NewNotificationBroadcaster(registry *NotificationRegistry) *NotificationBroadcaster {
	return &NotificationBroadcaster{registry: registry}
}

// Broadcast sends a DOCUMENT_LIST_UPDATE event to every open socket of the
// given users and returns how many sockets accepted it. Users without a
// socket are skipped.
func (b *NotificationBroadcaster) Broadcast(userIDs []string, documentID string) int {
	msg, err := json.Marshal(models.NotificationEvent{
		Type:       models.EventDocumentListUpdate,
		DocumentID: documentID,
	})
	if err != nil {
		log.Printf("❌ Failed to encode notification: %v", err)
		return 0
	}

	delivered := 0
	for _, userID := range userIDs {
		for _, c := range b.registry.Connections(userID) {
			if c.Send(msg) {
				delivered++
			}
		}
	}
	return delivered
}
