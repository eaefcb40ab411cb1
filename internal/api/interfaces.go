package api

import "net/http"

/*
The admin handlers depend on the narrow slices of the relay they call, so
tests can drive them with small fakes.
*/

// SessionRegistry is what the admin endpoints need from the session manager
type SessionRegistry interface {
	Count() int
	Evict(documentID string) bool
}

// Notifier fans a document-list change out to user notification sockets
type Notifier interface {
	Broadcast(userIDs []string, documentID string) int
}

// SocketHandler accepts WebSocket connections
type SocketHandler interface {
	HandleConnection(w http.ResponseWriter, r *http.Request)
}
