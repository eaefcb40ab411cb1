package models

// Notification event types sent over user notification sockets
const (
	EventConnected          = "CONNECTED"
	EventDocumentListUpdate = "DOCUMENT_LIST_UPDATE"
	EventPing               = "PING"
	EventPong               = "PONG"
)

// NotificationEvent is the JSON payload of a notification socket message
type NotificationEvent struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId,omitempty"`
	UserID     string `json:"userId,omitempty"`
}

// NotifyRequest is the body of POST /notify
type NotifyRequest struct {
	UserIDs    []string `json:"userIds"`
	DocumentID string   `json:"documentId"`
}

// DocumentAccess is the backend's answer to validate-access
type DocumentAccess struct {
	HasAccess bool   `json:"hasAccess"`
	UserID    string `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`
}

// UserIdentity is the result of validating a bearer token for a user
type UserIdentity struct {
	Valid    bool
	UserID   string
	Username string
}
