package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// ConnectionInfo describes one live socket attached to the relay
type ConnectionInfo struct {
	ID          string    `json:"id"`
	Channel     Channel   `json:"channel"`
	Key         string    `json:"key"` // documentID or userID
	UserID      string    `json:"user_id,omitempty"`
	UserName    string    `json:"user_name,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Channel separates document rooms from user notification sockets
type Channel string

const (
	ChannelDocument     Channel = "document"
	ChannelNotification Channel = "notification"
)

// MessageType is the leading varuint tag of every binary document frame
type MessageType uint64

const (
	MessageTypeSync           MessageType = 0 // CRDT sync protocol
	MessageTypeAwareness      MessageType = 1 // presence delta
	MessageTypeQueryAwareness MessageType = 3 // request full presence snapshot
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeSync:
		return "sync"
	case MessageTypeAwareness:
		return "awareness"
	case MessageTypeQueryAwareness:
		return "query_awareness"
	default:
		return "unknown"
	}
}

// WebSocket close codes used by the relay
const (
	ClosePolicyViolation = 1008
	CloseServiceRestart  = 1012
	CloseGoingAway       = 1001
	CloseTryAgainLater   = 1013
)

func NewConnectionInfo(channel Channel, key string) *ConnectionInfo {
	return &ConnectionInfo{
		ID:          ksuid.New().String(),
		Channel:     channel,
		Key:         key,
		ConnectedAt: time.Now(),
	}
}
