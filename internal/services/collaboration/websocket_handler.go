package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"collab-relay/internal/middleware"
	"collab-relay/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler upgrades every socket first and then runs admission, so
// a rejected client still receives a close code and a reason it can show.
type WebSocketHandler struct {
	gateway       *AccessGateway
	sessions      *SessionManager
	router        *MessageRouter
	notifications *NotificationRegistry
	sendBuffer    int
}

func NewWebSocketHandler(gateway *AccessGateway, sessions *SessionManager, router *MessageRouter, notifications *NotificationRegistry, sendBuffer int) *WebSocketHandler {
	return &WebSocketHandler{
		gateway:       gateway,
		sessions:      sessions,
		router:        router,
		notifications: notifications,
		sendBuffer:    sendBuffer,
	}
}

// HandleConnection serves both /{documentId} and /notifications
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("http.path", r.URL.Path),
	)
	defer span.End()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	adm, err := h.gateway.Admit(ctx, r.URL.String(), "")
	if err != nil {
		var rejected *AdmissionError
		if !errors.As(err, &rejected) {
			rejected = reject("Access denied")
		}
		log.Printf("⚠️  Rejected WebSocket %s: %s", r.URL.Path, rejected.Reason)
		writeClose(ws, rejected.Code, rejected.Reason)
		return
	}

	switch adm.Kind {
	case AdmitDocument:
		span.SetAttributes(attribute.String("document.id", adm.DocumentID))
		h.serveDocument(ctx, ws, adm)
	case AdmitNotification:
		span.SetAttributes(attribute.String("user.id", adm.UserID))
		h.serveNotifications(ws, adm)
	}
}

func (h *WebSocketHandler) serveDocument(ctx context.Context, ws *websocket.Conn, adm *Admission) {
	info := models.NewConnectionInfo(models.ChannelDocument, adm.DocumentID)
	info.UserID = adm.UserID
	info.UserName = adm.Username
	conn := NewConn(info, websocket.BinaryMessage, h.sendBuffer)

	go writePump(ws, conn)

	session := h.sessions.Attach(ctx, adm.DocumentID, adm.Token, conn)
	log.Printf("✓ WebSocket connected to document %s (conn: %s, user: %s)", adm.DocumentID, conn.ID, adm.Username)

	readPump(ws, conn, func(data []byte) {
		if err := h.router.HandleFrame(session, conn, data); err != nil {
			log.Printf("⚠️  Dropped frame on document %s: %v", adm.DocumentID, err)
		}
	})

	h.sessions.Detach(session, conn)
	conn.Close(websocket.CloseNormalClosure, "")
	log.Printf("WebSocket disconnected from document %s (conn: %s)", adm.DocumentID, conn.ID)
}

func (h *WebSocketHandler) serveNotifications(ws *websocket.Conn, adm *Admission) {
	info := models.NewConnectionInfo(models.ChannelNotification, adm.UserID)
	info.UserID = adm.UserID
	info.UserName = adm.Username
	conn := NewConn(info, websocket.TextMessage, h.sendBuffer)

	go writePump(ws, conn)

	h.notifications.Add(adm.UserID, conn)
	conn.Send(mustEvent(models.NotificationEvent{Type: models.EventConnected, UserID: adm.UserID}))
	log.Printf("✓ Notification socket connected for user %s", adm.UserID)

	pong := mustEvent(models.NotificationEvent{Type: models.EventPong})
	readPump(ws, conn, func(data []byte) {
		var event models.NotificationEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return
		}
		if event.Type == models.EventPing {
			conn.Send(pong)
		}
	})

	h.notifications.Remove(adm.UserID, conn)
	conn.Close(websocket.CloseNormalClosure, "")
	log.Printf("Notification socket disconnected for user %s", adm.UserID)
}

// readPump delivers inbound messages to handle until the socket fails or
// the peer closes it
func readPump(ws *websocket.Conn, conn *Conn, handle func([]byte)) {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("WebSocket error on %s: %v", conn.ID, err)
			}
			return
		}
		handle(data)
	}
}

// writePump owns all writes to ws. Messages are written one per frame in
// queue order. When conn is closed the close frame is sent and ws is torn
// down, which also ends the read pump.
func writePump(ws *websocket.Conn, conn *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg := <-conn.Outbound():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(conn.MessageType, msg); err != nil {
				conn.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-conn.Done():
			code, reason := conn.CloseFrame()
			writeClose(ws, code, reason)
			return

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// writeClose sends a close frame and closes the socket
func writeClose(ws *websocket.Conn, code int, reason string) {
	if code != websocket.CloseAbnormalClosure {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}
	ws.Close()
}

func mustEvent(event models.NotificationEvent) []byte {
	data, err := json.Marshal(event)
	if err != nil {
		panic(err)
	}
	return data
}
