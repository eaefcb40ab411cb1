package api

import (
	"net/http"
)

// HandleDocumentWebSocket serves /{documentId}
func (h *Handler) HandleDocumentWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}

// HandleNotificationWebSocket serves /notifications
func (h *Handler) HandleNotificationWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}
