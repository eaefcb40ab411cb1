package api

import (
	"encoding/json"
	"log"
	"net/http"

	"collab-relay/internal/middleware"
	"collab-relay/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
)

// Handler serves the admin HTTP endpoints and hands sockets to the relay
type Handler struct {
	sessions  SessionRegistry
	notifier  Notifier
	wsHandler SocketHandler
}

func NewHandler(sessions SessionRegistry, notifier Notifier, wsHandler SocketHandler) *Handler {
	return &Handler{
		sessions:  sessions,
		notifier:  notifier,
		wsHandler: wsHandler,
	}
}

type healthResponse struct {
	Status          string `json:"status"`
	ActiveDocuments int    `json:"activeDocuments"`
}

type reloadResponse struct {
	Success bool `json:"success"`
	Cleared bool `json:"cleared"`
}

type notifyResponse struct {
	Success   bool `json:"success"`
	Delivered int  `json:"delivered"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Health reports liveness and the number of documents held in memory
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		ActiveDocuments: h.sessions.Count(),
	})
}

// ReloadDocument drops the in-memory session so the next client reloads
// the document from the store
func (h *Handler) ReloadDocument(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["documentId"]

	ctx, span := middleware.StartSpan(r.Context(), "Admin.ReloadDocument",
		attribute.String("document.id", documentID),
	)
	defer span.End()

	cleared := h.sessions.Evict(documentID)
	span.SetAttributes(attribute.Bool("session.cleared", cleared))
	log.Printf("[%s] Reload requested for document %s (cleared: %v)", middleware.GetRequestID(ctx), documentID, cleared)

	writeJSON(w, http.StatusOK, reloadResponse{Success: true, Cleared: cleared})
}

// Notify pushes a DOCUMENT_LIST_UPDATE event to the listed users
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	var req models.NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if len(req.UserIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "userIds is required"})
		return
	}
	if req.DocumentID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "documentId is required"})
		return
	}

	delivered := h.notifier.Broadcast(req.UserIDs, req.DocumentID)
	writeJSON(w, http.StatusOK, notifyResponse{Success: true, Delivered: delivered})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}
