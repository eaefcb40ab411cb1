package api

import (
	"net/http"

	"collab-relay/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	// Admin endpoints
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/reload-document/{documentId}", h.ReloadDocument).Methods(http.MethodPost)
	r.HandleFunc("/notify", h.Notify).Methods(http.MethodPost, http.MethodOptions)

	// WebSocket routes; the document catch-all must stay last
	r.HandleFunc("/notifications", h.HandleNotificationWebSocket)
	r.HandleFunc("/{documentId}", h.HandleDocumentWebSocket)
	r.HandleFunc("/", h.HandleDocumentWebSocket)

	return r
}
