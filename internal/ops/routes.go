// internal/ops/routes.go

package ops

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers the local ops routes
func RegisterRoutes(router *mux.Router, handler *Handler) {
	router.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Conversation endpoints
	router.HandleFunc("/conversations/{id}/open", handler.OpenConversation).Methods("POST")
	router.HandleFunc("/conversations/{id}/close", handler.CloseConversation).Methods("POST")
	router.HandleFunc("/conversations/{id}/messages", handler.GetMessages).Methods("GET")
	router.HandleFunc("/conversations/{id}/last-message", handler.GetLastMessage).Methods("GET")
	router.HandleFunc("/summaries", handler.GetSummaries).Methods("GET")

	// Outbound actions
	router.HandleFunc("/conversations/{id}/messages/{messageId}", handler.EditMessage).Methods("PUT")
	router.HandleFunc("/conversations/{id}/messages/{messageId}", handler.DeleteMessage).Methods("DELETE")
	router.HandleFunc("/contacts/{id}", handler.UpdateContact).Methods("PUT")
}
