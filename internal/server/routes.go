// Package server wires HTTP handlers into a gorilla/mux router for the
// ratechat application via routing helpers.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// NewRouter registers the relay routes and wraps them with CORS for the
// allowed origins. A nil metrics handler leaves /metrics unrouted.
func NewRouter(h *Handlers, metricsHandler http.Handler, allowedOrigins []string) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/ws", h.WebSocket).Methods(http.MethodGet)
	router.HandleFunc("/test", h.TestPage).Methods(http.MethodGet)
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)
}
