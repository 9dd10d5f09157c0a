package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/weiawesome/wes-edu-relay/pkg/log"
	"github.com/weiawesome/wes-edu-relay/relay-service/internal/directory"
	"github.com/weiawesome/wes-edu-relay/relay-service/internal/hub"
	"github.com/weiawesome/wes-edu-relay/relay-service/internal/presence"
	"github.com/weiawesome/wes-edu-relay/relay-service/internal/relay"
)

// HTTPHandler serves the read-only presence API and the directory.
type HTTPHandler struct {
	hub       *hub.Hub
	presence  *presence.Service
	relay     *relay.Relay
	directory directory.Directory
}

// NewHTTPHandler creates a new HTTP handler. dir may be nil.
func NewHTTPHandler(h *hub.Hub, p *presence.Service, r *relay.Relay, dir directory.Directory) *HTTPHandler {
	return &HTTPHandler{hub: h, presence: p, relay: r, directory: dir}
}

// GetPresence handles GET /api/v1/presence
func (h *HTTPHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.presence.Snapshot())
}

// UpsertUserRequest is the body of PUT /api/v1/users/{user_id}.
type UpsertUserRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// GetUser handles GET /api/v1/users/{user_id}
func (h *HTTPHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		writeError(w, http.StatusNotFound, "directory disabled")
		return
	}

	user, err := h.directory.Get(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		l := log.Ctx(r.Context())
		l.Error().Err(err).Msg("directory lookup failed")
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// PutUser handles PUT /api/v1/users/{user_id}
func (h *HTTPHandler) PutUser(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		writeError(w, http.StatusNotFound, "directory disabled")
		return
	}

	var req UpsertUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	user := &directory.User{ID: mux.Vars(r)["user_id"], DisplayName: req.Name, Role: req.Role}
	if err := h.directory.Upsert(r.Context(), user); err != nil {
		l := log.Ctx(r.Context())
		l.Error().Err(err).Msg("directory upsert failed")
		writeError(w, http.StatusInternalServerError, "failed to save user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HealthCheck handles GET /health
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":              "ok",
		"clients":             h.hub.ClientCount(),
		"presence_broadcasts": h.presence.Broadcasts(),
		"relayed":             h.relay.Forwarded(),
	})
}

// RegisterRoutes mounts the socket and HTTP endpoints.
func RegisterRoutes(router *mux.Router, ws *WSHandler, api *HTTPHandler) {
	router.HandleFunc("/ws", ws.HandleWebSocket)
	router.HandleFunc("/api/v1/presence", api.GetPresence).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/users/{user_id}", api.GetUser).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/users/{user_id}", api.PutUser).Methods(http.MethodPut)
	router.HandleFunc("/health", api.HealthCheck).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
