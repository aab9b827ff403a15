// Package api exposes the chat core to host UIs over the daemon's local HTTP
// endpoint: conversation reads, sends, pagination triggers and read-position
// signals.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/xhj721521/teamchat/internal/chat"
	"github.com/xhj721521/teamchat/internal/history"
	"github.com/xhj721521/teamchat/internal/live"
	"github.com/xhj721521/teamchat/internal/persist"
	"github.com/xhj721521/teamchat/internal/send"
	"go.uber.org/zap"
)

// Handler serves the daemon's HTTP API.
type Handler struct {
	sessionName  string
	store        *chat.Store
	loader       *history.Loader
	supervisor   *live.Supervisor
	checkpointer *persist.Checkpointer
	logger       *zap.Logger
	started      time.Time
}

// NewHandler creates the API handler.
func NewHandler(sessionName string, store *chat.Store, loader *history.Loader, supervisor *live.Supervisor, cp *persist.Checkpointer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessionName:  sessionName,
		store:        store,
		loader:       loader,
		supervisor:   supervisor,
		checkpointer: cp,
		logger:       logger,
		started:      time.Now(),
	}
}

// Routes builds the daemon's route table.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/status", h.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/checkpoint", h.postCheckpoint).Methods(http.MethodPost)

	t := r.PathPrefix("/v1/teams/{id}").Subrouter()
	t.HandleFunc("/join", h.postJoin).Methods(http.MethodPost)
	t.HandleFunc("/messages", h.getMessages).Methods(http.MethodGet)
	t.HandleFunc("/messages", h.postMessage).Methods(http.MethodPost)
	t.HandleFunc("/messages/{clientID}/retry", h.postRetry).Methods(http.MethodPost)
	t.HandleFunc("/older", h.postOlder).Methods(http.MethodPost)
	t.HandleFunc("/read", h.postRead).Methods(http.MethodPost)
	t.HandleFunc("/at-bottom", h.postAtBottom).Methods(http.MethodPost)
	t.HandleFunc("/reset", h.postReset).Methods(http.MethodPost)
	return r
}

type statusResponse struct {
	Session  string                    `json:"session"`
	UptimeMs int64                     `json:"uptime_ms"`
	Teams    map[string]teamStatusInfo `json:"teams"`
}

type teamStatusInfo struct {
	ConnState   chat.ConnState `json:"conn_state"`
	UnreadCount int            `json:"unread_count"`
	LastSeq     int64          `json:"last_seq"`
}

func (h *Handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Session:  h.sessionName,
		UptimeMs: time.Since(h.started).Milliseconds(),
		Teams:    make(map[string]teamStatusInfo),
	}
	for _, id := range h.store.TeamIDs() {
		if st, ok := h.store.Team(id); ok {
			resp.Teams[id] = teamStatusInfo{
				ConnState:   st.ConnState,
				UnreadCount: st.UnreadCount,
				LastSeq:     st.LastSeq,
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// postJoin enters a conversation: first-page bootstrap plus live channel
// connect. Safe to call again after leaving or on app foreground.
func (h *Handler) postJoin(w http.ResponseWriter, r *http.Request) {
	teamID := mux.Vars(r)["id"]
	if err := h.loader.Bootstrap(r.Context(), teamID); err != nil {
		h.logger.Error("bootstrap failed", zap.String("team_id", teamID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "bootstrap failed")
		return
	}
	if err := h.supervisor.Connect(r.Context(), teamID); err != nil {
		h.logger.Error("connect failed", zap.String("team_id", teamID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "live channel connect failed")
		return
	}
	st, _ := h.store.Team(teamID)
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) getMessages(w http.ResponseWriter, r *http.Request) {
	teamID := mux.Vars(r)["id"]
	st, ok := h.store.Team(teamID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown team")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type sendRequest struct {
	Text string `json:"text"`
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	teamID := mux.Vars(r)["id"]
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	clientID, err := h.supervisor.Send(teamID, req.Text)
	if err != nil {
		if errors.Is(err, live.ErrNotConnected) {
			writeError(w, http.StatusConflict, "live channel not connected")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"client_id": clientID})
}

func (h *Handler) postRetry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clientID, err := h.supervisor.Retry(vars["id"], vars["clientID"])
	if err != nil {
		switch {
		case errors.Is(err, send.ErrUnknownMessage):
			writeError(w, http.StatusNotFound, "unknown message")
		case errors.Is(err, send.ErrNotRetryable):
			writeError(w, http.StatusConflict, "message is not retryable")
		case errors.Is(err, live.ErrNotConnected):
			writeError(w, http.StatusConflict, "live channel not connected")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"client_id": clientID})
}

func (h *Handler) postOlder(w http.ResponseWriter, r *http.Request) {
	teamID := mux.Vars(r)["id"]
	if err := h.loader.LoadOlder(r.Context(), teamID); err != nil {
		// Pagination boundary is untouched on error; the UI may retry.
		h.logger.Warn("load older failed", zap.String("team_id", teamID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "history fetch failed")
		return
	}
	st, ok := h.store.Team(teamID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown team")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"has_more_before": st.HasMoreBefore,
		"message_count":   len(st.Messages),
	})
}

func (h *Handler) postRead(w http.ResponseWriter, r *http.Request) {
	h.supervisor.MarkRead(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

type atBottomRequest struct {
	AtBottom bool `json:"at_bottom"`
}

func (h *Handler) postAtBottom(w http.ResponseWriter, r *http.Request) {
	var req atBottomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	h.supervisor.SetAtBottom(mux.Vars(r)["id"], req.AtBottom)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) postReset(w http.ResponseWriter, r *http.Request) {
	teamID := mux.Vars(r)["id"]
	h.supervisor.Leave(teamID)
	if err := h.checkpointer.Forget(teamID); err != nil {
		h.logger.Warn("forget snapshot failed", zap.String("team_id", teamID), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) postCheckpoint(w http.ResponseWriter, _ *http.Request) {
	if err := h.checkpointer.CheckpointAll(); err != nil {
		writeError(w, http.StatusInternalServerError, "checkpoint failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
