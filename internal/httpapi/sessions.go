package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/voxtools/mindstream/internal/settings"
	"github.com/voxtools/mindstream/internal/store"
)

// sessionResponse is the wire shape of one session.
type sessionResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	IsActive     bool      `json:"isActive"`
}

// sessionInfoResponse adds artifact counts for listings.
type sessionInfoResponse struct {
	sessionResponse
	TranscriptCount int `json:"transcriptCount"`
	AnalysisCount   int `json:"analysisCount"`
	MindMapCount    int `json:"mindMapCount"`
}

func toSessionResponse(s store.Session) sessionResponse {
	return sessionResponse{
		ID:           s.ID,
		Name:         s.Name,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		IsActive:     s.IsActive,
	}
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := h.store.ListSessions(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	out := make([]sessionInfoResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, sessionInfoResponse{
			sessionResponse: toSessionResponse(info.Session),
			TranscriptCount: info.TranscriptCount,
			AnalysisCount:   info.AnalysisCount,
			MindMapCount:    info.MindMapCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	// An empty body is fine; everything is defaulted.
	_ = decodeBody(r, &body)

	if body.ID == "" {
		body.ID = uuid.NewString()
	}

	created, err := h.store.CreateSession(r.Context(), store.Session{ID: body.ID, Name: body.Name})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(created))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

func (h *Handler) renameSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		h.writeError(w, http.StatusBadRequest, "bad_request", "name must not be empty")
		return
	}

	id := chi.URLParam(r, "sessionID")
	if err := h.store.RenameSession(r.Context(), id, body.Name); err != nil {
		h.writeStoreError(w, err)
		return
	}
	s, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// activateSession marks the session active, remembers it in settings, and
// deactivates whatever was active before.
func (h *Handler) activateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	if err := h.store.SetSessionActive(r.Context(), id, true); err != nil {
		h.writeStoreError(w, err)
		return
	}

	infos, err := h.store.ListSessions(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	for _, info := range infos {
		if info.ID != id && info.IsActive {
			if err := h.store.SetSessionActive(r.Context(), info.ID, false); err != nil {
				h.logger.Warn("deactivating previous session", "session_id", info.ID, "error", err)
			}
		}
	}

	row, err := h.store.GetSettings(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		// First write of the settings row: seed it with the defaults so
		// later reads do not see empty fields.
		row = settings.Defaults()
		err = nil
	}
	if err == nil {
		row.ActiveSessionID = id
		if err := h.store.UpdateSettings(r.Context(), row); err != nil {
			h.logger.Warn("recording active session", "session_id", id, "error", err)
		}
	}

	s, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
