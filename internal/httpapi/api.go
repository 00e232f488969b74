// Package httpapi serves the REST surface: session CRUD, transcript and
// analysis reads, mind-map generation, semantic search, and settings.
//
// The websocket streaming endpoint lives in internal/transport; this package
// covers everything a client does outside the live audio stream.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voxtools/mindstream/internal/pipeline"
	"github.com/voxtools/mindstream/internal/procstate"
	"github.com/voxtools/mindstream/internal/settings"
	"github.com/voxtools/mindstream/internal/store"
	"github.com/voxtools/mindstream/pkg/provider/embeddings"
)

// Handler holds the dependencies of the REST endpoints.
type Handler struct {
	store     store.Store
	resolver  *settings.Resolver
	proc      *procstate.Manager
	pipelines *pipeline.Orchestrator

	// embedder powers semantic search. May be nil; search then returns 501.
	embedder embeddings.Provider

	logger *slog.Logger
}

// Config wires a Handler.
type Config struct {
	Store     store.Store
	Resolver  *settings.Resolver
	Proc      *procstate.Manager
	Pipelines *pipeline.Orchestrator
	Embedder  embeddings.Provider
	Logger    *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:     cfg.Store,
		resolver:  cfg.Resolver,
		proc:      cfg.Proc,
		pipelines: cfg.Pipelines,
		embedder:  cfg.Embedder,
		logger:    logger,
	}
}

// Routes returns the chi router with all REST endpoints mounted under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.listSessions)
		r.Post("/", h.createSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.deleteSession)
			r.Patch("/name", h.renameSession)
			r.Post("/activate", h.activateSession)
			r.Get("/transcripts", h.listTranscripts)
			r.Get("/analyses", h.listAnalyses)
			r.Get("/analyses/latest", h.latestAnalysis)
			r.Get("/mind-maps", h.listMindMaps)
			r.Get("/mind-maps/latest", h.latestMindMap)
			r.Post("/mind-maps/regenerate", h.regenerateMindMap)
			r.Get("/search", h.searchTranscripts)
			r.Get("/processing-status", h.processingStatus)
		})
	})

	r.Route("/api/settings", func(r chi.Router) {
		r.Get("/", h.getSettings)
		r.Put("/", h.updateSettings)
		r.Post("/apply-temporary", h.applyTemporarySettings)
		r.Get("/temporary-settings", h.getTemporarySettings)
		r.Delete("/temporary-settings", h.clearTemporarySettings)
		r.Get("/whisper/languages", h.whisperLanguages)
		r.Get("/whisper/models", h.whisperModels)
	})

	return r
}

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: message, Kind: kind})
}

// writeStoreError maps store errors onto HTTP statuses; unexpected errors are
// logged and become opaque 500s.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "session_not_found", "session not found")
	case errors.Is(err, store.ErrDuplicateID):
		h.writeError(w, http.StatusConflict, "duplicate_id", "a session with this id already exists")
	default:
		h.logger.Error("store operation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decodeBody parses a JSON request body. Unknown fields are ignored so older
// and newer clients interoperate.
func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
