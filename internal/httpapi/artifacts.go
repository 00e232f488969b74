package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voxtools/mindstream/internal/mindmap"
	"github.com/voxtools/mindstream/internal/pipeline"
	"github.com/voxtools/mindstream/internal/store"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

type transcriptResponse struct {
	ID          int64      `json:"id"`
	SessionID   string     `json:"sessionId"`
	Text        string     `json:"text"`
	Language    string     `json:"language"`
	Model       string     `json:"model"`
	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

type analysisResponse struct {
	ID               int64     `json:"id"`
	SessionID        string    `json:"sessionId"`
	Response         string    `json:"response"`
	Model            string    `json:"model"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
	CreatedAt        time.Time `json:"createdAt"`
}

type mindMapResponse struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"sessionId"`
	Graph     mindmap.Map `json:"graph"`
	Model     string      `json:"model"`
	CreatedAt time.Time   `json:"createdAt"`
}

type searchHitResponse struct {
	Transcript transcriptResponse `json:"transcript"`
	Similarity float64            `json:"similarity"`
}

func toTranscriptResponse(t store.Transcript) transcriptResponse {
	return transcriptResponse{
		ID:          t.ID,
		SessionID:   t.SessionID,
		Text:        t.Text,
		Language:    t.Language,
		Model:       t.Model,
		CreatedAt:   t.CreatedAt,
		ProcessedAt: t.ProcessedAt,
	}
}

func toAnalysisResponse(a store.Analysis) analysisResponse {
	return analysisResponse{
		ID:               a.ID,
		SessionID:        a.SessionID,
		Response:         a.Response,
		Model:            a.Model,
		ProcessingTimeMs: a.ProcessingTime.Milliseconds(),
		CreatedAt:        a.CreatedAt,
	}
}

func toMindMapResponse(m store.MindMap) mindMapResponse {
	return mindMapResponse{
		ID:        m.ID,
		SessionID: m.SessionID,
		Graph:     m.Graph,
		Model:     m.Model,
		CreatedAt: m.CreatedAt,
	}
}

// requireSession resolves the path parameter and verifies the session exists.
func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "sessionID")
	if _, err := h.store.GetSession(r.Context(), id); err != nil {
		h.writeStoreError(w, err)
		return "", false
	}
	return id, true
}

// listTranscripts returns the session's transcripts plus their combined text.
func (h *Handler) listTranscripts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	ts, err := h.store.ListTranscripts(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	out := make([]transcriptResponse, 0, len(ts))
	texts := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, toTranscriptResponse(t))
		texts = append(texts, t.Text)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transcripts":  out,
		"combinedText": strings.Join(texts, " "),
	})
}

func (h *Handler) listAnalyses(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	as, err := h.store.ListAnalyses(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	out := make([]analysisResponse, 0, len(as))
	for _, a := range as {
		out = append(out, toAnalysisResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": out})
}

func (h *Handler) latestAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	a, err := h.store.LatestAnalysis(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "no_analysis", "session has no analyses yet")
		return
	}
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalysisResponse(a))
}

func (h *Handler) listMindMaps(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	ms, err := h.store.ListMindMaps(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	out := make([]mindMapResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMindMapResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"mindMaps": out})
}

func (h *Handler) latestMindMap(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	m, err := h.store.LatestMindMap(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "no_mind_map", "session has no mind maps yet")
		return
	}
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMindMapResponse(m))
}

// regenerateMindMap synchronously runs the mind-map pipeline with the
// randomness suffix. It competes for the same processing slot as signal-driven
// runs; a run already in flight yields 409.
func (h *Handler) regenerateMindMap(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	m, err := h.pipelines.RegenerateMindMap(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, toMindMapResponse(m))
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "session_not_found", "session not found")
	case errors.Is(err, pipeline.ErrBusy):
		h.writeError(w, http.StatusConflict, "busy", "a mind map generation is already in flight for this session")
	case errors.Is(err, pipeline.ErrNoContent):
		h.writeError(w, http.StatusUnprocessableEntity, "no_content", "session has no transcripts to analyze")
	case errors.Is(err, pipeline.ErrDisabled):
		h.writeError(w, http.StatusConflict, "model_disabled", "mind map generation is disabled in settings")
	default:
		h.logger.Error("regenerating mind map", "session_id", id, "error", err)
		h.writeError(w, http.StatusBadGateway, "generation_failed", "mind map generation failed")
	}
}

// searchTranscripts runs semantic search over the session's transcripts. It
// requires an embeddings provider and a store with vector search support.
func (h *Handler) searchTranscripts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "bad_request", "query parameter q must not be empty")
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxSearchLimit)
	}

	searcher, ok := h.store.(store.Searcher)
	if !ok || h.embedder == nil {
		h.writeError(w, http.StatusNotImplemented, "search_unavailable", "semantic search requires the PostgreSQL store and an embeddings provider")
		return
	}

	vector, err := h.embedder.Embed(r.Context(), query)
	if err != nil {
		h.logger.Error("embedding search query", "error", err)
		h.writeError(w, http.StatusBadGateway, "embedding_failed", "could not embed the search query")
		return
	}

	hits, err := searcher.SearchTranscripts(r.Context(), id, vector, limit)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	out := make([]searchHitResponse, 0, len(hits))
	for _, hit := range hits {
		out = append(out, searchHitResponse{
			Transcript: toTranscriptResponse(hit.Transcript),
			Similarity: hit.Similarity,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": out})
}

// processingStatusResponse is the REST view of a session's pipeline slots.
// Field names differ from the websocket event payload for client
// compatibility.
type processingStatusResponse struct {
	SummaryProcessing bool       `json:"summary_processing"`
	MindMapProcessing bool       `json:"mind_map_processing"`
	AnyProcessing     bool       `json:"any_processing"`
	SummaryStartTime  *time.Time `json:"summary_start_time,omitempty"`
	MindMapStartTime  *time.Time `json:"mind_map_start_time,omitempty"`
}

// processingStatus reports the busy state of the session's pipeline slots.
func (h *Handler) processingStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	st := h.proc.Status(id)
	writeJSON(w, http.StatusOK, processingStatusResponse{
		SummaryProcessing: st.SummaryBusy,
		MindMapProcessing: st.MindMapBusy,
		AnyProcessing:     st.Busy(),
		SummaryStartTime:  st.SummaryStartedAt,
		MindMapStartTime:  st.MindMapStartedAt,
	})
}
