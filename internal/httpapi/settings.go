package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/voxtools/mindstream/internal/settings"
	"github.com/voxtools/mindstream/internal/store"
)

// whisperLanguage is one entry of the language catalog.
type whisperLanguage struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// whisperModel is one entry of the model catalog.
type whisperModel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// whisperLanguages is the supported language catalog. "auto" defers detection
// to the model.
var whisperLanguages = []whisperLanguage{
	{Code: "auto", Name: "Auto-detect"},
	{Code: "en", Name: "English"},
	{Code: "pl", Name: "Polish"},
	{Code: "es", Name: "Spanish"},
	{Code: "fr", Name: "French"},
	{Code: "de", Name: "German"},
	{Code: "it", Name: "Italian"},
	{Code: "pt", Name: "Portuguese"},
	{Code: "ru", Name: "Russian"},
	{Code: "ja", Name: "Japanese"},
	{Code: "ko", Name: "Korean"},
	{Code: "zh", Name: "Chinese"},
}

var whisperModels = []whisperModel{
	{ID: "tiny", Name: "Tiny (39M)", Description: "Fastest, least accurate"},
	{ID: "base", Name: "Base (74M)", Description: "Good balance of speed and accuracy"},
	{ID: "small", Name: "Small (244M)", Description: "Better accuracy, slower"},
	{ID: "medium", Name: "Medium (769M)", Description: "High accuracy, slower"},
	{ID: "large", Name: "Large (1550M)", Description: "Best accuracy, slowest"},
}

func validWhisperLanguage(code string) bool {
	for _, l := range whisperLanguages {
		if l.Code == code {
			return true
		}
	}
	return false
}

func validWhisperModel(id string) bool {
	for _, m := range whisperModels {
		if m.ID == id {
			return true
		}
	}
	return false
}

// settingsResponse is the wire shape of the persisted settings row. Field
// names keep the client-facing ollama* naming of the model and prompt fields.
type settingsResponse struct {
	WhisperLanguage string     `json:"whisperLanguage"`
	WhisperModel    string     `json:"whisperModel"`
	Model           string     `json:"ollamaModel"`
	SummaryModel    string     `json:"ollamaSummaryModel,omitempty"`
	MindMapModel    string     `json:"ollamaMindMapModel,omitempty"`
	SummaryPrompt   string     `json:"ollamaTaskPrompt"`
	MindMapPrompt   string     `json:"ollamaMindMapPrompt"`
	FrameLengthMs   int        `json:"frameLengthMs"`
	FramesPerBatch  int        `json:"framesPerBatch"`
	ActiveSessionID string     `json:"activeSessionId,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

func toSettingsResponse(s store.Settings) settingsResponse {
	resp := settingsResponse{
		WhisperLanguage: s.WhisperLanguage,
		WhisperModel:    s.WhisperModel,
		Model:           s.Model,
		SummaryModel:    s.SummaryModel,
		MindMapModel:    s.MindMapModel,
		SummaryPrompt:   s.SummaryPrompt,
		MindMapPrompt:   s.MindMapPrompt,
		FrameLengthMs:   s.FrameLengthMs,
		FramesPerBatch:  s.FramesPerBatch,
		ActiveSessionID: s.ActiveSessionID,
	}
	if !s.UpdatedAt.IsZero() {
		resp.UpdatedAt = &s.UpdatedAt
	}
	return resp
}

// settingsRequest is a partial update of the settings row. Nil fields keep
// their current value.
type settingsRequest struct {
	WhisperLanguage *string `json:"whisperLanguage"`
	WhisperModel    *string `json:"whisperModel"`
	Model           *string `json:"ollamaModel"`
	SummaryModel    *string `json:"ollamaSummaryModel"`
	MindMapModel    *string `json:"ollamaMindMapModel"`
	SummaryPrompt   *string `json:"ollamaTaskPrompt"`
	MindMapPrompt   *string `json:"ollamaMindMapPrompt"`
	FrameLengthMs   *int    `json:"frameLengthMs"`
	FramesPerBatch  *int    `json:"framesPerBatch"`
}

// getSettings returns the persisted settings row, or the built-in defaults
// when no row was ever written.
func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	row, err := h.store.GetSettings(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		row = settings.Defaults()
	} else if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(row))
}

// updateSettings applies a partial update on top of the current row (or the
// defaults when none exists) and persists the result.
func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}

	row, err := h.store.GetSettings(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		row = settings.Defaults()
	} else if err != nil {
		h.writeStoreError(w, err)
		return
	}

	if req.WhisperLanguage != nil {
		row.WhisperLanguage = *req.WhisperLanguage
	}
	if req.WhisperModel != nil {
		row.WhisperModel = *req.WhisperModel
	}
	if req.Model != nil {
		row.Model = *req.Model
	}
	if req.SummaryModel != nil {
		row.SummaryModel = *req.SummaryModel
	}
	if req.MindMapModel != nil {
		row.MindMapModel = *req.MindMapModel
	}
	if req.SummaryPrompt != nil {
		row.SummaryPrompt = *req.SummaryPrompt
	}
	if req.MindMapPrompt != nil {
		row.MindMapPrompt = *req.MindMapPrompt
	}
	if req.FrameLengthMs != nil {
		row.FrameLengthMs = *req.FrameLengthMs
	}
	if req.FramesPerBatch != nil {
		row.FramesPerBatch = *req.FramesPerBatch
	}

	if !validWhisperLanguage(row.WhisperLanguage) {
		h.writeError(w, http.StatusBadRequest, "bad_request", "unsupported whisper language: "+row.WhisperLanguage)
		return
	}
	if !validWhisperModel(row.WhisperModel) {
		h.writeError(w, http.StatusBadRequest, "bad_request", "unsupported whisper model: "+row.WhisperModel)
		return
	}
	if row.FrameLengthMs <= 0 {
		h.writeError(w, http.StatusBadRequest, "bad_request", "frameLengthMs must be positive")
		return
	}
	if row.FramesPerBatch <= 0 {
		h.writeError(w, http.StatusBadRequest, "bad_request", "framesPerBatch must be positive")
		return
	}

	if err := h.store.UpdateSettings(r.Context(), row); err != nil {
		h.writeStoreError(w, err)
		return
	}

	saved, err := h.store.GetSettings(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(saved))
}

// applyTemporarySettings patches the in-memory override without touching the
// persisted row. The patch takes effect on the next pipeline invocation.
func (h *Handler) applyTemporarySettings(w http.ResponseWriter, r *http.Request) {
	var patch settings.Override
	if err := decodeBody(r, &patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}
	if patch.IsEmpty() {
		h.writeError(w, http.StatusBadRequest, "bad_request", "no overridable settings in request")
		return
	}

	h.resolver.SetOverride(patch)

	eff, err := h.resolver.Resolve(r.Context())
	if err != nil {
		h.logger.Error("resolving settings after override", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"override":  h.resolver.Override(),
		"effective": toEffectiveResponse(eff),
	})
}

func (h *Handler) getTemporarySettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"override": h.resolver.Override()})
}

func (h *Handler) clearTemporarySettings(w http.ResponseWriter, _ *http.Request) {
	h.resolver.ClearOverride()
	w.WriteHeader(http.StatusNoContent)
}

// effectiveResponse is the fully resolved settings view: row, defaults, and
// override merged, with per-kind model fallback applied.
type effectiveResponse struct {
	WhisperLanguage string `json:"whisperLanguage"`
	WhisperModel    string `json:"whisperModel"`
	SummaryModel    string `json:"summaryModel"`
	MindMapModel    string `json:"mindMapModel"`
	SummaryPrompt   string `json:"summaryPrompt"`
	MindMapPrompt   string `json:"mindMapPrompt"`
	FrameLengthMs   int    `json:"frameLengthMs"`
	FramesPerBatch  int    `json:"framesPerBatch"`
	ActiveSessionID string `json:"activeSessionId,omitempty"`
}

func toEffectiveResponse(eff settings.Effective) effectiveResponse {
	return effectiveResponse{
		WhisperLanguage: eff.WhisperLanguage,
		WhisperModel:    eff.WhisperModel,
		SummaryModel:    eff.SummaryModel,
		MindMapModel:    eff.MindMapModel,
		SummaryPrompt:   eff.SummaryPrompt,
		MindMapPrompt:   eff.MindMapPrompt,
		FrameLengthMs:   eff.FrameLengthMs,
		FramesPerBatch:  eff.FramesPerBatch,
		ActiveSessionID: eff.ActiveSessionID,
	}
}

func (h *Handler) whisperLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": whisperLanguages})
}

func (h *Handler) whisperModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": whisperModels})
}
