package bus

import (
	"github.com/voxtools/mindstream/internal/mindmap"
	"github.com/voxtools/mindstream/internal/procstate"
)

// ErrorKind classifies error events sent to clients. NoContent failures are
// deliberately absent: an empty transcription is silent by contract.
type ErrorKind string

const (
	ErrInvalidFrame       ErrorKind = "invalid_frame"
	ErrOverflow           ErrorKind = "overflow"
	ErrTranscriberTimeout ErrorKind = "transcriber_timeout"
	ErrTranscriberError   ErrorKind = "transcriber_error"
	ErrLLMFailure         ErrorKind = "llm_failure"
	ErrInvalidMindMap     ErrorKind = "invalid_mind_map"
	ErrSessionNotFound    ErrorKind = "session_not_found"
)

// TranscriptionResult is published after each transcription attempt that
// produced text.
type TranscriptionResult struct {
	Success      bool   `json:"success"`
	Text         string `json:"text"`
	Language     string `json:"language"`
	Model        string `json:"model"`
	SessionID    string `json:"sessionId"`
	TranscriptID int64  `json:"transcriptId"`
}

// AudioLevel carries the RMS level (0..100) of one accepted audio frame.
type AudioLevel struct {
	Level float64 `json:"level"`
}

// SessionAnalysis is published when a summary pipeline run completes.
type SessionAnalysis struct {
	AnalysisID       int64  `json:"analysisId"`
	Response         string `json:"response"`
	Model            string `json:"model"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// MindMapResult is published when a mind-map pipeline run completes.
type MindMapResult struct {
	MindMapID int64       `json:"mindMapId"`
	Map       mindmap.Map `json:"map"`
	Model     string      `json:"model"`
}

// ProcessingStatus reports the session's busy slots. SkippedKind is set when
// the event was triggered by a run being skipped because its slot was busy.
type ProcessingStatus struct {
	procstate.Status
	SkippedKind string `json:"skippedKind,omitempty"`
}

// StatusMessage is a free-form lifecycle notice (stream started, stream
// stopped, session created).
type StatusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorMessage is a client-visible failure notice.
type ErrorMessage struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
