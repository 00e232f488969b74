package intake

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/voxtools/mindstream/internal/bus"
	"github.com/voxtools/mindstream/internal/store"
)

// runWorker is the per-session transcription loop. It drains the session
// queue in arrival order, retires after WorkerIdleTimeout with nothing
// buffered, and exits immediately when the manager closes.
func (m *Manager) runWorker(sessionID string, st *sessionState) {
	defer m.wg.Done()
	defer m.cfg.Metrics.AddActiveSessions(context.Background(), -1)

	idle := time.NewTimer(m.cfg.WorkerIdleTimeout)
	defer idle.Stop()

	for {
		m.mu.Lock()
		if len(st.queue) > 0 {
			unit := st.queue[0]
			st.queue = st.queue[1:]
			m.mu.Unlock()

			m.process(unit)

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.cfg.WorkerIdleTimeout)
			continue
		}
		m.mu.Unlock()

		select {
		case <-st.wake:
		case <-m.done:
			return
		case <-idle.C:
			m.mu.Lock()
			if len(st.queue) == 0 && len(st.pending) == 0 {
				st.workerRunning = false
				delete(m.sessions, sessionID)
				m.mu.Unlock()
				m.logger.Debug("transcription worker retired", "session_id", sessionID)
				return
			}
			m.mu.Unlock()
			idle.Reset(m.cfg.WorkerIdleTimeout)
		}
	}
}

// process transcribes one unit, persists the transcript, and publishes the
// result. Transcriber failures are published and dropped; the worker keeps
// going. Whitespace-only results are persisted nowhere and fire nothing.
func (m *Manager) process(unit FrameUnit) {
	eff, err := m.cfg.Resolver.Resolve(context.Background())
	if err != nil {
		m.logger.Error("resolving settings for transcription", "session_id", unit.SessionID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TranscribeTimeout)
	defer cancel()

	language := eff.WhisperLanguage
	if language == "auto" {
		// The transcriber auto-detects when no hint is given.
		language = ""
	}

	started := time.Now()
	result, err := m.cfg.Transcriber.Transcribe(ctx, unit.Bytes, language, eff.WhisperModel)
	if err != nil {
		kind := bus.ErrTranscriberError
		if errors.Is(err, context.DeadlineExceeded) {
			kind = bus.ErrTranscriberTimeout
		}
		m.cfg.Metrics.RecordSTT(context.Background(), time.Since(started), string(kind))
		m.logger.Error("transcription failed", "session_id", unit.SessionID, "error", err)
		m.cfg.Bus.Publish(bus.Event{
			Type:      bus.EventError,
			SessionID: unit.SessionID,
			Data:      bus.ErrorMessage{Kind: kind, Message: err.Error()},
		})
		return
	}

	m.cfg.Metrics.RecordSTT(context.Background(), time.Since(started), "ok")

	text := strings.TrimSpace(result.Text)
	if text == "" {
		m.logger.Debug("empty transcription, skipping", "session_id", unit.SessionID)
		return
	}

	transcript, err := m.cfg.Store.AddTranscript(context.Background(), store.Transcript{
		SessionID: unit.SessionID,
		Text:      text,
		Language:  result.Language,
		Model:     result.Model,
		Embedding: m.embed(text),
	})
	if err != nil {
		m.logger.Error("persisting transcript", "session_id", unit.SessionID, "error", err)
		return
	}
	m.cfg.Metrics.RecordTranscriptPersisted(context.Background())

	m.cfg.Bus.Publish(bus.Event{
		Type:      bus.EventTranscriptionResult,
		SessionID: unit.SessionID,
		Data: bus.TranscriptionResult{
			Success:      true,
			Text:         text,
			Language:     result.Language,
			Model:        result.Model,
			SessionID:    unit.SessionID,
			TranscriptID: transcript.ID,
		},
	})

	if m.cfg.Notify != nil {
		m.cfg.Notify(unit.SessionID, transcript.ID)
	}
}

// embed computes the semantic search vector for text, best effort. A missing
// embedder or a failed call yields nil; persistence proceeds without a vector.
func (m *Manager) embed(text string) []float32 {
	if m.cfg.Embedder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), embedTimeout)
	defer cancel()

	vector, err := m.cfg.Embedder.Embed(ctx, text)
	if err != nil {
		m.logger.Warn("embedding transcript failed", "error", err)
		return nil
	}
	return vector
}
