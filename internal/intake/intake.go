// Package intake accepts audio frames from transports, validates and batches
// them per session, and drives one transcription worker per active session.
//
// The inbound path never blocks: each session has a bounded batch queue and
// on overflow the oldest queued batch is discarded. Workers spawn on the
// first frame of a session and retire after an idle timeout.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxtools/mindstream/internal/bus"
	"github.com/voxtools/mindstream/internal/observe"
	"github.com/voxtools/mindstream/internal/settings"
	"github.com/voxtools/mindstream/internal/store"
	"github.com/voxtools/mindstream/pkg/audio"
	"github.com/voxtools/mindstream/pkg/provider/embeddings"
	"github.com/voxtools/mindstream/pkg/provider/stt"
)

// ErrInvalidFrame is returned by Submit when a frame is not a valid PCM,
// mono, 16 kHz, 16-bit WAV container.
var ErrInvalidFrame = errors.New("intake: invalid audio frame")

// Required input format. Frames in any other format are rejected rather than
// resampled.
const (
	requiredSampleRate = 16_000
	requiredChannels   = 1
)

const (
	defaultQueueCapacity     = 64
	defaultIdleTimeout       = time.Minute
	defaultTranscribeTimeout = time.Minute
	embedTimeout             = 15 * time.Second
)

// FrameUnit is one transcription work item: a complete WAV payload for a
// session. Depending on batching settings it covers one or several client
// frames.
type FrameUnit struct {
	SessionID  string
	Bytes      []byte
	ReceivedAt time.Time
}

// Config wires a Manager.
type Config struct {
	// Transcriber converts WAV audio to text.
	Transcriber stt.Transcriber

	// Store persists transcripts.
	Store store.Store

	// Bus receives transcription results, audio levels, and error events.
	Bus *bus.Bus

	// Resolver supplies whisper language/model and batching settings.
	Resolver *settings.Resolver

	// Notify is called after each non-empty transcript is persisted. The
	// orchestrator hangs off this signal. May be nil.
	Notify func(sessionID string, transcriptID int64)

	// Embedder computes semantic search vectors for transcripts, best
	// effort. May be nil; embedding failures never fail persistence.
	Embedder embeddings.Provider

	// Metrics receives intake instrumentation. May be nil.
	Metrics *observe.Metrics

	// QueueCapacity is the per-session batch queue high-water mark.
	// Defaults to 64.
	QueueCapacity int

	// WorkerIdleTimeout is how long a session worker may sit idle before it
	// retires. Defaults to 1 minute.
	WorkerIdleTimeout time.Duration

	// TranscribeTimeout is the soft deadline for a single transcriber
	// invocation. Defaults to 1 minute.
	TranscribeTimeout time.Duration

	Logger *slog.Logger
}

// sessionState tracks one session's pending batch and work queue. Guarded by
// the Manager mutex.
type sessionState struct {
	pending       [][]byte // accepted PCM frames awaiting a full batch
	queue         []FrameUnit
	wake          chan struct{}
	workerRunning bool
}

// Manager is the audio intake front end. All methods are safe for concurrent
// use.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
	closed   bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a Manager. The zero values of the tunables in cfg are
// replaced with defaults.
func NewManager(cfg Config) *Manager {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.WorkerIdleTimeout <= 0 {
		cfg.WorkerIdleTimeout = defaultIdleTimeout
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = defaultTranscribeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*sessionState),
		done:     make(chan struct{}),
	}
}

// Submit accepts one client audio frame for a session. The frame must be a
// complete RIFF/WAVE container with PCM, mono, 16 kHz, 16-bit samples;
// anything else returns ErrInvalidFrame (wrapped) and publishes an error
// event, leaving the session intact.
//
// Accepted frames are buffered until the batch size from the current settings
// is reached, then queued for the session's worker. Submit never blocks on
// transcription.
func (m *Manager) Submit(sessionID string, data []byte) error {
	format, pcm, err := audio.DecodeWAV(data)
	if err != nil {
		m.rejectFrame(sessionID, err)
		return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	if format.SampleRate != requiredSampleRate || format.Channels != requiredChannels {
		err := fmt.Errorf("got %d Hz / %d channel(s), want %d Hz mono",
			format.SampleRate, format.Channels, requiredSampleRate)
		m.rejectFrame(sessionID, err)
		return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}

	m.cfg.Metrics.RecordFrameAccepted(context.Background())
	// Every accepted frame counts as session activity, even when it later
	// transcribes to silence.
	if err := m.cfg.Store.TouchSession(context.Background(), sessionID); err != nil {
		m.logger.Warn("touching session", "session_id", sessionID, "error", err)
	}
	m.cfg.Bus.Publish(bus.Event{
		Type:      bus.EventAudioLevel,
		SessionID: sessionID,
		Data:      bus.AudioLevel{Level: audio.Level(pcm)},
	})

	framesPerBatch := m.framesPerBatch()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("intake: manager closed")
	}
	st := m.state(sessionID)
	st.pending = append(st.pending, pcm)
	flush := len(st.pending) >= framesPerBatch
	if flush {
		m.flushLocked(sessionID, st)
	}
	m.ensureWorkerLocked(sessionID, st)
	m.mu.Unlock()
	return nil
}

// Flush queues whatever partial batch the session has buffered. Called on
// stop_stream so short trailing audio is transcribed instead of lingering.
func (m *Manager) Flush(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	st, ok := m.sessions[sessionID]
	if !ok || len(st.pending) == 0 {
		return
	}
	m.flushLocked(sessionID, st)
	m.ensureWorkerLocked(sessionID, st)
}

// Close stops all workers and rejects further submissions. It returns once
// every worker has exited.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()
	m.wg.Wait()
}

// ActiveWorkers returns the number of running session workers.
func (m *Manager) ActiveWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, st := range m.sessions {
		if st.workerRunning {
			n++
		}
	}
	return n
}

func (m *Manager) state(sessionID string) *sessionState {
	st, ok := m.sessions[sessionID]
	if !ok {
		st = &sessionState{wake: make(chan struct{}, 1)}
		m.sessions[sessionID] = st
	}
	return st
}

// flushLocked concatenates the pending frames into one FrameUnit and appends
// it to the work queue, applying drop-oldest overflow. Caller holds m.mu.
func (m *Manager) flushLocked(sessionID string, st *sessionState) {
	var total int
	for _, pcm := range st.pending {
		total += len(pcm)
	}
	joined := make([]byte, 0, total)
	for _, pcm := range st.pending {
		joined = append(joined, pcm...)
	}
	st.pending = nil

	if len(st.queue) >= m.cfg.QueueCapacity {
		st.queue = st.queue[1:]
		m.cfg.Metrics.RecordFrameDropped(context.Background())
		m.logger.Warn("intake queue overflow, dropping oldest batch", "session_id", sessionID)
		m.cfg.Bus.Publish(bus.Event{
			Type:      bus.EventError,
			SessionID: sessionID,
			Data: bus.ErrorMessage{
				Kind:    bus.ErrOverflow,
				Message: "audio queue overflow, oldest batch dropped",
			},
		})
	}
	st.queue = append(st.queue, FrameUnit{
		SessionID:  sessionID,
		Bytes:      audio.EncodeWAV(joined, requiredSampleRate, requiredChannels),
		ReceivedAt: time.Now(),
	})
}

// ensureWorkerLocked spawns the session worker if none is running and wakes
// it otherwise. Caller holds m.mu.
func (m *Manager) ensureWorkerLocked(sessionID string, st *sessionState) {
	if !st.workerRunning {
		st.workerRunning = true
		m.cfg.Metrics.AddActiveSessions(context.Background(), 1)
		m.wg.Add(1)
		go m.runWorker(sessionID, st)
		return
	}
	select {
	case st.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) rejectFrame(sessionID string, cause error) {
	m.cfg.Metrics.RecordFrameRejected(context.Background())
	m.logger.Warn("rejecting audio frame", "session_id", sessionID, "error", cause)
	m.cfg.Bus.Publish(bus.Event{
		Type:      bus.EventError,
		SessionID: sessionID,
		Data: bus.ErrorMessage{
			Kind:    bus.ErrInvalidFrame,
			Message: cause.Error(),
		},
	})
}

// framesPerBatch resolves the current batch size, falling back to the default
// when resolution fails.
func (m *Manager) framesPerBatch() int {
	eff, err := m.cfg.Resolver.Resolve(context.Background())
	if err != nil {
		m.logger.Warn("resolving batch settings failed, using default", "error", err)
		return settings.DefaultFramesPerBatch
	}
	if eff.FramesPerBatch <= 0 {
		return settings.DefaultFramesPerBatch
	}
	return eff.FramesPerBatch
}
