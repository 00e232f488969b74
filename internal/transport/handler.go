// Package transport exposes the websocket endpoint clients stream audio to
// and receive session events from.
//
// Each connection is bound to one session, taken from the session_id query
// parameter or freshly generated. The connection subscribes to the session's
// bus events for its lifetime; on disconnect the subscription is released
// while in-flight pipelines run to completion unwatched.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxtools/mindstream/internal/bus"
	"github.com/voxtools/mindstream/internal/intake"
	"github.com/voxtools/mindstream/internal/observe"
	"github.com/voxtools/mindstream/internal/store"
)

// writeTimeout bounds a single outbound frame write.
const writeTimeout = 10 * time.Second

// Handler upgrades HTTP requests to websocket connections and runs the
// per-connection read/write loops.
type Handler struct {
	store  store.Store
	bus    *bus.Bus
	intake *intake.Manager
	logger *slog.Logger

	// InsecureSkipOriginCheck disables the websocket origin check. Intended
	// for local development setups where the UI is served from another port.
	InsecureSkipOriginCheck bool

	// Metrics tracks open connections. May be nil.
	Metrics *observe.Metrics
}

// NewHandler creates a websocket Handler.
func NewHandler(st store.Store, b *bus.Bus, in *intake.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: st, bus: b, intake: in, logger: logger}
}

// clientConn serializes writes; the websocket allows only one concurrent
// writer while the read loop and the event forwarder both produce output.
type clientConn struct {
	ws *websocket.Conn

	mu sync.Mutex
}

func (c *clientConn) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(writeCtx, websocket.MessageText, data)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.InsecureSkipOriginCheck,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := h.ensureSession(r.Context(), sessionID); err != nil {
		h.logger.Error("ensuring session", "session_id", sessionID, "error", err)
		ws.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	h.Metrics.AddActiveConnections(r.Context(), 1)
	h.logger.Info("client connected", "session_id", sessionID)
	h.serve(r.Context(), &clientConn{ws: ws}, sessionID)
	h.logger.Info("client disconnected", "session_id", sessionID)
	h.Metrics.AddActiveConnections(context.Background(), -1)
}

// ensureSession creates the session when it does not exist yet. A concurrent
// create by another connection is not an error.
func (h *Handler) ensureSession(ctx context.Context, sessionID string) error {
	_, err := h.store.GetSession(ctx, sessionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	_, err = h.store.CreateSession(ctx, store.Session{ID: sessionID})
	if errors.Is(err, store.ErrDuplicateID) {
		return nil
	}
	return err
}

// serve runs the read loop and the event forwarding loop until either side
// ends the connection.
func (h *Handler) serve(ctx context.Context, conn *clientConn, sessionID string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := h.bus.Subscribe(sessionID)
	defer sub.Close()

	var forwarder sync.WaitGroup
	forwarder.Add(1)
	go func() {
		defer forwarder.Done()
		h.writeLoop(ctx, conn, sessionID, sub)
	}()
	defer forwarder.Wait()

	h.send(ctx, conn, newOutbound(TypeStatus, sessionID, time.Time{}, bus.StatusMessage{
		Status:  "connected",
		Message: "session " + sessionID,
	}))

	for {
		msgType, data, err := conn.ws.Read(ctx)
		if err != nil {
			conn.ws.Close(websocket.StatusNormalClosure, "")
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			// Raw frame addressed to the connection's session.
			if err := h.intake.Submit(sessionID, data); err != nil {
				h.logger.Debug("binary frame rejected", "session_id", sessionID, "error", err)
			}
		case websocket.MessageText:
			h.handleText(ctx, conn, sessionID, data)
		}
	}
}

// handleText dispatches one inbound text envelope.
func (h *Handler) handleText(ctx context.Context, conn *clientConn, sessionID string, raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.sendError(ctx, conn, sessionID, "malformed message envelope")
		return
	}

	switch env.Type {
	case TypeAudioChunk:
		var payload audioChunkPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			h.sendError(ctx, conn, sessionID, "malformed audio_chunk payload")
			return
		}
		frame, err := decodeBase64(payload.Data)
		if err != nil {
			h.sendError(ctx, conn, sessionID, "audio_chunk payload is not valid base64")
			return
		}
		// Intake publishes its own error events for invalid frames.
		if err := h.intake.Submit(sessionID, frame); err != nil {
			h.logger.Debug("audio chunk rejected", "session_id", sessionID, "error", err)
		}

	case TypeStatus:
		var payload statusPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			h.sendError(ctx, conn, sessionID, "malformed status payload")
			return
		}
		h.handleStatus(ctx, conn, sessionID, payload.Action)

	default:
		h.sendError(ctx, conn, sessionID, "unknown message type: "+env.Type)
	}
}

// handleStatus applies a stream lifecycle action.
func (h *Handler) handleStatus(ctx context.Context, conn *clientConn, sessionID, action string) {
	switch action {
	case ActionStartStream:
		if err := h.store.SetSessionActive(ctx, sessionID, true); err != nil {
			h.logger.Warn("activating session", "session_id", sessionID, "error", err)
		}
		h.send(ctx, conn, newOutbound(TypeStatus, sessionID, time.Time{}, bus.StatusMessage{
			Status: "stream_started",
		}))

	case ActionStopStream:
		// Flush the partial batch so trailing audio is transcribed.
		h.intake.Flush(sessionID)
		if err := h.store.SetSessionActive(ctx, sessionID, false); err != nil {
			h.logger.Warn("deactivating session", "session_id", sessionID, "error", err)
		}
		h.send(ctx, conn, newOutbound(TypeStatus, sessionID, time.Time{}, bus.StatusMessage{
			Status: "stream_stopped",
		}))

	default:
		h.sendError(ctx, conn, sessionID, "unknown status action: "+action)
	}
}

// writeLoop forwards bus events to the client until the connection context
// ends.
func (h *Handler) writeLoop(ctx context.Context, conn *clientConn, sessionID string, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.C:
			h.send(ctx, conn, newOutbound(string(ev.Type), sessionID, ev.Timestamp, ev.Data))
		}
	}
}

func (h *Handler) send(ctx context.Context, conn *clientConn, env outboundEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("marshalling outbound message", "type", env.Type, "error", err)
		return
	}
	if err := conn.write(ctx, data); err != nil {
		h.logger.Debug("writing to client failed", "type", env.Type, "error", err)
	}
}

func (h *Handler) sendError(ctx context.Context, conn *clientConn, sessionID, message string) {
	h.send(ctx, conn, newOutbound(TypeError, sessionID, time.Time{}, bus.ErrorMessage{
		Kind:    "bad_request",
		Message: message,
	}))
}
