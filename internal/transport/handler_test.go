package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxtools/mindstream/internal/bus"
	"github.com/voxtools/mindstream/internal/intake"
	"github.com/voxtools/mindstream/internal/settings"
	"github.com/voxtools/mindstream/internal/store"
	"github.com/voxtools/mindstream/pkg/audio"
	"github.com/voxtools/mindstream/pkg/provider/stt"
	sttmock "github.com/voxtools/mindstream/pkg/provider/stt/mock"
)

// wireMessage is the client-side view of an outbound envelope with the
// payload left raw for per-test decoding.
type wireMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
	SessionID string          `json:"sessionId"`
}

type testEnv struct {
	store       *store.MemStore
	bus         *bus.Bus
	transcriber *sttmock.Transcriber
	intake      *intake.Manager
	server      *httptest.Server
}

func newTestEnv(t *testing.T, framesPerBatch int) *testEnv {
	t.Helper()

	st := store.NewMemStore()
	if err := st.UpdateSettings(context.Background(), store.Settings{FramesPerBatch: framesPerBatch}); err != nil {
		t.Fatalf("seeding settings: %v", err)
	}

	b := bus.New(nil)
	transcriber := &sttmock.Transcriber{Result: stt.Result{Text: "hello world", Language: "en"}}

	manager := intake.NewManager(intake.Config{
		Transcriber: transcriber,
		Store:       st,
		Bus:         b,
		Resolver:    settings.NewResolver(st),
	})
	t.Cleanup(manager.Close)

	handler := NewHandler(st, b, manager, nil)
	handler.InsecureSkipOriginCheck = true

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testEnv{store: st, bus: b, transcriber: transcriber, intake: manager, server: server}
}

// dial opens a websocket connection and consumes the initial connected status.
func (env *testEnv) dial(t *testing.T, query string) (*websocket.Conn, wireMessage) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	connected := readMessage(t, conn)
	if connected.Type != TypeStatus {
		t.Fatalf("expected initial status message, got %q", connected.Type)
	}
	return conn, connected
}

func readMessage(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading from websocket: %v", err)
	}
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decoding envelope %q: %v", data, err)
	}
	return msg
}

// readUntil reads messages until one of msgType arrives, skipping interleaved
// events like audio levels.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) wireMessage {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg := readMessage(t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("no %q message arrived", msgType)
	return wireMessage{}
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshalling payload: %v", err)
	}
	raw, err := json.Marshal(map[string]any{"type": msgType, "data": json.RawMessage(payload)})
	if err != nil {
		t.Fatalf("marshalling envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("writing envelope: %v", err)
	}
}

// validFrame returns a mono 16 kHz WAV frame carrying n zero samples.
func validFrame(n int) []byte {
	return audio.EncodeWAV(make([]byte, n*2), 16_000, 1)
}

func TestConnectCreatesNamedSession(t *testing.T) {
	env := newTestEnv(t, 1)

	conn, connected := env.dial(t, "?session_id=s1")
	defer conn.Close(websocket.StatusNormalClosure, "")

	if connected.SessionID != "s1" {
		t.Errorf("expected session id s1, got %q", connected.SessionID)
	}
	if _, err := env.store.GetSession(context.Background(), "s1"); err != nil {
		t.Errorf("session was not created: %v", err)
	}
}

func TestConnectGeneratesSessionID(t *testing.T) {
	env := newTestEnv(t, 1)

	conn, connected := env.dial(t, "")
	defer conn.Close(websocket.StatusNormalClosure, "")

	if connected.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
	if _, err := uuid.Parse(connected.SessionID); err != nil {
		t.Errorf("generated session id %q is not a UUID: %v", connected.SessionID, err)
	}
	if _, err := env.store.GetSession(context.Background(), connected.SessionID); err != nil {
		t.Errorf("generated session was not created: %v", err)
	}
}

func TestConnectReusesExistingSession(t *testing.T) {
	env := newTestEnv(t, 1)
	created, err := env.store.CreateSession(context.Background(), store.Session{ID: "s1", Name: "kept"})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	conn, _ := env.dial(t, "?session_id=s1")
	defer conn.Close(websocket.StatusNormalClosure, "")

	got, err := env.store.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("getting session: %v", err)
	}
	if got.Name != created.Name {
		t.Errorf("existing session was replaced: name %q, want %q", got.Name, created.Name)
	}
}

func TestAudioChunkTranscribed(t *testing.T) {
	env := newTestEnv(t, 1)
	conn, _ := env.dial(t, "?session_id=s1")

	encoded := base64.StdEncoding.EncodeToString(validFrame(160))
	sendEnvelope(t, conn, TypeAudioChunk, audioChunkPayload{Data: encoded})

	msg := readUntil(t, conn, TypeTranscriptionResult)
	var result bus.TranscriptionResult
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		t.Fatalf("decoding transcription result: %v", err)
	}
	if result.Text != "hello world" {
		t.Errorf("expected transcription text, got %q", result.Text)
	}
	if msg.SessionID != "s1" {
		t.Errorf("expected sessionId s1, got %q", msg.SessionID)
	}
	if msg.Timestamp == "" {
		t.Error("expected a server timestamp")
	}
}

func TestAudioChunkStrippedPadding(t *testing.T) {
	env := newTestEnv(t, 1)
	conn, _ := env.dial(t, "?session_id=s1")

	// Browser chunkers drop the trailing '=' padding.
	encoded := strings.TrimRight(base64.StdEncoding.EncodeToString(validFrame(161)), "=")
	sendEnvelope(t, conn, TypeAudioChunk, audioChunkPayload{Data: encoded})

	readUntil(t, conn, TypeTranscriptionResult)
	if env.transcriber.CallCount() == 0 {
		t.Error("transcriber was never invoked")
	}
}

func TestBinaryFrameTranscribed(t *testing.T) {
	env := newTestEnv(t, 1)
	conn, _ := env.dial(t, "?session_id=s1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, validFrame(160)); err != nil {
		t.Fatalf("writing binary frame: %v", err)
	}

	readUntil(t, conn, TypeTranscriptionResult)

	transcripts, err := env.store.ListTranscripts(context.Background(), "s1")
	if err != nil {
		t.Fatalf("listing transcripts: %v", err)
	}
	if len(transcripts) != 1 {
		t.Fatalf("expected 1 transcript, got %d", len(transcripts))
	}
}

func TestInvalidAudioChunkPublishesError(t *testing.T) {
	env := newTestEnv(t, 1)
	conn, _ := env.dial(t, "?session_id=s1")

	encoded := base64.StdEncoding.EncodeToString([]byte("definitely not a wav"))
	sendEnvelope(t, conn, TypeAudioChunk, audioChunkPayload{Data: encoded})

	msg := readUntil(t, conn, TypeError)
	var errMsg bus.ErrorMessage
	if err := json.Unmarshal(msg.Data, &errMsg); err != nil {
		t.Fatalf("decoding error message: %v", err)
	}
	if errMsg.Kind != bus.ErrInvalidFrame {
		t.Errorf("expected kind %q, got %q", bus.ErrInvalidFrame, errMsg.Kind)
	}
}

func TestStreamLifecycle(t *testing.T) {
	env := newTestEnv(t, 3)
	conn, _ := env.dial(t, "?session_id=s1")

	sendEnvelope(t, conn, TypeStatus, statusPayload{Action: ActionStartStream})
	started := readUntil(t, conn, TypeStatus)
	var status bus.StatusMessage
	if err := json.Unmarshal(started.Data, &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.Status != "stream_started" {
		t.Fatalf("expected stream_started, got %q", status.Status)
	}
	sess, err := env.store.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("getting session: %v", err)
	}
	if !sess.IsActive {
		t.Error("session should be active after start_stream")
	}

	// One frame is below the batch size of 3; only the stop flush releases it.
	encoded := base64.StdEncoding.EncodeToString(validFrame(160))
	sendEnvelope(t, conn, TypeAudioChunk, audioChunkPayload{Data: encoded})

	sendEnvelope(t, conn, TypeStatus, statusPayload{Action: ActionStopStream})

	sawResult, sawStopped := false, false
	for !sawResult || !sawStopped {
		msg := readMessage(t, conn)
		switch msg.Type {
		case TypeTranscriptionResult:
			sawResult = true
		case TypeStatus:
			var s bus.StatusMessage
			if err := json.Unmarshal(msg.Data, &s); err != nil {
				t.Fatalf("decoding status: %v", err)
			}
			if s.Status == "stream_stopped" {
				sawStopped = true
			}
		}
	}

	sess, err = env.store.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("getting session: %v", err)
	}
	if sess.IsActive {
		t.Error("session should be inactive after stop_stream")
	}
}

func TestMalformedMessages(t *testing.T) {
	env := newTestEnv(t, 1)

	writeText := func(t *testing.T, conn *websocket.Conn, raw string) {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
			t.Fatalf("writing raw message: %v", err)
		}
	}

	expectError := func(t *testing.T, conn *websocket.Conn, fragment string) {
		t.Helper()
		msg := readUntil(t, conn, TypeError)
		var errMsg bus.ErrorMessage
		if err := json.Unmarshal(msg.Data, &errMsg); err != nil {
			t.Fatalf("decoding error message: %v", err)
		}
		if !strings.Contains(errMsg.Message, fragment) {
			t.Errorf("error %q does not mention %q", errMsg.Message, fragment)
		}
	}

	t.Run("invalid json", func(t *testing.T) {
		conn, _ := env.dial(t, "?session_id=s1")
		writeText(t, conn, "{not json")
		expectError(t, conn, "envelope")
	})

	t.Run("unknown type", func(t *testing.T) {
		conn, _ := env.dial(t, "?session_id=s1")
		writeText(t, conn, `{"type":"telepathy","data":{}}`)
		expectError(t, conn, "telepathy")
	})

	t.Run("unknown status action", func(t *testing.T) {
		conn, _ := env.dial(t, "?session_id=s1")
		sendEnvelope(t, conn, TypeStatus, statusPayload{Action: "pause"})
		expectError(t, conn, "pause")
	})

	t.Run("invalid base64", func(t *testing.T) {
		conn, _ := env.dial(t, "?session_id=s1")
		sendEnvelope(t, conn, TypeAudioChunk, audioChunkPayload{Data: "!!not base64!!"})
		expectError(t, conn, "base64")
	})
}

func TestBusEventsForwarded(t *testing.T) {
	env := newTestEnv(t, 1)
	conn, _ := env.dial(t, "?session_id=s1")

	env.bus.Publish(bus.Event{
		Type:      bus.EventSessionAnalysis,
		SessionID: "s1",
		Data:      bus.SessionAnalysis{AnalysisID: 7, Response: "a summary", Model: "m"},
	})

	msg := readUntil(t, conn, TypeSessionAnalysis)
	var analysis bus.SessionAnalysis
	if err := json.Unmarshal(msg.Data, &analysis); err != nil {
		t.Fatalf("decoding analysis payload: %v", err)
	}
	if analysis.AnalysisID != 7 || analysis.Response != "a summary" {
		t.Errorf("unexpected payload: %+v", analysis)
	}
	if msg.SessionID != "s1" {
		t.Errorf("expected sessionId s1, got %q", msg.SessionID)
	}
}

func TestEventsIsolatedPerSession(t *testing.T) {
	env := newTestEnv(t, 1)
	conn, _ := env.dial(t, "?session_id=s1")

	env.bus.Publish(bus.Event{
		Type:      bus.EventSessionAnalysis,
		SessionID: "other",
		Data:      bus.SessionAnalysis{AnalysisID: 1},
	})
	env.bus.Publish(bus.Event{
		Type:      bus.EventSessionAnalysis,
		SessionID: "s1",
		Data:      bus.SessionAnalysis{AnalysisID: 2},
	})

	msg := readUntil(t, conn, TypeSessionAnalysis)
	var analysis bus.SessionAnalysis
	if err := json.Unmarshal(msg.Data, &analysis); err != nil {
		t.Fatalf("decoding analysis payload: %v", err)
	}
	if analysis.AnalysisID != 2 {
		t.Errorf("received event for another session: %+v", analysis)
	}
}

func TestDisconnectReleasesSubscription(t *testing.T) {
	env := newTestEnv(t, 1)
	conn, _ := env.dial(t, "?session_id=s1")

	if n := env.bus.SubscriberCount("s1"); n != 1 {
		t.Fatalf("expected 1 subscriber while connected, got %d", n)
	}

	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if env.bus.SubscriberCount("s1") == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscription not released, %d subscribers remain", env.bus.SubscriberCount("s1"))
}
