package transport

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// Message types on the wire. Inbound connections use the first two; the rest
// are outbound mirrors of bus events.
const (
	TypeAudioChunk          = "audio_chunk"
	TypeStatus              = "status"
	TypeTranscriptionResult = "transcription_result"
	TypeAudioLevel          = "audio_level"
	TypeSessionAnalysis     = "session_analysis"
	TypeMindMapResult       = "mind_map_result"
	TypeProcessingStatus    = "processing_status"
	TypeError               = "error"
)

// Stream actions carried by inbound status messages.
const (
	ActionStartStream = "start_stream"
	ActionStopStream  = "stop_stream"
)

// inboundEnvelope is the parsed shape of a client text message. Client
// timestamps are ignored; the server stamps its own.
type inboundEnvelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	SessionID string          `json:"sessionId"`
}

// outboundEnvelope is the wire shape of every server-to-client message.
type outboundEnvelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"sessionId"`
}

func newOutbound(msgType, sessionID string, at time.Time, data any) outboundEnvelope {
	if at.IsZero() {
		at = time.Now()
	}
	return outboundEnvelope{
		Type:      msgType,
		Data:      data,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
	}
}

// audioChunkPayload is the data of an inbound audio_chunk message.
type audioChunkPayload struct {
	Data      string `json:"data"`
	SessionID string `json:"sessionId"`
}

// statusPayload is the data of an inbound status message.
type statusPayload struct {
	Action string `json:"action"`
}

// decodeBase64 decodes standard base64, restoring stripped padding first.
// Browsers' chunked encoders routinely drop trailing '=' characters.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(s)
}
