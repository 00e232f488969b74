// Package bus is the in-process fan-out hub between pipelines and connected
// clients. Pipelines publish typed events under a session id; transports
// subscribe per session and forward events over their own wire format.
//
// Delivery is best-effort: a subscriber that cannot keep up has events
// dropped rather than blocking the publisher.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// subscriberBuffer is the per-subscription channel capacity. A full buffer
// means the client is not draining; further events to it are dropped.
const subscriberBuffer = 64

// EventType discriminates event payloads. Values match the wire-level message
// types sent to clients.
type EventType string

const (
	EventTranscriptionResult EventType = "transcription_result"
	EventAudioLevel          EventType = "audio_level"
	EventSessionAnalysis     EventType = "session_analysis"
	EventMindMapResult       EventType = "mind_map_result"
	EventProcessingStatus    EventType = "processing_status"
	EventStatus              EventType = "status"
	EventError               EventType = "error"
)

// Event is one published occurrence. Data holds the payload struct matching
// Type (see events.go).
type Event struct {
	Type      EventType
	SessionID string
	Timestamp time.Time
	Data      any
}

// Subscription is one subscriber's handle. Events arrive on C until Close is
// called; Close is idempotent and safe to call concurrently with delivery.
type Subscription struct {
	C chan Event

	bus       *Bus
	sessionID string
	once      sync.Once
}

// Close detaches the subscription from the bus. The channel is not closed so
// a racing Publish never sends on a closed channel; readers should select on
// C together with their own done signal.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
	})
}

// Bus routes events to per-session subscriber sets. The zero value is not
// usable; create one with [New]. All methods are safe for concurrent use.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// New creates an empty Bus. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber for the session's events.
func (b *Bus) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		C:         make(chan Event, subscriberBuffer),
		bus:       b,
		sessionID: sessionID,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[sessionID]
	if set == nil {
		set = make(map[*Subscription]struct{})
		b.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[sub.sessionID]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.sessionID)
	}
}

// Publish delivers an event to every subscriber of its session. Subscribers
// with a full buffer are skipped. Publishing to a session without subscribers
// is a no-op; pipelines publish unconditionally.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[ev.SessionID] {
		select {
		case sub.C <- ev:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				"session_id", ev.SessionID, "event_type", ev.Type)
		}
	}
}

// SubscriberCount returns the number of subscribers of the session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}
