// Package procstate tracks which LLM analysis operations are currently
// in flight. It guarantees at most one running operation per (session, kind)
// pair: a second start attempt while the first is running is rejected and the
// caller skips the run instead of queueing behind it.
package procstate

import (
	"sync"
	"time"
)

// Kind identifies an analysis pipeline.
type Kind string

const (
	KindSummary Kind = "summary"
	KindMindMap Kind = "mind_map"
)

// Kinds lists every known kind in stable order.
var Kinds = []Kind{KindSummary, KindMindMap}

// Status reports the busy flags of one session, with start times for the
// slots that are busy.
type Status struct {
	SummaryBusy      bool       `json:"summaryBusy"`
	MindMapBusy      bool       `json:"mindMapBusy"`
	SummaryStartedAt *time.Time `json:"summaryStartedAt,omitempty"`
	MindMapStartedAt *time.Time `json:"mindMapStartedAt,omitempty"`
}

// Busy reports whether any kind is running.
func (s Status) Busy() bool { return s.SummaryBusy || s.MindMapBusy }

// Manager owns all processing slots. A slot exists only while its operation
// runs; once every slot of a session is idle the session entry is removed, so
// an idle manager holds no per-session state at all.
//
// There is no timeout-based auto release. A slot set by TryStart stays busy
// until the matching Stop, which callers must guarantee (typically by defer).
// All methods are safe for concurrent use; the single lock is held O(1).
type Manager struct {
	mu      sync.Mutex
	running map[string]map[Kind]time.Time
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{running: make(map[string]map[Kind]time.Time)}
}

// TryStart attempts to claim the (sessionID, kind) slot. It returns true when
// the slot was idle and is now claimed by the caller, false when an operation
// of that kind is already running for the session.
func (m *Manager) TryStart(sessionID string, kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots := m.running[sessionID]
	if slots == nil {
		slots = make(map[Kind]time.Time, len(Kinds))
		m.running[sessionID] = slots
	}
	if _, busy := slots[kind]; busy {
		return false
	}
	slots[kind] = time.Now()
	return true
}

// Stop releases the (sessionID, kind) slot. Releasing an idle slot is a no-op.
func (m *Manager) Stop(sessionID string, kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots, ok := m.running[sessionID]
	if !ok {
		return
	}
	delete(slots, kind)
	if len(slots) == 0 {
		delete(m.running, sessionID)
	}
}

// IsBusy reports whether an operation of kind is running for the session.
func (m *Manager) IsBusy(sessionID string, kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, busy := m.running[sessionID][kind]
	return busy
}

// Status returns the busy flags of the session.
func (m *Manager) Status(sessionID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots := m.running[sessionID]
	var st Status
	if started, ok := slots[KindSummary]; ok {
		st.SummaryBusy = true
		st.SummaryStartedAt = &started
	}
	if started, ok := slots[KindMindMap]; ok {
		st.MindMapBusy = true
		st.MindMapStartedAt = &started
	}
	return st
}

// SessionCount returns the number of sessions currently holding at least one
// busy slot. Exposed for tests and metrics.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}
