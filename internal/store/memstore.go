package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is a thread-safe in-memory Store. It backs the server when no
// PostgreSQL DSN is configured, and the tests.
type MemStore struct {
	mu sync.RWMutex

	sessions    map[string]Session
	transcripts map[string][]Transcript
	analyses    map[string][]Analysis
	mindMaps    map[string][]MindMap

	settings    Settings
	settingsSet bool

	nextTranscriptID int64
	nextAnalysisID   int64
	nextMindMapID    int64
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:    make(map[string]Session),
		transcripts: make(map[string][]Transcript),
		analyses:    make(map[string][]Analysis),
		mindMaps:    make(map[string][]MindMap),
	}
}

func (m *MemStore) CreateSession(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return Session{}, ErrDuplicateID
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastActivity.IsZero() {
		s.LastActivity = s.CreatedAt
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemStore) ListSessions(_ context.Context) ([]SessionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(m.sessions))
	for id, s := range m.sessions {
		infos = append(infos, SessionInfo{
			Session:         s,
			TranscriptCount: len(m.transcripts[id]),
			AnalysisCount:   len(m.analyses[id]),
			MindMapCount:    len(m.mindMaps[id]),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActivity.After(infos[j].LastActivity)
	})
	return infos, nil
}

func (m *MemStore) RenameSession(_ context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Name = name
	m.sessions[id] = s
	return nil
}

func (m *MemStore) SetSessionActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.IsActive = active
	m.sessions[id] = s
	return nil
}

func (m *MemStore) TouchSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.LastActivity = time.Now()
	m.sessions[id] = s
	return nil
}

func (m *MemStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.transcripts, id)
	delete(m.analyses, id)
	delete(m.mindMaps, id)
	return nil
}

func (m *MemStore) AddTranscript(_ context.Context, t Transcript) (Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[t.SessionID]; !ok {
		return Transcript{}, ErrNotFound
	}
	m.nextTranscriptID++
	t.ID = m.nextTranscriptID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	m.transcripts[t.SessionID] = append(m.transcripts[t.SessionID], t)
	return t, nil
}

func (m *MemStore) ListTranscripts(_ context.Context, sessionID string) ([]Transcript, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Transcript, len(m.transcripts[sessionID]))
	copy(out, m.transcripts[sessionID])
	return out, nil
}

func (m *MemStore) MarkTranscriptsProcessed(_ context.Context, sessionID string, throughID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	ts := m.transcripts[sessionID]
	for i := range ts {
		if ts[i].ID <= throughID && ts[i].ProcessedAt == nil {
			processed := at
			ts[i].ProcessedAt = &processed
		}
	}
	return nil
}

func (m *MemStore) CountUnprocessed(_ context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return 0, ErrNotFound
	}
	count := 0
	for _, t := range m.transcripts[sessionID] {
		if t.ProcessedAt == nil {
			count++
		}
	}
	return count, nil
}

func (m *MemStore) SessionsWithUnprocessed(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, ts := range m.transcripts {
		for _, t := range ts {
			if t.ProcessedAt == nil {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemStore) AddAnalysis(_ context.Context, a Analysis) (Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[a.SessionID]; !ok {
		return Analysis{}, ErrNotFound
	}
	m.nextAnalysisID++
	a.ID = m.nextAnalysisID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.analyses[a.SessionID] = append(m.analyses[a.SessionID], a)
	return a, nil
}

func (m *MemStore) ListAnalyses(_ context.Context, sessionID string) ([]Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	stored := m.analyses[sessionID]
	out := make([]Analysis, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}

func (m *MemStore) LatestAnalysis(_ context.Context, sessionID string) (Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.analyses[sessionID]
	if len(stored) == 0 {
		return Analysis{}, ErrNotFound
	}
	return stored[len(stored)-1], nil
}

func (m *MemStore) AddMindMap(_ context.Context, mm MindMap) (MindMap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[mm.SessionID]; !ok {
		return MindMap{}, ErrNotFound
	}
	m.nextMindMapID++
	mm.ID = m.nextMindMapID
	if mm.CreatedAt.IsZero() {
		mm.CreatedAt = time.Now()
	}
	m.mindMaps[mm.SessionID] = append(m.mindMaps[mm.SessionID], mm)
	return mm, nil
}

func (m *MemStore) ListMindMaps(_ context.Context, sessionID string) ([]MindMap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	stored := m.mindMaps[sessionID]
	out := make([]MindMap, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}

func (m *MemStore) LatestMindMap(_ context.Context, sessionID string) (MindMap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.mindMaps[sessionID]
	if len(stored) == 0 {
		return MindMap{}, ErrNotFound
	}
	return stored[len(stored)-1], nil
}

func (m *MemStore) GetSettings(_ context.Context) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.settingsSet {
		return Settings{}, ErrNotFound
	}
	return m.settings, nil
}

func (m *MemStore) UpdateSettings(_ context.Context, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.UpdatedAt = time.Now()
	m.settings = s
	m.settingsSet = true
	return nil
}

func (m *MemStore) Ping(context.Context) error { return nil }
