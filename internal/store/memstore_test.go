package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxtools/mindstream/internal/mindmap"
)

func newTestStore(t *testing.T, sessionIDs ...string) *MemStore {
	t.Helper()
	m := NewMemStore()
	for _, id := range sessionIDs {
		if _, err := m.CreateSession(context.Background(), Session{ID: id, Name: id}); err != nil {
			t.Fatalf("CreateSession(%q): %v", id, err)
		}
	}
	return m
}

func TestMemStore_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	created, err := m.CreateSession(ctx, Session{ID: "s1", Name: "first"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if created.CreatedAt.IsZero() || created.LastActivity.IsZero() {
		t.Error("expected timestamps to be populated")
	}

	if _, err := m.CreateSession(ctx, Session{ID: "s1"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}

	got, err := m.GetSession(ctx, "s1")
	if err != nil || got.Name != "first" {
		t.Fatalf("GetSession: %v (name %q)", err, got.Name)
	}

	if err := m.RenameSession(ctx, "s1", "renamed"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	got, _ = m.GetSession(ctx, "s1")
	if got.Name != "renamed" {
		t.Errorf("expected renamed session, got %q", got.Name)
	}

	if err := m.SetSessionActive(ctx, "s1", true); err != nil {
		t.Fatalf("SetSessionActive: %v", err)
	}
	got, _ = m.GetSession(ctx, "s1")
	if !got.IsActive {
		t.Error("expected session to be active")
	}

	if err := m.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := m.GetSession(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemStore_NotFoundOperations(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	if _, err := m.GetSession(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession: expected ErrNotFound, got %v", err)
	}
	if err := m.RenameSession(ctx, "ghost", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RenameSession: expected ErrNotFound, got %v", err)
	}
	if err := m.TouchSession(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("TouchSession: expected ErrNotFound, got %v", err)
	}
	if err := m.DeleteSession(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteSession: expected ErrNotFound, got %v", err)
	}
	if _, err := m.AddTranscript(ctx, Transcript{SessionID: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddTranscript: expected ErrNotFound, got %v", err)
	}
	if _, err := m.LatestAnalysis(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestAnalysis: expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_ListSessionsOrderAndCounts(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t, "old", "fresh")

	if _, err := m.AddTranscript(ctx, Transcript{SessionID: "fresh", Text: "hi"}); err != nil {
		t.Fatalf("AddTranscript: %v", err)
	}
	if err := m.TouchSession(ctx, "fresh"); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}

	infos, err := m.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	if infos[0].ID != "fresh" {
		t.Errorf("expected most recently active first, got %q", infos[0].ID)
	}
	if infos[0].TranscriptCount != 1 {
		t.Errorf("expected transcript count 1, got %d", infos[0].TranscriptCount)
	}
}

func TestMemStore_TranscriptsOrderedAndIDsMonotonic(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t, "s1")

	var last int64
	for _, text := range []string{"one", "two", "three"} {
		tr, err := m.AddTranscript(ctx, Transcript{SessionID: "s1", Text: text})
		if err != nil {
			t.Fatalf("AddTranscript: %v", err)
		}
		if tr.ID <= last {
			t.Errorf("expected monotonic ids, got %d after %d", tr.ID, last)
		}
		last = tr.ID
	}

	ts, err := m.ListTranscripts(ctx, "s1")
	if err != nil {
		t.Fatalf("ListTranscripts: %v", err)
	}
	if len(ts) != 3 || ts[0].Text != "one" || ts[2].Text != "three" {
		t.Errorf("expected ascending creation order, got %+v", ts)
	}
}

func TestMemStore_MarkProcessedThroughID(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t, "s1")

	var ids []int64
	for range 3 {
		tr, _ := m.AddTranscript(ctx, Transcript{SessionID: "s1", Text: "x"})
		ids = append(ids, tr.ID)
	}

	if err := m.MarkTranscriptsProcessed(ctx, "s1", ids[1], time.Now()); err != nil {
		t.Fatalf("MarkTranscriptsProcessed: %v", err)
	}

	n, err := m.CountUnprocessed(ctx, "s1")
	if err != nil {
		t.Fatalf("CountUnprocessed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 unprocessed, got %d", n)
	}

	ts, _ := m.ListTranscripts(ctx, "s1")
	if ts[0].ProcessedAt == nil || ts[1].ProcessedAt == nil {
		t.Error("expected first two transcripts processed")
	}
	if ts[2].ProcessedAt != nil {
		t.Error("expected third transcript unprocessed")
	}
}

func TestMemStore_SessionsWithUnprocessed(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t, "a", "b", "c")

	tr, _ := m.AddTranscript(ctx, Transcript{SessionID: "a", Text: "x"})
	m.AddTranscript(ctx, Transcript{SessionID: "c", Text: "y"})
	if err := m.MarkTranscriptsProcessed(ctx, "a", tr.ID, time.Now()); err != nil {
		t.Fatalf("MarkTranscriptsProcessed: %v", err)
	}

	ids, err := m.SessionsWithUnprocessed(ctx)
	if err != nil {
		t.Fatalf("SessionsWithUnprocessed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "c" {
		t.Errorf("expected [c], got %v", ids)
	}
}

func TestMemStore_AnalysesNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t, "s1")

	for _, resp := range []string{"first", "second"} {
		if _, err := m.AddAnalysis(ctx, Analysis{SessionID: "s1", Response: resp}); err != nil {
			t.Fatalf("AddAnalysis: %v", err)
		}
	}

	latest, err := m.LatestAnalysis(ctx, "s1")
	if err != nil || latest.Response != "second" {
		t.Fatalf("LatestAnalysis: %v (response %q)", err, latest.Response)
	}

	list, err := m.ListAnalyses(ctx, "s1")
	if err != nil {
		t.Fatalf("ListAnalyses: %v", err)
	}
	if len(list) != 2 || list[0].Response != "second" {
		t.Errorf("expected newest first, got %+v", list)
	}
}

func TestMemStore_MindMaps(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t, "s1")

	graph := mindmap.Map{
		Nodes: []mindmap.Node{{ID: "a", Label: "Alpha"}},
	}
	if _, err := m.AddMindMap(ctx, MindMap{SessionID: "s1", Graph: graph, Model: "llama3"}); err != nil {
		t.Fatalf("AddMindMap: %v", err)
	}

	latest, err := m.LatestMindMap(ctx, "s1")
	if err != nil {
		t.Fatalf("LatestMindMap: %v", err)
	}
	if len(latest.Graph.Nodes) != 1 || latest.Model != "llama3" {
		t.Errorf("unexpected mind map %+v", latest)
	}

	if _, err := m.LatestMindMap(ctx, "empty"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for session without maps, got %v", err)
	}
}

func TestMemStore_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t, "s1", "s2")

	m.AddTranscript(ctx, Transcript{SessionID: "s1", Text: "x"})
	m.AddAnalysis(ctx, Analysis{SessionID: "s1", Response: "y"})
	m.AddTranscript(ctx, Transcript{SessionID: "s2", Text: "keep"})

	if err := m.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	ids, _ := m.SessionsWithUnprocessed(ctx)
	if len(ids) != 1 || ids[0] != "s2" {
		t.Errorf("expected only s2 to remain, got %v", ids)
	}
	if _, err := m.ListTranscripts(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for deleted session, got %v", err)
	}
}

func TestMemStore_Settings(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	if _, err := m.GetSettings(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first write, got %v", err)
	}

	s := Settings{Model: "llama3", FramesPerBatch: 5, FrameLengthMs: 1000}
	if err := m.UpdateSettings(ctx, s); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	got, err := m.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if got.Model != "llama3" || got.FramesPerBatch != 5 {
		t.Errorf("unexpected settings %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped")
	}
}

func TestMemStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := newTestStore(t, "s1")

	done := make(chan struct{})
	for range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			for range 50 {
				m.AddTranscript(ctx, Transcript{SessionID: "s1", Text: "x"})
				m.ListTranscripts(ctx, "s1")
				m.CountUnprocessed(ctx, "s1")
			}
		}()
	}
	for range 8 {
		<-done
	}

	ts, err := m.ListTranscripts(ctx, "s1")
	if err != nil {
		t.Fatalf("ListTranscripts: %v", err)
	}
	if len(ts) != 8*50 {
		t.Errorf("expected 400 transcripts, got %d", len(ts))
	}
}
