package settings

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/voxtools/mindstream/internal/store"
)

func strptr(s string) *string { return &s }

func newResolverWithRow(t *testing.T, row store.Settings) *Resolver {
	t.Helper()
	m := store.NewMemStore()
	if err := m.UpdateSettings(context.Background(), row); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	return NewResolver(m)
}

func TestResolve_DefaultsWhenRowMissing(t *testing.T) {
	r := NewResolver(store.NewMemStore())

	eff, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if eff.WhisperLanguage != DefaultWhisperLanguage || eff.WhisperModel != DefaultWhisperModel {
		t.Errorf("expected whisper defaults, got %+v", eff)
	}
	if eff.SummaryModel != DefaultModel || eff.MindMapModel != DefaultModel {
		t.Errorf("expected legacy model fallback to default, got %+v", eff)
	}
	if !strings.Contains(eff.SummaryPrompt, TranscriptMarker) {
		t.Error("default summary prompt must carry the transcript marker")
	}
	if !strings.Contains(eff.MindMapPrompt, `"nodes"`) {
		t.Error("default mind-map prompt must pin the JSON shape")
	}
	if eff.FrameLengthMs != DefaultFrameLengthMs || eff.FramesPerBatch != DefaultFramesPerBatch {
		t.Errorf("expected batching defaults, got %+v", eff)
	}
}

func TestResolve_PerKindModelFallsBackToLegacyField(t *testing.T) {
	r := newResolverWithRow(t, store.Settings{Model: "llama3", MindMapModel: "mistral"})

	eff, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if eff.SummaryModel != "llama3" {
		t.Errorf("expected summary model to fall back to legacy field, got %q", eff.SummaryModel)
	}
	if eff.MindMapModel != "mistral" {
		t.Errorf("expected explicit mind-map model to win, got %q", eff.MindMapModel)
	}
}

func TestResolve_OverridePatchesFieldWise(t *testing.T) {
	r := newResolverWithRow(t, store.Settings{Model: "llama3", SummaryPrompt: "persisted {transcript}"})

	r.SetOverride(Override{SummaryModel: strptr("override-model")})

	eff, _ := r.Resolve(context.Background())
	if eff.SummaryModel != "override-model" {
		t.Errorf("expected override summary model, got %q", eff.SummaryModel)
	}
	if eff.MindMapModel != "llama3" {
		t.Errorf("expected untouched mind-map model, got %q", eff.MindMapModel)
	}
	if eff.SummaryPrompt != "persisted {transcript}" {
		t.Errorf("expected persisted prompt to survive, got %q", eff.SummaryPrompt)
	}
}

func TestResolve_OverrideLegacyModelCoversBothKinds(t *testing.T) {
	r := newResolverWithRow(t, store.Settings{Model: "llama3"})

	r.SetOverride(Override{Model: strptr("swapped")})

	eff, _ := r.Resolve(context.Background())
	if eff.SummaryModel != "swapped" || eff.MindMapModel != "swapped" {
		t.Errorf("expected legacy override to cover both kinds, got %+v", eff)
	}
}

func TestResolve_NoneSentinelPassesThrough(t *testing.T) {
	r := newResolverWithRow(t, store.Settings{Model: "llama3"})

	r.SetOverride(Override{SummaryModel: strptr(ModelDisabled)})

	eff, _ := r.Resolve(context.Background())
	if !Disabled(eff.SummaryModel) {
		t.Errorf("expected disabled summary model, got %q", eff.SummaryModel)
	}
	if Disabled(eff.MindMapModel) {
		t.Error("mind-map model must not be disabled")
	}
}

func TestSetOverride_MergesWithExisting(t *testing.T) {
	r := NewResolver(store.NewMemStore())

	r.SetOverride(Override{SummaryModel: strptr("a")})
	r.SetOverride(Override{MindMapModel: strptr("b")})

	o := r.Override()
	if o.SummaryModel == nil || *o.SummaryModel != "a" {
		t.Error("expected earlier patch field to survive a later patch")
	}
	if o.MindMapModel == nil || *o.MindMapModel != "b" {
		t.Error("expected later patch field to be applied")
	}
}

func TestClearOverride(t *testing.T) {
	r := newResolverWithRow(t, store.Settings{Model: "llama3"})

	r.SetOverride(Override{Model: strptr("temp")})
	r.ClearOverride()

	if !r.Override().IsEmpty() {
		t.Error("expected empty override after clear")
	}
	eff, _ := r.Resolve(context.Background())
	if eff.SummaryModel != "llama3" {
		t.Errorf("expected resolution to revert to the row, got %q", eff.SummaryModel)
	}
}

func TestResolve_SnapshotUnaffectedByLaterOverride(t *testing.T) {
	r := newResolverWithRow(t, store.Settings{Model: "llama3"})

	eff, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	r.SetOverride(Override{Model: strptr("changed")})

	if eff.SummaryModel != "llama3" {
		t.Errorf("snapshot mutated by later override: %q", eff.SummaryModel)
	}
}

func TestResolver_ConcurrentReadersAndWriters(t *testing.T) {
	r := newResolverWithRow(t, store.Settings{Model: "llama3"})

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 100 {
				if i%2 == 0 {
					r.SetOverride(Override{Model: strptr("x")})
				} else {
					r.ClearOverride()
				}
			}
		}()
		go func() {
			defer wg.Done()
			for range 100 {
				eff, err := r.Resolve(context.Background())
				if err != nil {
					t.Errorf("Resolve: %v", err)
					return
				}
				if eff.SummaryModel != "llama3" && eff.SummaryModel != "x" {
					t.Errorf("unexpected model %q", eff.SummaryModel)
					return
				}
			}
		}()
	}
	wg.Wait()
}
