package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/voxtools/mindstream/internal/store"
)

// Source is the narrow store surface the resolver reads from.
type Source interface {
	GetSettings(ctx context.Context) (store.Settings, error)
}

// Override is a shallow patch over the persisted settings row. Nil fields
// fall through to the row; set fields replace their counterparts. The
// sentinel value "none" is a legal model value and passes through unchanged.
type Override struct {
	Model         *string `json:"ollamaModel,omitempty"`
	SummaryModel  *string `json:"ollamaSummaryModel,omitempty"`
	MindMapModel  *string `json:"ollamaMindMapModel,omitempty"`
	SummaryPrompt *string `json:"ollamaTaskPrompt,omitempty"`
	MindMapPrompt *string `json:"ollamaMindMapPrompt,omitempty"`
}

// IsEmpty reports whether no field of the override is set.
func (o Override) IsEmpty() bool {
	return o.Model == nil && o.SummaryModel == nil && o.MindMapModel == nil &&
		o.SummaryPrompt == nil && o.MindMapPrompt == nil
}

// Resolver produces effective settings snapshots and owns the process-wide
// temporary override.
//
// Reads are lock-free: the current override lives behind an atomic pointer
// and every mutation installs a fresh copy. Writers serialize on a mutex so
// concurrent patches merge instead of clobbering each other.
type Resolver struct {
	source Source

	writeMu  sync.Mutex
	override atomic.Pointer[Override]
}

// NewResolver creates a Resolver reading persisted settings from source.
func NewResolver(source Source) *Resolver {
	r := &Resolver{source: source}
	r.override.Store(&Override{})
	return r
}

// Resolve loads the persisted row, fills defaults, applies the temporary
// override field-wise, and returns the fully resolved snapshot. A missing
// settings row is not an error; defaults apply.
func (r *Resolver) Resolve(ctx context.Context) (Effective, error) {
	row, err := r.source.GetSettings(ctx)
	if errors.Is(err, store.ErrNotFound) {
		row = store.Settings{}
	} else if err != nil {
		return Effective{}, fmt.Errorf("settings: load row: %w", err)
	}
	row = fillDefaults(row)

	o := r.override.Load()
	if o.Model != nil {
		row.Model = *o.Model
	}
	if o.SummaryModel != nil {
		row.SummaryModel = *o.SummaryModel
	}
	if o.MindMapModel != nil {
		row.MindMapModel = *o.MindMapModel
	}
	if o.SummaryPrompt != nil {
		row.SummaryPrompt = *o.SummaryPrompt
	}
	if o.MindMapPrompt != nil {
		row.MindMapPrompt = *o.MindMapPrompt
	}

	eff := Effective{
		WhisperLanguage: row.WhisperLanguage,
		WhisperModel:    row.WhisperModel,
		SummaryModel:    row.SummaryModel,
		MindMapModel:    row.MindMapModel,
		SummaryPrompt:   row.SummaryPrompt,
		MindMapPrompt:   row.MindMapPrompt,
		FrameLengthMs:   row.FrameLengthMs,
		FramesPerBatch:  row.FramesPerBatch,
		ActiveSessionID: row.ActiveSessionID,
	}

	// Per-kind models fall back to the legacy single model field.
	if eff.SummaryModel == "" {
		eff.SummaryModel = row.Model
	}
	if eff.MindMapModel == "" {
		eff.MindMapModel = row.Model
	}
	return eff, nil
}

// SetOverride merges patch into the current override. Only set fields of
// patch replace existing override fields; previously set fields survive.
func (r *Resolver) SetOverride(patch Override) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	merged := *r.override.Load()
	if patch.Model != nil {
		merged.Model = patch.Model
	}
	if patch.SummaryModel != nil {
		merged.SummaryModel = patch.SummaryModel
	}
	if patch.MindMapModel != nil {
		merged.MindMapModel = patch.MindMapModel
	}
	if patch.SummaryPrompt != nil {
		merged.SummaryPrompt = patch.SummaryPrompt
	}
	if patch.MindMapPrompt != nil {
		merged.MindMapPrompt = patch.MindMapPrompt
	}
	r.override.Store(&merged)
}

// ClearOverride drops every override field. Subsequent resolutions see only
// the persisted row.
func (r *Resolver) ClearOverride() {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.override.Store(&Override{})
}

// Override returns a snapshot of the current override value.
func (r *Resolver) Override() Override {
	return *r.override.Load()
}
