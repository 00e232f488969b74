package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/voxtools/mindstream/internal/bus"
	"github.com/voxtools/mindstream/internal/mindmap"
	"github.com/voxtools/mindstream/internal/procstate"
	"github.com/voxtools/mindstream/internal/settings"
	"github.com/voxtools/mindstream/internal/store"
	"github.com/voxtools/mindstream/pkg/provider/llm"
)

// randomnessSuffix is appended to the mind-map prompt on explicit
// regeneration so repeated runs over the same corpus produce a different
// structure.
const randomnessSuffix = "\n\nIMPORTANT: Please add some randomness and creativity to your mind map " +
	"generation. Consider alternative interpretations, unexpected connections, or creative " +
	"groupings of concepts. This should result in a different mind map structure than a " +
	"standard analysis."

// InvalidMindMapError carries the raw LLM output that survived neither
// extraction nor the single repair attempt.
type InvalidMindMapError struct {
	Raw   string
	Cause error
}

func (e *InvalidMindMapError) Error() string {
	return fmt.Sprintf("pipeline: invalid mind map after repair: %v", e.Cause)
}

func (e *InvalidMindMapError) Unwrap() error { return e.Cause }

// runMindMap executes one mind-map pipeline run over the session's full
// transcript corpus, including the single repair re-invocation when the
// first response is not a valid map.
func (o *Orchestrator) runMindMap(sessionID string, eff settings.Effective, randomize bool) (store.MindMap, error) {
	corpus, throughID, err := o.loadCorpus(sessionID)
	if err != nil {
		return store.MindMap{}, err
	}

	prompt := composePrompt(eff.MindMapPrompt, corpus)
	if randomize {
		prompt += randomnessSuffix + "\n\nGeneration seed: " + uuid.NewString()
	}

	resp, err := o.invoke(procstate.KindMindMap, llm.Request{Model: eff.MindMapModel, Prompt: prompt})
	if err != nil {
		o.publishLLMFailure(sessionID, err)
		return store.MindMap{}, fmt.Errorf("pipeline: mind-map LLM call: %w", err)
	}

	graph, err := extractValid(resp.Content)
	if err != nil {
		// One repair attempt, then give up.
		repairResp, repairErr := o.invoke(procstate.KindMindMap, llm.Request{
			Model:  eff.MindMapModel,
			Prompt: mindmap.RepairPrompt(resp.Content, err),
		})
		if repairErr != nil {
			o.publishLLMFailure(sessionID, repairErr)
			return store.MindMap{}, fmt.Errorf("pipeline: mind-map repair call: %w", repairErr)
		}
		graph, err = extractValid(repairResp.Content)
		if err != nil {
			invalid := &InvalidMindMapError{Raw: repairResp.Content, Cause: err}
			o.cfg.Bus.Publish(bus.Event{
				Type:      bus.EventError,
				SessionID: sessionID,
				Data: bus.ErrorMessage{
					Kind:    bus.ErrInvalidMindMap,
					Message: fmt.Sprintf("%v; raw response: %s", err, invalid.Raw),
				},
			})
			return store.MindMap{}, invalid
		}
	}

	persisted, err := o.cfg.Store.AddMindMap(context.Background(), store.MindMap{
		SessionID: sessionID,
		Graph:     *graph,
		Model:     eff.MindMapModel,
	})
	if err != nil {
		return store.MindMap{}, fmt.Errorf("pipeline: persist mind map: %w", err)
	}

	o.cfg.Bus.Publish(bus.Event{
		Type:      bus.EventMindMapResult,
		SessionID: sessionID,
		Data: bus.MindMapResult{
			MindMapID: persisted.ID,
			Map:       persisted.Graph,
			Model:     persisted.Model,
		},
	})

	o.recordCovered(sessionID, procstate.KindMindMap, throughID, eff)
	return persisted, nil
}

// extractValid parses and validates one LLM response into a mind map.
func extractValid(raw string) (*mindmap.Map, error) {
	graph, err := mindmap.Extract(raw)
	if err != nil {
		return nil, err
	}
	if err := mindmap.Validate(graph); err != nil {
		return nil, err
	}
	return graph, nil
}

// RegenerateMindMap synchronously runs the mind-map pipeline for the session
// with the randomness suffix applied. It claims the session's mind-map slot
// like any other run; ErrBusy is returned when one is already in flight.
func (o *Orchestrator) RegenerateMindMap(ctx context.Context, sessionID string) (store.MindMap, error) {
	if _, err := o.cfg.Store.GetSession(ctx, sessionID); err != nil {
		return store.MindMap{}, fmt.Errorf("pipeline: regenerate mind map: %w", err)
	}

	eff, err := o.cfg.Resolver.Resolve(ctx)
	if err != nil {
		return store.MindMap{}, fmt.Errorf("pipeline: resolve settings: %w", err)
	}
	if settings.Disabled(eff.MindMapModel) {
		return store.MindMap{}, ErrDisabled
	}

	if !o.cfg.Proc.TryStart(sessionID, procstate.KindMindMap) {
		return store.MindMap{}, ErrBusy
	}
	defer o.cfg.Proc.Stop(sessionID, procstate.KindMindMap)

	m, err := o.runMindMap(sessionID, eff, true)
	if errors.Is(err, ErrNoContent) {
		return store.MindMap{}, ErrNoContent
	}
	return m, err
}
