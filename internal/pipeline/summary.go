package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/voxtools/mindstream/internal/bus"
	"github.com/voxtools/mindstream/internal/procstate"
	"github.com/voxtools/mindstream/internal/settings"
	"github.com/voxtools/mindstream/internal/store"
	"github.com/voxtools/mindstream/pkg/provider/llm"
)

// composePrompt substitutes transcript for the template's {transcript}
// marker. Templates without the marker get the transcript appended on a new
// line so user-supplied prompts still see the content.
func composePrompt(template, transcript string) string {
	if strings.Contains(template, settings.TranscriptMarker) {
		return strings.ReplaceAll(template, settings.TranscriptMarker, transcript)
	}
	return template + "\n" + transcript
}

// runSummary executes one summary pipeline run over the session's full
// transcript corpus.
func (o *Orchestrator) runSummary(sessionID string, eff settings.Effective) error {
	corpus, throughID, err := o.loadCorpus(sessionID)
	if err != nil {
		return err
	}

	prompt := composePrompt(eff.SummaryPrompt, corpus)

	started := time.Now()
	resp, err := o.invoke(procstate.KindSummary, llm.Request{Model: eff.SummaryModel, Prompt: prompt})
	if err != nil {
		o.publishLLMFailure(sessionID, err)
		return fmt.Errorf("pipeline: summary LLM call: %w", err)
	}
	elapsed := time.Since(started)

	analysis, err := o.cfg.Store.AddAnalysis(context.Background(), store.Analysis{
		SessionID:      sessionID,
		Prompt:         prompt,
		Response:       resp.Content,
		Model:          eff.SummaryModel,
		ProcessingTime: elapsed,
	})
	if err != nil {
		return fmt.Errorf("pipeline: persist analysis: %w", err)
	}

	o.cfg.Bus.Publish(bus.Event{
		Type:      bus.EventSessionAnalysis,
		SessionID: sessionID,
		Data: bus.SessionAnalysis{
			AnalysisID:       analysis.ID,
			Response:         analysis.Response,
			Model:            analysis.Model,
			ProcessingTimeMs: elapsed.Milliseconds(),
		},
	})

	o.recordCovered(sessionID, procstate.KindSummary, throughID, eff)
	return nil
}
