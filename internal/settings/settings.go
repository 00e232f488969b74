// Package settings resolves the effective model and prompt configuration for
// each pipeline run. Persisted settings come from the store's singleton row;
// a process-wide temporary override can patch individual fields without
// touching persistence. Every pipeline resolves exactly once at job start and
// works from that snapshot for its whole run.
package settings

import "github.com/voxtools/mindstream/internal/store"

// ModelDisabled is the sentinel model name that disables a pipeline. A
// pipeline whose resolved model equals it is skipped without error.
const ModelDisabled = "none"

// TranscriptMarker is the placeholder in prompt templates replaced with the
// transcript text at pipeline run time.
const TranscriptMarker = "{transcript}"

// Disabled reports whether model is the disabling sentinel.
func Disabled(model string) bool { return model == ModelDisabled }

// DefaultSummaryPrompt is the summary prompt template used when the settings
// row carries none.
const DefaultSummaryPrompt = `Please analyze the following transcript and provide insights:

TRANSCRIPT:
{transcript}

Please provide:
1. A brief summary of the main topics discussed
2. Key points or important information mentioned
3. Any questions, concerns, or action items identified
4. Overall sentiment or tone of the conversation

Please be concise but thorough in your analysis.`

// DefaultMindMapPrompt is the mind-map prompt template used when the settings
// row carries none. It pins the JSON shape the extraction step expects.
const DefaultMindMapPrompt = `Please analyze the following transcript and create a mind map of concepts and relationships.

TRANSCRIPT:
{transcript}

Create a mind map in JSON format with the following structure:
{
  "nodes": [
    {
      "id": "unique_id_1",
      "label": "Main Topic",
      "type": "topic"
    },
    {
      "id": "unique_id_2",
      "label": "Related Concept",
      "type": "concept"
    }
  ],
  "edges": [
    {
      "id": "edge_1",
      "source": "unique_id_1",
      "target": "unique_id_2",
      "label": "relates to",
      "type": "relationship"
    }
  ]
}

Guidelines:
- Extract key concepts, topics, entities, and ideas from the transcript
- Create meaningful relationships between concepts
- Use descriptive labels for nodes and edges
- Focus on the most important concepts mentioned
- Keep the structure logical and hierarchical
- Return ONLY valid JSON, no additional text

Return the mind map as a valid JSON object:`

// Default field values for a fresh settings row.
const (
	DefaultWhisperLanguage = "auto"
	DefaultWhisperModel    = "base"
	DefaultModel           = "artifish/llama3.2-uncensored:latest"
	DefaultFrameLengthMs   = 500
	DefaultFramesPerBatch  = 10
)

// Defaults returns a fully populated settings row. Used to seed the store on
// first start and to fill gaps in a partially written row.
func Defaults() store.Settings {
	return store.Settings{
		WhisperLanguage: DefaultWhisperLanguage,
		WhisperModel:    DefaultWhisperModel,
		Model:           DefaultModel,
		SummaryPrompt:   DefaultSummaryPrompt,
		MindMapPrompt:   DefaultMindMapPrompt,
		FrameLengthMs:   DefaultFrameLengthMs,
		FramesPerBatch:  DefaultFramesPerBatch,
	}
}

// fillDefaults replaces empty fields of s with their defaults. SummaryModel
// and MindMapModel are left empty on purpose; they fall back to Model during
// resolution.
func fillDefaults(s store.Settings) store.Settings {
	d := Defaults()
	if s.WhisperLanguage == "" {
		s.WhisperLanguage = d.WhisperLanguage
	}
	if s.WhisperModel == "" {
		s.WhisperModel = d.WhisperModel
	}
	if s.Model == "" {
		s.Model = d.Model
	}
	if s.SummaryPrompt == "" {
		s.SummaryPrompt = d.SummaryPrompt
	}
	if s.MindMapPrompt == "" {
		s.MindMapPrompt = d.MindMapPrompt
	}
	if s.FrameLengthMs <= 0 {
		s.FrameLengthMs = d.FrameLengthMs
	}
	if s.FramesPerBatch <= 0 {
		s.FramesPerBatch = d.FramesPerBatch
	}
	return s
}

// Effective is the immutable snapshot a pipeline run works from. SummaryModel
// and MindMapModel are fully resolved; the legacy single-model fallback has
// already been applied.
type Effective struct {
	WhisperLanguage string
	WhisperModel    string

	SummaryModel string
	MindMapModel string

	SummaryPrompt string
	MindMapPrompt string

	FrameLengthMs  int
	FramesPerBatch int

	ActiveSessionID string
}
