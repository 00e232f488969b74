// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// Transcription in this server is batch-oriented: the intake layer groups
// incoming audio frames into utterance-sized WAV payloads and submits each one
// as a single inference request. A Transcriber wraps whatever engine performs
// that inference, whether a whisper.cpp HTTP server, an in-process
// whisper.cpp model via CGO, or a mock in tests.
//
// Implementations must be safe for concurrent use; multiple sessions may
// transcribe simultaneously.
package stt

import "context"

// Result is the outcome of one batch transcription request.
type Result struct {
	// Text is the transcribed speech content. May be empty when the audio
	// contains no recognisable speech.
	Text string

	// Language is the language the transcription was performed in.
	Language string

	// Model identifies the model that served the request, when known.
	Model string
}

// Transcriber is the abstraction over any batch STT backend.
//
// wav must be a complete RIFF/WAV container carrying 16-bit signed
// little-endian PCM. language is a whisper language code (e.g., "en", "de");
// empty lets the backend auto-detect where supported. model selects the model
// per request; backends with a single fixed model may ignore it.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, language, model string) (Result, error)
}
