// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber to feed controlled transcription results and inspect which
// audio payloads were submitted.
//
// Example:
//
//	tr := &mock.Transcriber{Result: stt.Result{Text: "hello"}}
//	res, err := tr.Transcribe(ctx, wav, "en", "base")
package mock

import (
	"context"
	"sync"

	"github.com/voxtools/mindstream/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// WAV is a copy of the audio payload passed to Transcribe.
	WAV []byte
	// Language is the language hint passed to Transcribe.
	Language string
	// Model is the model identifier passed to Transcribe.
	Model string
}

// Transcriber is a mock implementation of stt.Transcriber.
// Zero values cause Transcribe to return an empty Result and nil error.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by Transcribe when TranscribeFunc is nil.
	Result stt.Result

	// Err, if non-nil, is returned as the error from Transcribe when
	// TranscribeFunc is nil.
	Err error

	// TranscribeFunc, if set, is called instead of returning the static
	// Result/Err pair. Use it to vary results per call.
	TranscribeFunc func(ctx context.Context, wav []byte, language, model string) (stt.Result, error)

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte, language, model string) (stt.Result, error) {
	t.mu.Lock()
	cp := make([]byte, len(wav))
	copy(cp, wav)
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Ctx: ctx, WAV: cp, Language: language, Model: model})
	fn := t.TranscribeFunc
	res, err := t.Result, t.Err
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, wav, language, model)
	}
	return res, err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.TranscribeCalls)
}

// Calls returns a copy of all recorded calls. Thread-safe.
func (t *Transcriber) Calls() []TranscribeCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscribeCall, len(t.TranscribeCalls))
	copy(out, t.TranscribeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
