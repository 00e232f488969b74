// Package mock provides a test double for the llm.Invoker interface.
//
// Use Invoker in unit tests to verify that pipelines send correct Requests and
// to feed controlled responses without a live LLM backend. All fields are safe
// to set before calling any method; mutating them during a concurrent call is
// the caller's responsibility.
//
// Example:
//
//	inv := &mock.Invoker{
//	    CompleteResponse: &llm.Response{Content: `{"summary": "..."}`},
//	}
//	resp, err := inv.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/voxtools/mindstream/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the Request passed to Complete.
	Req llm.Request
}

// Invoker is a mock implementation of llm.Invoker.
// Zero values for response fields cause Complete to return nil, nil.
// Set CompleteErr to inject errors.
type Invoker struct {
	mu sync.Mutex

	// CompleteResponse is returned by Complete when CompleteFunc is nil.
	CompleteResponse *llm.Response

	// CompleteErr, if non-nil, is returned as the error from Complete when
	// CompleteFunc is nil.
	CompleteErr error

	// CompleteFunc, if set, is called instead of returning the static
	// CompleteResponse/CompleteErr pair. Use it to vary responses per call
	// (e.g., malformed output first, repaired output second).
	CompleteFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the configured response.
func (i *Invoker) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	i.mu.Lock()
	i.CompleteCalls = append(i.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := i.CompleteFunc
	resp, err := i.CompleteResponse, i.CompleteErr
	i.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// CallCount returns the number of Complete calls. Thread-safe.
func (i *Invoker) CallCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.CompleteCalls)
}

// Calls returns a copy of the recorded Complete calls. Thread-safe.
func (i *Invoker) Calls() []CompleteCall {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]CompleteCall, len(i.CompleteCalls))
	copy(out, i.CompleteCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (i *Invoker) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.CompleteCalls = nil
}

// Ensure Invoker implements llm.Invoker at compile time.
var _ llm.Invoker = (*Invoker)(nil)
