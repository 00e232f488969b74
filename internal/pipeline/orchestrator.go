// Package pipeline runs the LLM analysis pipelines (summary and mind map)
// over session transcripts.
//
// The orchestrator listens for new-transcript signals. For each signal and
// kind it either schedules a run on a bounded worker pool or, when a run of
// that kind is already in flight for the session, skips and remembers to
// start one fresh run after the in-flight one completes. A burst of N
// transcripts during a long LLM call therefore produces exactly one follow-up
// run over the whole corpus instead of N queued runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxtools/mindstream/internal/bus"
	"github.com/voxtools/mindstream/internal/observe"
	"github.com/voxtools/mindstream/internal/procstate"
	"github.com/voxtools/mindstream/internal/settings"
	"github.com/voxtools/mindstream/internal/store"
	"github.com/voxtools/mindstream/pkg/provider/llm"
)

// ErrBusy is returned by synchronous entry points when the requested kind is
// already running for the session.
var ErrBusy = errors.New("pipeline: operation already in flight for session")

// ErrNoContent is returned when a session has no transcripts to analyze.
var ErrNoContent = errors.New("pipeline: session has no transcripts")

// ErrDisabled is returned by synchronous entry points when the resolved model
// is the disabling sentinel.
var ErrDisabled = errors.New("pipeline: model disabled")

const (
	defaultWorkers       = 2
	defaultSweepInterval = 30 * time.Second
	jobQueueCapacity     = 128
)

type job struct {
	sessionID string
	kind      procstate.Kind
	randomize bool
}

// Config wires an Orchestrator.
type Config struct {
	Store    store.Store
	Bus      *bus.Bus
	Resolver *settings.Resolver
	Invoker  llm.Invoker
	Proc     *procstate.Manager

	// Workers bounds concurrent LLM runs across all sessions and kinds.
	// Defaults to 2.
	Workers int

	// SweepInterval is the period of the background loop that re-triggers
	// sessions holding unprocessed transcripts. Defaults to 30 s;
	// negative disables the sweep.
	SweepInterval time.Duration

	// LLMTimeout, when positive, bounds each LLM invocation.
	LLMTimeout time.Duration

	// Metrics receives pipeline instrumentation. May be nil.
	Metrics *observe.Metrics

	Logger *slog.Logger
}

// Orchestrator owns the pipeline worker pool and the skip/rerun bookkeeping.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	jobs chan job
	done chan struct{}
	wg   sync.WaitGroup

	mu sync.Mutex
	// rerun marks (session, kind) pairs that received signals while busy and
	// owe one fresh run after the in-flight one completes.
	rerun map[string]map[procstate.Kind]bool
	// covered tracks the highest transcript id each kind has ingested per
	// session, for processed-marking.
	covered map[string]map[procstate.Kind]int64
}

// NewOrchestrator creates an Orchestrator. Call Start to launch the pool.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		jobs:    make(chan job, jobQueueCapacity),
		done:    make(chan struct{}),
		rerun:   make(map[string]map[procstate.Kind]bool),
		covered: make(map[string]map[procstate.Kind]int64),
	}
}

// Start launches the worker pool and, unless disabled, the background sweep.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go o.dispatch()

	if o.cfg.SweepInterval > 0 {
		o.wg.Add(1)
		go o.sweep()
	}
}

// Close stops accepting work and waits for in-flight runs to finish.
func (o *Orchestrator) Close() {
	close(o.done)
	o.wg.Wait()
}

// NewTranscript signals that a transcript was persisted for the session. Both
// pipeline kinds are considered for scheduling.
func (o *Orchestrator) NewTranscript(sessionID string, transcriptID int64) {
	for _, kind := range procstate.Kinds {
		o.trigger(sessionID, kind, false)
	}
}

// trigger schedules one run of kind for the session, applying the disabled
// and busy checks. Busy skips mark the rerun flag so a fresh run starts after
// the in-flight one.
func (o *Orchestrator) trigger(sessionID string, kind procstate.Kind, randomize bool) {
	eff, err := o.cfg.Resolver.Resolve(context.Background())
	if err != nil {
		o.logger.Error("resolving settings for trigger", "session_id", sessionID, "error", err)
		return
	}
	if settings.Disabled(o.modelFor(eff, kind)) {
		return
	}

	if o.cfg.Proc.IsBusy(sessionID, kind) {
		o.skipBusy(sessionID, kind)
		return
	}

	select {
	case o.jobs <- job{sessionID: sessionID, kind: kind, randomize: randomize}:
	default:
		// Saturated job queue degrades to the same skip semantics.
		o.skipBusy(sessionID, kind)
	}
}

// skipBusy records the owed rerun and tells the client not to expect a result
// from this particular transcript.
func (o *Orchestrator) skipBusy(sessionID string, kind procstate.Kind) {
	o.mu.Lock()
	flags := o.rerun[sessionID]
	if flags == nil {
		flags = make(map[procstate.Kind]bool)
		o.rerun[sessionID] = flags
	}
	flags[kind] = true
	o.mu.Unlock()

	o.cfg.Metrics.RecordPipelineRun(context.Background(), string(kind), "skipped")
	o.cfg.Bus.Publish(bus.Event{
		Type:      bus.EventProcessingStatus,
		SessionID: sessionID,
		Data: bus.ProcessingStatus{
			Status:      o.cfg.Proc.Status(sessionID),
			SkippedKind: string(kind),
		},
	})
}

// dispatch feeds jobs from the queue into a size-limited errgroup. The busy
// slot is claimed when the job is dequeued, not when it was submitted, so
// status reads stay truthful while jobs wait for a free worker.
func (o *Orchestrator) dispatch() {
	defer o.wg.Done()

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	// Workers never return errors; Wait only fences shutdown.
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-o.done:
			return
		case j := <-o.jobs:
			g.Go(func() error {
				o.run(j)
				return nil
			})
		}
	}
}

// run executes one pipeline job end to end, guaranteeing slot release and the
// owed rerun on every exit path.
func (o *Orchestrator) run(j job) {
	if !o.cfg.Proc.TryStart(j.sessionID, j.kind) {
		o.skipBusy(j.sessionID, j.kind)
		return
	}
	defer func() {
		o.cfg.Proc.Stop(j.sessionID, j.kind)
		if o.takeRerun(j.sessionID, j.kind) {
			o.trigger(j.sessionID, j.kind, false)
		}
	}()

	eff, err := o.cfg.Resolver.Resolve(context.Background())
	if err != nil {
		o.logger.Error("resolving settings for run", "session_id", j.sessionID, "error", err)
		return
	}
	if settings.Disabled(o.modelFor(eff, j.kind)) {
		return
	}

	switch j.kind {
	case procstate.KindSummary:
		err = o.runSummary(j.sessionID, eff)
	case procstate.KindMindMap:
		_, err = o.runMindMap(j.sessionID, eff, j.randomize)
	}
	if errors.Is(err, ErrNoContent) {
		return
	}
	if err != nil {
		o.cfg.Metrics.RecordPipelineRun(context.Background(), string(j.kind), "error")
		o.logger.Error("pipeline run failed", "session_id", j.sessionID, "kind", j.kind, "error", err)
		return
	}
	o.cfg.Metrics.RecordPipelineRun(context.Background(), string(j.kind), "ok")
}

// takeRerun atomically reads and clears the rerun flag.
func (o *Orchestrator) takeRerun(sessionID string, kind procstate.Kind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	flags := o.rerun[sessionID]
	if !flags[kind] {
		return false
	}
	delete(flags, kind)
	if len(flags) == 0 {
		delete(o.rerun, sessionID)
	}
	return true
}

func (o *Orchestrator) modelFor(eff settings.Effective, kind procstate.Kind) string {
	if kind == procstate.KindSummary {
		return eff.SummaryModel
	}
	return eff.MindMapModel
}

// loadCorpus returns the session's transcripts joined with single spaces and
// the highest transcript id included.
func (o *Orchestrator) loadCorpus(sessionID string) (string, int64, error) {
	ts, err := o.cfg.Store.ListTranscripts(context.Background(), sessionID)
	if err != nil {
		return "", 0, fmt.Errorf("pipeline: load transcripts: %w", err)
	}
	if len(ts) == 0 {
		return "", 0, ErrNoContent
	}

	var b []byte
	for i, t := range ts {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, t.Text...)
	}
	return string(b), ts[len(ts)-1].ID, nil
}

// invoke performs one LLM call under the configured outer deadline. The
// context is detached from any client connection on purpose: disconnects do
// not abort in-flight LLM work.
func (o *Orchestrator) invoke(kind procstate.Kind, req llm.Request) (*llm.Response, error) {
	ctx := context.Background()
	if o.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.LLMTimeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := o.cfg.Invoker.Complete(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.cfg.Metrics.RecordLLM(context.Background(), time.Since(started), string(kind), status)
	return resp, err
}

// recordCovered notes that kind has ingested transcripts up to throughID and
// marks transcripts processed up to the id every enabled kind has covered.
func (o *Orchestrator) recordCovered(sessionID string, kind procstate.Kind, throughID int64, eff settings.Effective) {
	o.mu.Lock()
	byKind := o.covered[sessionID]
	if byKind == nil {
		byKind = make(map[procstate.Kind]int64)
		o.covered[sessionID] = byKind
	}
	if throughID > byKind[kind] {
		byKind[kind] = throughID
	}

	mark := int64(-1)
	for _, k := range procstate.Kinds {
		if settings.Disabled(o.modelFor(eff, k)) {
			continue
		}
		if mark < 0 || byKind[k] < mark {
			mark = byKind[k]
		}
	}
	o.mu.Unlock()

	if mark <= 0 {
		return
	}
	if err := o.cfg.Store.MarkTranscriptsProcessed(context.Background(), sessionID, mark, time.Now()); err != nil {
		o.logger.Warn("marking transcripts processed", "session_id", sessionID, "error", err)
	}
}

// publishLLMFailure emits the client-visible failure event for a pipeline run.
func (o *Orchestrator) publishLLMFailure(sessionID string, cause error) {
	o.cfg.Bus.Publish(bus.Event{
		Type:      bus.EventError,
		SessionID: sessionID,
		Data:      bus.ErrorMessage{Kind: bus.ErrLLMFailure, Message: cause.Error()},
	})
}

// sweep periodically re-triggers sessions that still hold unprocessed
// transcripts, catching work that was skipped or arrived while no pipeline
// could run.
func (o *Orchestrator) sweep() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
			ids, err := o.cfg.Store.SessionsWithUnprocessed(context.Background())
			if err != nil {
				o.logger.Warn("sweep: listing sessions with unprocessed transcripts", "error", err)
				continue
			}
			for _, id := range ids {
				o.NewTranscript(id, 0)
			}
		}
	}
}
