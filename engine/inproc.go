package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/agentbroker/broker/telemetry"
)

type (
	inprocEngine struct {
		mu         sync.RWMutex
		workflows  map[string]WorkflowDefinition
		activities map[string]inprocActivity

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
	}

	inprocActivity struct {
		handler ActivityFunc
		opts    ActivityOptions
	}

	inprocHandle struct {
		mu     sync.Mutex
		done   chan struct{}
		result any
		err    error
		wfCtx  *inprocWorkflowContext
	}

	inprocWorkflowContext struct {
		ctx   context.Context
		id    string
		runID string
		eng   *inprocEngine

		sigMu sync.Mutex
		sigs  map[string]*inprocSignalChan
	}

	inprocFuture struct {
		mu     sync.Mutex
		ready  chan struct{}
		result any
		err    error
	}

	inprocSignalChan struct{ ch chan any }
)

// NewInProcess returns an Engine that runs workflows as goroutines and
// activities as direct function calls, with no persistence or replay. It is
// meant for local development, tests, and single-process deployments; a run
// started on it does not survive a process restart.
func NewInProcess(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) Engine {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}
	return &inprocEngine{
		workflows:  make(map[string]WorkflowDefinition),
		activities: make(map[string]inprocActivity),
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
	}
}

func (e *inprocEngine) RegisterWorkflow(_ context.Context, def WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("inproc engine: invalid workflow definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("inproc engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *inprocEngine) RegisterActivity(_ context.Context, def ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("inproc engine: invalid activity definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.activities[def.Name]; dup {
		return fmt.Errorf("inproc engine: activity %q already registered", def.Name)
	}
	e.activities[def.Name] = inprocActivity{handler: def.Handler, opts: def.Options}
	return nil
}

func (e *inprocEngine) StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error) {
	e.mu.RLock()
	def, ok := e.workflows[req.Workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inproc engine: workflow %q not registered", req.Workflow)
	}
	if req.ID == "" {
		return nil, errors.New("inproc engine: workflow id is required")
	}

	wctx := &inprocWorkflowContext{
		ctx:   ctx,
		id:    req.ID,
		runID: req.ID,
		eng:   e,
		sigs:  make(map[string]*inprocSignalChan),
	}
	h := &inprocHandle{done: make(chan struct{}), wfCtx: wctx}

	go func() {
		defer close(h.done)
		res, err := def.Handler(wctx, req.Input)
		h.mu.Lock()
		h.result, h.err = res, err
		h.mu.Unlock()
	}()

	return h, nil
}

func (w *inprocWorkflowContext) Context() context.Context   { return w.ctx }
func (w *inprocWorkflowContext) WorkflowID() string         { return w.id }
func (w *inprocWorkflowContext) RunID() string              { return w.runID }
func (w *inprocWorkflowContext) Logger() telemetry.Logger   { return w.eng.logger }
func (w *inprocWorkflowContext) Metrics() telemetry.Metrics { return w.eng.metrics }
func (w *inprocWorkflowContext) Tracer() telemetry.Tracer   { return w.eng.tracer }
func (w *inprocWorkflowContext) Now() time.Time             { return time.Now() }

func (w *inprocWorkflowContext) ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(ctx, req)
	if err != nil {
		return err
	}
	return fut.Get(ctx, result)
}

func (w *inprocWorkflowContext) ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error) {
	w.eng.mu.RLock()
	def, ok := w.eng.activities[req.Name]
	w.eng.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inproc engine: activity %q not registered", req.Name)
	}

	actx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, req.Timeout)
	}

	f := &inprocFuture{ready: make(chan struct{})}
	go func() {
		defer close(f.ready)
		defer cancel() // the future's goroutine releases it when the handler returns
		res, err := def.handler(WithWorkflowContext(actx, w), req.Input)
		f.mu.Lock()
		f.result, f.err = res, err
		f.mu.Unlock()
	}()
	return f, nil
}

func (w *inprocWorkflowContext) SignalChannel(name string) SignalChannel {
	w.sigMu.Lock()
	defer w.sigMu.Unlock()
	ch, ok := w.sigs[name]
	if !ok {
		ch = &inprocSignalChan{ch: make(chan any, 1)}
		w.sigs[name] = ch
	}
	return ch
}

func (h *inprocHandle) Wait(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		assignResult(result, h.result)
		return h.err
	}
}

func (h *inprocHandle) Signal(ctx context.Context, name string, payload any) error {
	ch := h.wfCtx.SignalChannel(name).(*inprocSignalChan)
	select {
	case ch.ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return errors.New("inproc engine: workflow already completed")
	}
}

func (h *inprocHandle) Cancel(context.Context) error {
	return errors.New("inproc engine: cancellation is not supported, signal the run's cancel channel instead")
}

func (f *inprocFuture) Get(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.ready:
		f.mu.Lock()
		defer f.mu.Unlock()
		assignResult(result, f.result)
		return f.err
	}
}

func (f *inprocFuture) IsReady() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

func (s *inprocSignalChan) Receive(ctx context.Context, dest any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case v := <-s.ch:
		assignResult(dest, v)
		return nil
	}
}

func (s *inprocSignalChan) ReceiveAsync(dest any) bool {
	select {
	case v := <-s.ch:
		assignResult(dest, v)
		return true
	default:
		return false
	}
}

// assignResult copies src into the value dst points to, when the types are
// directly assignable or dst is an interface src implements. Mismatched
// types are silently dropped, matching the dynamic any-typed activity/result
// plumbing used throughout the engine abstraction.
func assignResult(dst, src any) {
	if dst == nil || src == nil {
		return
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return
	}
	sv := reflect.ValueOf(src)
	if sv.IsValid() && sv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv)
		return
	}
	if dv.Elem().Kind() == reflect.Interface && sv.Type().Implements(dv.Elem().Type()) {
		dv.Elem().Set(sv)
	}
}
