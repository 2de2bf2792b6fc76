package engine

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/agentbroker/broker/telemetry"
)

// TemporalOptions configures the Temporal-backed engine adapter. Either
// Client or ClientOptions must be provided.
type TemporalOptions struct {
	// Client is a pre-configured Temporal client. If nil, the adapter
	// builds a lazy client from ClientOptions.
	Client client.Client

	// ClientOptions describes how to construct a client when Client is
	// nil. Required when Client is nil.
	ClientOptions *client.Options

	// TaskQueue is the default queue used when workflow/activity
	// definitions omit one. Required.
	TaskQueue string

	// WorkerOptions is forwarded to worker.New for every queue this
	// engine creates a worker for.
	WorkerOptions worker.Options

	// DisableTracing skips installing the OTEL tracing interceptor.
	DisableTracing bool

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// TemporalEngine implements Engine using Temporal as the durable execution
// backend: a task run is a Temporal workflow and its sandbox execution is
// a Temporal activity. Workflow state survives process restarts and worker
// crashes, which the in-process engine cannot offer.
type TemporalEngine struct {
	client      client.Client
	closeClient bool

	defaultQueue string
	workerOpts   worker.Options

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu        sync.Mutex
	workers   map[string]*temporalWorkerBundle
	started   bool
	workflows map[string]WorkflowDefinition

	workflowContexts sync.Map // runID -> WorkflowContext
}

// NewTemporal constructs a Temporal-backed engine. Workers are created
// lazily per task queue and started on first StartWorkflow call.
func NewTemporal(opts TemporalOptions) (*TemporalEngine, error) {
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal engine: a default task queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}

	cli := opts.Client
	closeClient := false
	workerOpts := opts.WorkerOptions

	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal engine: client options are required when Client is nil")
		}
		clientOpts := *opts.ClientOptions
		if !opts.DisableTracing {
			interceptor, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
			if err != nil {
				return nil, fmt.Errorf("temporal engine: configure tracing interceptor: %w", err)
			}
			clientOpts.Interceptors = append(clientOpts.Interceptors, interceptor)
			workerOpts.Interceptors = append(workerOpts.Interceptors, interceptor)
		}
		c, err := client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		cli = c
		closeClient = true
	}

	return &TemporalEngine{
		client:       cli,
		closeClient:  closeClient,
		defaultQueue: opts.TaskQueue,
		workerOpts:   workerOpts,
		logger:       logger,
		metrics:      metrics,
		tracer:       tracer,
		workers:      make(map[string]*temporalWorkerBundle),
		workflows:    make(map[string]WorkflowDefinition),
	}, nil
}

func (e *TemporalEngine) RegisterWorkflow(_ context.Context, def WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("temporal engine: workflow name cannot be empty")
	}
	queue := def.TaskQueue
	if queue == "" {
		queue = e.defaultQueue
	}
	bundle, err := e.workerForQueue(queue)
	if err != nil {
		return err
	}

	bundle.registerWorkflow(def.Name, func(tctx workflow.Context, input any) (any, error) {
		wfCtx := newTemporalWorkflowContext(e, tctx)
		defer e.workflowContexts.Delete(wfCtx.RunID())
		return def.Handler(wfCtx, input)
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("temporal engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *TemporalEngine) RegisterActivity(_ context.Context, def ActivityDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("temporal engine: activity name cannot be empty")
	}
	queue := def.Options.Queue
	if queue == "" {
		queue = e.defaultQueue
	}
	bundle, err := e.workerForQueue(queue)
	if err != nil {
		return err
	}
	bundle.registerActivity(def.Name, func(actx context.Context, input any) (any, error) {
		if runID := activity.GetInfo(actx).WorkflowExecution.RunID; runID != "" {
			if wf, ok := e.workflowContexts.Load(runID); ok {
				if typed, ok := wf.(WorkflowContext); ok {
					actx = WithWorkflowContext(actx, typed)
				}
			}
		}
		return def.Handler(actx, input)
	})
	return nil
}

func (e *TemporalEngine) StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error) {
	if req.Workflow == "" {
		return nil, fmt.Errorf("temporal engine: workflow name is required")
	}
	e.mu.Lock()
	def, ok := e.workflows[req.Workflow]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("temporal engine: workflow %q is not registered", req.Workflow)
	}

	e.ensureWorkersStarted()

	queue := req.TaskQueue
	if queue == "" {
		queue = def.TaskQueue
	}
	if queue == "" {
		queue = e.defaultQueue
	}

	opts := client.StartWorkflowOptions{ID: req.ID, TaskQueue: queue}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		opts.RetryPolicy = rp
	}

	run, err := e.client.ExecuteWorkflow(ctx, opts, def.Name, req.Input)
	if err != nil {
		return nil, err
	}
	return &temporalHandle{run: run, client: e.client}, nil
}

// Close shuts down the Temporal client if this engine created it.
func (e *TemporalEngine) Close() error {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
	return nil
}

func (e *TemporalEngine) workerForQueue(queue string) (*temporalWorkerBundle, error) {
	if queue == "" {
		queue = e.defaultQueue
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.workers[queue]; ok {
		return b, nil
	}
	w := worker.New(e.client, queue, e.workerOpts)
	b := &temporalWorkerBundle{queue: queue, worker: w, logger: e.logger}
	e.workers[queue] = b
	if e.started {
		b.start()
	}
	return b, nil
}

func (e *TemporalEngine) ensureWorkersStarted() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	bundles := make([]*temporalWorkerBundle, 0, len(e.workers))
	for _, b := range e.workers {
		bundles = append(bundles, b)
	}
	e.mu.Unlock()
	for _, b := range bundles {
		b.start()
	}
}

type temporalWorkerBundle struct {
	queue     string
	worker    worker.Worker
	logger    telemetry.Logger
	startOnce sync.Once
}

func (b *temporalWorkerBundle) start() {
	b.startOnce.Do(func() {
		go func() {
			if err := b.worker.Run(worker.InterruptCh()); err != nil {
				b.logger.Error(context.Background(), "temporal worker exited", "queue", b.queue, "err", err)
			}
		}()
	})
}

func (b *temporalWorkerBundle) registerWorkflow(name string, fn any) {
	b.worker.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
}

func (b *temporalWorkerBundle) registerActivity(name string, fn any) {
	b.worker.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func convertRetryPolicy(r RetryPolicy) *temporal.RetryPolicy {
	if r.MaxAttempts == 0 && r.InitialInterval == 0 && r.BackoffCoefficient == 0 {
		return nil
	}
	policy := &temporal.RetryPolicy{}
	if r.MaxAttempts > 0 {
		//nolint:gosec // MaxAttempts is bounded by config validation before reaching here.
		policy.MaximumAttempts = int32(r.MaxAttempts)
	}
	if r.InitialInterval > 0 {
		policy.InitialInterval = r.InitialInterval
	}
	if r.BackoffCoefficient > 0 {
		policy.BackoffCoefficient = r.BackoffCoefficient
	}
	return policy
}

type temporalHandle struct {
	run    client.WorkflowRun
	client client.Client
}

func (h *temporalHandle) Wait(ctx context.Context, result any) error {
	return h.run.Get(ctx, result)
}

func (h *temporalHandle) Signal(ctx context.Context, name string, payload any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload)
}

func (h *temporalHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}
