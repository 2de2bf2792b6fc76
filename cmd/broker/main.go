// Command broker runs the multi-tenant code-execution broker: it loads
// configuration, wires the tool registry, typechecker, dispatcher,
// sandbox, and task lifecycle, and serves the streamable RPC transport
// over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"gopkg.in/yaml.v3"

	"github.com/agentbroker/broker/accessdir"
	"github.com/agentbroker/broker/config"
	"github.com/agentbroker/broker/dispatcher"
	"github.com/agentbroker/broker/engine"
	"github.com/agentbroker/broker/eventbus"
	"github.com/agentbroker/broker/sandbox"
	"github.com/agentbroker/broker/task"
	"github.com/agentbroker/broker/telemetry"
	"github.com/agentbroker/broker/toolregistry"
	"github.com/agentbroker/broker/transport"
	"github.com/agentbroker/broker/typecheck"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the broker's YAML config file")
	directoryURL := flag.String("directory-url", "", "base URL of the access directory service (overrides ACCESS_DIRECTORY_URL)")
	flag.Parse()

	if err := run(*configPath, *directoryURL); err != nil {
		fmt.Fprintln(os.Stderr, "broker:", err)
		os.Exit(1)
	}
}

func run(configPath, directoryURL string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.NewNoopLogger()
	metrics := telemetry.NewNoopMetrics()
	tracer := telemetry.NewNoopTracer()

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	bus := eventbus.New()
	publishingStore := eventbus.NewPublishingStore(store, bus)

	eng, err := buildEngine(cfg, logger, metrics, tracer)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	lifecycle, err := task.New(eng, publishingStore, sandbox.New())
	if err != nil {
		return fmt.Errorf("build lifecycle: %w", err)
	}

	policies, err := loadPolicies(cfg.Policies.Path)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}

	registry, err := toolregistry.New(256)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	sources := toolregistry.NewStaticSourceStore(nil)

	var checker typecheck.Checker = typecheck.NewStructural()

	if directoryURL == "" {
		directoryURL = os.Getenv("ACCESS_DIRECTORY_URL")
	}
	var directory accessdir.Directory = accessdir.NewHTTPDirectory(directoryURL, nil)

	srv := transport.NewServer(cfg, directory, sources, registry, checker, policies, publishingStore, lifecycle, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "broker: listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildStore constructs the task/approval/event store: Redis-backed when
// cfg.Redis.Addr is set, in-memory otherwise. config.Load defaults an
// unset address to localhost:6379, so a loaded config always selects the
// Redis store; the in-memory store is chosen only for a Config whose
// Redis.Addr is empty.
func buildStore(cfg *config.Config) (task.Store, error) {
	if cfg.Redis.Addr == "" {
		return task.NewInMemoryStore(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return task.NewRedisStore(rdb), nil
}

// buildEngine constructs the durable-execution engine selected by
// cfg.Engine.Backend.
func buildEngine(cfg *config.Config, logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) (engine.Engine, error) {
	switch cfg.Engine.Backend {
	case config.EngineTemporal:
		return engine.NewTemporal(engine.TemporalOptions{
			ClientOptions: &client.Options{HostPort: cfg.Engine.Temporal.HostPort, Namespace: cfg.Engine.Temporal.Namespace},
			TaskQueue:     cfg.Engine.Temporal.TaskQueue,
			Logger:        logger,
			Metrics:       metrics,
			Tracer:        tracer,
		})
	default:
		return engine.NewInProcess(logger, metrics, tracer), nil
	}
}

// loadPolicies reads a YAML file of dispatcher.Rule entries. An empty
// path is a valid, empty policy set: every call defaults to allow,
// subject only to each tool's own Approval default.
func loadPolicies(path string) (*dispatcher.PolicySet, error) {
	if path == "" {
		return dispatcher.NewPolicySet(nil)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var rules []dispatcher.Rule
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return dispatcher.NewPolicySet(rules)
}
