// Package config loads the broker's YAML configuration: server listen
// address, Redis connection, the durable-execution engine backend, and the
// default policy/tool-source file paths. Zero-value fields get sane
// defaults rather than failing to load.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineBackend selects which engine.Engine implementation the broker
// bootstraps.
type EngineBackend string

const (
	EngineInProcess EngineBackend = "inprocess"
	EngineTemporal  EngineBackend = "temporal"
)

// Config is the broker's top-level configuration document.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
	Policies PoliciesConfig `yaml:"policies"`
	OAuth    OAuthConfig    `yaml:"oauth"`
}

// OAuthConfig toggles the transport's OAuth discovery surface.
// When disabled, the two .well-known routes 404 and workspaceId is not
// required on /mcp.
type OAuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// Issuer is the upstream authorization server's base URL; its
	// metadata document is proxied verbatim by
	// /.well-known/oauth-authorization-server.
	Issuer string `yaml:"issuer"`
	// ResourceMetadataURL is the absolute URL advertised in a 401's
	// WWW-Authenticate resource_metadata parameter.
	ResourceMetadataURL string `yaml:"resource_metadata_url"`
}

// ServerConfig configures the streamable HTTP transport.
type ServerConfig struct {
	// ListenAddr is the address the HTTP transport binds, e.g. ":8080".
	ListenAddr string `yaml:"listen_addr"`
	// DefaultTimeoutMs is the task execution timeout used when a caller
	// omits timeoutMs. Mirrors task.DefaultTimeoutMs when zero.
	DefaultTimeoutMs int `yaml:"default_timeout_ms"`
	// ResultWaitPaddingMs is added to a task's own timeoutMs (floored at
	// MinResultWaitMs) to compute how long a run_code call with
	// waitForResult waits for the task to reach a terminal state before
	// returning its current state.
	ResultWaitPaddingMs int `yaml:"result_wait_padding_ms"`
	// MinResultWaitMs floors the computed result-wait timeout.
	MinResultWaitMs int `yaml:"min_result_wait_ms"`
}

// RedisConfig configures the Redis-backed task/approval/event store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig selects and configures the durable-execution backend.
type EngineConfig struct {
	Backend  EngineBackend  `yaml:"backend"`
	Temporal TemporalConfig `yaml:"temporal"`
}

// TemporalConfig configures the Temporal-backed engine adapter. Only
// consulted when Engine.Backend == EngineTemporal.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

// PoliciesConfig points at the on-disk policy rule set the dispatcher
// loads at startup.
type PoliciesConfig struct {
	// Path is a YAML file of dispatcher.Rule entries. Empty means no
	// rules: every call defaults to allow, subject only to each tool's
	// own Approval default.
	Path string `yaml:"path"`
}

// SetDefaults fills zero-value fields with the broker's defaults. Called
// automatically by Load; exported so callers constructing a Config in
// code (tests, embedders) get the same defaulting.
func (c *Config) SetDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.DefaultTimeoutMs == 0 {
		c.Server.DefaultTimeoutMs = 300_000
	}
	if c.Server.ResultWaitPaddingMs == 0 {
		c.Server.ResultWaitPaddingMs = 30_000
	}
	if c.Server.MinResultWaitMs == 0 {
		c.Server.MinResultWaitMs = 120_000
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Engine.Backend == "" {
		c.Engine.Backend = EngineInProcess
	}
	if c.Engine.Temporal.TaskQueue == "" {
		c.Engine.Temporal.TaskQueue = "broker-tasks"
	}
	if c.Engine.Temporal.Namespace == "" {
		c.Engine.Temporal.Namespace = "default"
	}
}

// Validate reports a misconfigured document SetDefaults cannot repair.
func (c *Config) Validate() error {
	if c.Engine.Backend != EngineInProcess && c.Engine.Backend != EngineTemporal {
		return fmt.Errorf("config: unknown engine backend %q", c.Engine.Backend)
	}
	if c.Engine.Backend == EngineTemporal && c.Engine.Temporal.HostPort == "" {
		return fmt.Errorf("config: engine.temporal.host_port is required when engine.backend is temporal")
	}
	return nil
}

// ResultWaitTimeout computes the caller-side wait-for-terminal timeout for
// a task whose own execution timeout is taskTimeoutMs: the greater of
// (taskTimeoutMs + ResultWaitPaddingMs) and MinResultWaitMs.
func (c *Config) ResultWaitTimeout(taskTimeoutMs int) time.Duration {
	wait := taskTimeoutMs + c.Server.ResultWaitPaddingMs
	if wait < c.Server.MinResultWaitMs {
		wait = c.Server.MinResultWaitMs
	}
	return time.Duration(wait) * time.Millisecond
}

// Load reads path, expands ${VAR}/${VAR:-default}/$VAR environment
// references in the raw document, parses it as YAML, applies defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(raw)
}

func parse(raw []byte) (*Config, error) {
	expanded := expandEnv(string(raw))
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envVarPattern matches ${VAR}, ${VAR:-default}, and $VAR.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasPrefix(match, "${") {
			inner := match[2 : len(match)-1]
			if idx := strings.Index(inner, ":-"); idx != -1 {
				name, def := inner[:idx], inner[idx+2:]
				if v := os.Getenv(name); v != "" {
					return v
				}
				return def
			}
			return os.Getenv(inner)
		}
		return os.Getenv(match[1:])
	})
}
