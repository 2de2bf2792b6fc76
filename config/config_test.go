package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen_addr: \":9090\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.ListenAddr)
	require.Equal(t, 300_000, cfg.Server.DefaultTimeoutMs)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, EngineInProcess, cfg.Engine.Backend)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("BROKER_REDIS_ADDR", "redis.internal:6380")
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  addr: \"${BROKER_REDIS_ADDR}\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
}

func TestLoad_EnvVarDefaultFallback(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  addr: \"${BROKER_REDIS_ADDR:-fallback:6379}\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "fallback:6379", cfg.Redis.Addr)
}

func TestValidate_TemporalRequiresHostPort(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Engine.Backend = EngineTemporal
	cfg.SetDefaults()
	require.Error(t, cfg.Validate())

	cfg.Engine.Temporal.HostPort = "localhost:7233"
	require.NoError(t, cfg.Validate())
}

func TestValidate_UnknownBackendErrors(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Engine.Backend = "bogus"
	require.Error(t, cfg.Validate())
}

func TestResultWaitTimeout_FloorsAtMinimum(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.SetDefaults()

	require.Equal(t, cfg.ResultWaitTimeout(1_000).Milliseconds(), int64(cfg.Server.MinResultWaitMs))

	big := 500_000
	require.Equal(t, cfg.ResultWaitTimeout(big).Milliseconds(), int64(big+cfg.Server.ResultWaitPaddingMs))
}
