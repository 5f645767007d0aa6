package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
trace_root: /sys/kernel/debug/ltt/trace1
output_dir: /var/trace/out
workers: 4
mode: flight-only
append: true
verbose: true
observability:
  otlp:
    endpoint: localhost:4317
    protocol: grpc
    insecure: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/sys/kernel/debug/ltt/trace1", cfg.TraceRoot)
	require.Equal(t, "/var/trace/out", cfg.OutputDir)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, "flight-only", cfg.Mode)
	require.True(t, cfg.Append)
	require.True(t, cfg.Verbose)
	require.Equal(t, "localhost:4317", cfg.Observability.OTLP.Endpoint)
	require.Equal(t, "grpc", cfg.Observability.OTLP.Protocol)
	require.True(t, cfg.Observability.OTLP.Insecure)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("RINGTEST_ROOT", "/debugfs/trace")

	out := SubstituteEnvVars("trace_root: ${RINGTEST_ROOT}")
	require.Equal(t, "trace_root: /debugfs/trace", out)

	out = SubstituteEnvVars("workers: ${RINGTEST_UNSET_WORKERS:-2}")
	require.Equal(t, "workers: 2", out)

	// Unset and no default stays untouched so the error surfaces at parse.
	out = SubstituteEnvVars("mode: ${RINGTEST_UNSET_MODE}")
	require.Equal(t, "mode: ${RINGTEST_UNSET_MODE}", out)
}

func TestSaveConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &Config{TraceRoot: "/trace", OutputDir: "/out", Workers: 2, Mode: "all"}
	require.NoError(t, SaveConfig(path, cfg))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg.TraceRoot, got.TraceRoot)
	require.Equal(t, cfg.OutputDir, got.OutputDir)
	require.Equal(t, cfg.Workers, got.Workers)
}
