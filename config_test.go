package elif_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/elifgo/elif"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := elif.DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:3000", cfg.BindAddr)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 75*time.Second, cfg.KeepAliveTimeout())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, int64(16<<20), cfg.MaxRequestSize)
	assert.Equal(t, "/health", cfg.HealthCheckPath)
	assert.True(t, cfg.EnableTracing)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ELIF_BIND_ADDR", "0.0.0.0:8080")
	t.Setenv("ELIF_REQUEST_TIMEOUT_SECS", "5")
	t.Setenv("ELIF_ENABLE_TRACING", "false")

	cfg, err := elif.LoadConfig("")

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.BindAddr)
	assert.Equal(t, 5, cfg.RequestTimeoutSecs)
	assert.False(t, cfg.EnableTracing)
	assert.Equal(t, 10, cfg.ShutdownTimeoutSecs)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "elif.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bind_addr: 127.0.0.1:9000\nmax_request_size: 1024\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ELIF_SHUTDOWN_TIMEOUT_SECS=2\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("ELIF_SHUTDOWN_TIMEOUT_SECS") })

	cfg, err := elif.LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.BindAddr)
	assert.Equal(t, int64(1024), cfg.MaxRequestSize)
	assert.Equal(t, 2, cfg.ShutdownTimeoutSecs)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := elif.LoadConfig("does-not-exist.yaml")
	assert.Equal(t, elif.ErrCodeInvalidConfig, elif.CodeOf(err))
}

func TestConfigValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := elif.DefaultConfig()
	cfg.BindAddr = "localhost"
	cfg.RequestTimeoutSecs = 0
	cfg.MaxRequestSize = -1
	cfg.ReadinessPath = "/health"
	cfg.EnableMetrics = true
	cfg.MetricsPath = "metrics"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, elif.ErrCodeInvalidConfig, elif.CodeOf(err))

	var e *elif.Error
	require.True(t, errors.As(err, &e))
	assert.Len(t, multierr.Errors(e.Cause), 5)
}
