package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackms/swarmkit/internal/application/orchestrator"
	"github.com/blackms/swarmkit/internal/domain/swarm"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 2, cfg.Swarm.MinSize)
	assert.Equal(t, 20, cfg.Swarm.MaxSize)
	assert.InDelta(t, 0.1, cfg.Pheromone.DecayRate, 1e-9)
	assert.InDelta(t, 0.5, cfg.Voting.Threshold, 1e-9)
	assert.InDelta(t, 0.3, cfg.Auction.FairnessWeight, 1e-9)
	assert.Equal(t, "least_loaded", cfg.Balancer.Strategy)
	assert.Equal(t, 3, cfg.Fault.MaxRetries)
	assert.Equal(t, "all", cfg.Optimize.HealPolicy)
	assert.Equal(t, time.Second, cfg.Optimize.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestDefault_OrchestratorMatchesBuiltInDefaults(t *testing.T) {
	orch := Default().Orchestrator()
	assert.Equal(t, orchestrator.DefaultConfig(), orch)
	assert.InDelta(t, 5.0, orch.Balancer.TasksPerCapacity, 1e-9)

	o := orchestrator.New(orch)
	assert.Equal(t, orchestrator.DefaultConfig(), o.Config())
}

func TestDefault_IgnoresEnvironment(t *testing.T) {
	t.Setenv("SWARMKIT_SWARM_MIN_SIZE", "-3")

	cfg := Default()
	assert.Equal(t, 2, cfg.Swarm.MinSize)

	_, err := LoadFromPath(writeConfig(t, "log:\n  level: info\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "swarm.min_size")
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
swarm:
  min_size: 3
  max_size: 8
pheromone:
  decay_rate: 0.25
balancer:
  strategy: round_robin
optimize:
  heal_policy: after_ticks
  heal_after_ticks: 4
  interval: 250ms
log:
  level: debug
  format: json
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Swarm.MinSize)
	assert.Equal(t, 8, cfg.Swarm.MaxSize)
	assert.InDelta(t, 0.25, cfg.Pheromone.DecayRate, 1e-9)
	assert.InDelta(t, 0.01, cfg.Pheromone.MinIntensity, 1e-9, "unset keys keep defaults")
	assert.Equal(t, "round_robin", cfg.Balancer.Strategy)

	orch := cfg.Orchestrator()
	assert.Equal(t, 3, orch.Swarm.MinSize)
	assert.Equal(t, swarm.BalanceRoundRobin, orch.Balancer.Strategy)
	assert.Equal(t, orchestrator.HealAfterTicks, orch.HealPolicy)
	assert.Equal(t, 4, orch.HealAfterTicks)
	assert.Equal(t, 250*time.Millisecond, cfg.Optimize.Interval)
}

func TestLoadFromPath_EnvOverride(t *testing.T) {
	path := writeConfig(t, "swarm:\n  min_size: 3\n")
	t.Setenv("SWARMKIT_SWARM_MIN_SIZE", "5")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Swarm.MinSize)
}

func TestLoadFromPath_Missing(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadFromPath_Invalid(t *testing.T) {
	path := writeConfig(t, `
swarm:
  min_size: 5
  max_size: 2
balancer:
  strategy: random
`)

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "swarm.max_size")
	assert.Contains(t, err.Error(), "balancer.strategy")
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".swarmkit.yaml"), []byte("fault:\n  max_retries: 7\n"), 0o644))

	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	prevDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { _ = os.Chdir(prevDir) })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Fault.MaxRetries)
	assert.Equal(t, resolve(t, filepath.Join(dir, ".swarmkit.yaml")), resolve(t, GetProjectConfigPath()))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Voting.Threshold = 1.5
	cfg.Log.Format = "xml"
	cfg.Auction.FairnessWeight = 0
	cfg.Fault.MaxRetries = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voting.threshold")
	assert.Contains(t, err.Error(), "log.format")
	assert.Contains(t, err.Error(), "auction.fairness_weight")
	assert.Contains(t, err.Error(), "fault.max_retries")
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "agentId", "a1")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"agentId":"a1"`)
}

func TestGetUserConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "swarmkit", "config.yaml"), GetUserConfigPath())
}

// resolve follows symlinks so temp dirs compare equal on macOS.
func resolve(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	return resolved
}
