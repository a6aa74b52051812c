package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/aegis/internal/types"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, NewValidator().Validate(cfg))

	assert.Equal(t, 4, cfg.Executor.MaxWorkers)
	assert.Equal(t, 3, cfg.Workflow.MaxReplans)
	assert.Equal(t, "exhaustive", cfg.Discovery.Policy)
	assert.Equal(t, "http-discovery", cfg.Discovery.DefaultCapability)
	assert.True(t, cfg.Database.WALMode)
}

func TestValidateRejectsNil(t *testing.T) {
	err := NewValidator().Validate(nil)
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_VALIDATION_FAILED, types.CodeOf(err))
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Executor.MaxWorkers = 0

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_workers")
}

func TestValidateRejectsBadPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Restraint.ProhibitedPatterns = []string{`[unterminated`}

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_VALIDATION_FAILED, types.CodeOf(err))
}

func TestLoadMissingFile(t *testing.T) {
	loader := NewLoader(NewValidator())

	_, err := loader.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_LOAD_FAILED, types.CodeOf(err))

	cfg, err := loader.LoadWithDefaults(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Executor.MaxWorkers, cfg.Executor.MaxWorkers)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
executor:
  max_workers: 8
  default_timeout: 90s
workflow:
  max_replans: 5
discovery:
  policy: sampled
  sample_size: 3
`), 0o644))

	cfg, err := NewLoader(NewValidator()).Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Executor.MaxWorkers)
	assert.Equal(t, 90*time.Second, cfg.Executor.DefaultTimeout)
	assert.Equal(t, 5, cfg.Workflow.MaxReplans)
	assert.Equal(t, "sampled", cfg.Discovery.Policy)
	// Untouched sections keep defaults.
	assert.Equal(t, "http-discovery", cfg.Discovery.DefaultCapability)
}

func TestLoadInterpolatesEnv(t *testing.T) {
	t.Setenv("AEGIS_TEST_KEY", "sk-test-123")

	path := filepath.Join(t.TempDir(), "aegis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
planner:
  api_key: ${AEGIS_TEST_KEY}
`), 0o644))

	cfg, err := NewLoader(NewValidator()).Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.Planner.APIKey)
}

func TestInterpolateStringLeavesUnsetRefs(t *testing.T) {
	assert.Equal(t, "${NOT_SET_XYZ}", interpolateString("${NOT_SET_XYZ}"))
	assert.Equal(t, "plain", interpolateString("plain"))
}
