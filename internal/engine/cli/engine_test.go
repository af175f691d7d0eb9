package cli_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/engine/cli"
	"github.com/patchpilot/patchpilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine writes an executable shell script and returns its path.
func fakeEngine(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-engine")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestApply_Success(t *testing.T) {
	bin := fakeEngine(t, "cat\nexit 0\n")
	e := cli.NewEngine(config.EngineConfig{Command: bin, Timeout: 10 * time.Second})

	result, err := e.Apply(context.Background(), models.EngineRequest{
		RepoPath:     t.TempDir(),
		Instructions: "Add input validation to login endpoint",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.True(t, result.Succeeded())
	assert.Contains(t, result.Stdout, "Add input validation")
	assert.False(t, result.TimedOut)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestApply_NonZeroExit(t *testing.T) {
	bin := fakeEngine(t, "echo 'boom' >&2\nexit 2\n")
	e := cli.NewEngine(config.EngineConfig{Command: bin, Timeout: 10 * time.Second})

	result, err := e.Apply(context.Background(), models.EngineRequest{
		RepoPath:     t.TempDir(),
		Instructions: "do something",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ExitCode)
	assert.False(t, result.Succeeded())
	assert.Contains(t, result.Stderr, "boom")
}

func TestApply_BinaryMissing(t *testing.T) {
	e := cli.NewEngine(config.EngineConfig{
		Command: "definitely-not-an-engine-binary",
		Timeout: 10 * time.Second,
	})

	_, err := e.Apply(context.Background(), models.EngineRequest{
		RepoPath:     t.TempDir(),
		Instructions: "do something",
	})
	assert.ErrorIs(t, err, models.ErrEngineNotFound)
}

func TestApply_Timeout(t *testing.T) {
	bin := fakeEngine(t, "sleep 10\n")
	e := cli.NewEngine(config.EngineConfig{Command: bin, Timeout: 200 * time.Millisecond})

	result, err := e.Apply(context.Background(), models.EngineRequest{
		RepoPath:     t.TempDir(),
		Instructions: "take forever",
	})
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.False(t, result.Succeeded())
	assert.GreaterOrEqual(t, result.Duration, 200*time.Millisecond)
}

func TestApply_TokenAndDryRunFlags(t *testing.T) {
	bin := fakeEngine(t, `echo "$@"`+"\nexit 0\n")
	e := cli.NewEngine(config.EngineConfig{
		Command: bin,
		Args:    []string{"--yes"},
		Timeout: 10 * time.Second,
	})

	result, err := e.Apply(context.Background(), models.EngineRequest{
		RepoPath:     t.TempDir(),
		Instructions: "change",
		Token:        "ghp_secret",
		DryRun:       true,
	})
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "--yes")
	assert.Contains(t, result.Stdout, "--api-key ghp_secret")
	assert.Contains(t, result.Stdout, "--dry-run")
}
