// Package cli runs the change engine as an external command. The engine is
// any AI coding tool with a non-interactive CLI (aider by default): it reads
// instructions on stdin, commits its own changes, and signals success with
// exit code 0.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/pkg/models"
)

// Engine invokes an external CLI tool to apply a change.
type Engine struct {
	command string
	args    []string
	timeout time.Duration
}

// NewEngine creates a CLI engine from config.
func NewEngine(cfg config.EngineConfig) *Engine {
	return &Engine{
		command: cfg.Command,
		args:    cfg.Args,
		timeout: cfg.Timeout,
	}
}

func (e *Engine) Name() string { return e.command }

// Apply runs the engine in the repository directory with the instructions on
// stdin. The run is bounded by the configured timeout; hitting the deadline
// returns a TimedOut result rather than an error so the caller can record the
// elapsed time. A missing binary returns ErrEngineNotFound.
func (e *Engine) Apply(ctx context.Context, req models.EngineRequest) (models.EngineResult, error) {
	if _, err := exec.LookPath(e.command); err != nil {
		return models.EngineResult{}, models.ErrEngineNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := make([]string, 0, len(e.args)+3)
	args = append(args, e.args...)
	if req.Token != "" {
		args = append(args, "--api-key", req.Token)
	}
	if req.DryRun {
		args = append(args, "--dry-run")
	}

	cmd := exec.CommandContext(ctx, e.command, args...)
	cmd.Dir = req.RepoPath
	cmd.Stdin = strings.NewReader(req.Instructions)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := models.EngineResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("%w: %v", models.ErrEngineFailed, err)
	}

	return result, nil
}

// Compile-time check that Engine implements models.Engine.
var _ models.Engine = (*Engine)(nil)
