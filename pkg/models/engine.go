package models

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all Engine implementations.
var (
	ErrEngineNotFound = errors.New("engine binary not found")
	ErrEngineFailed   = errors.New("engine run failed")
)

// Engine is the interface to the external AI code-editing tool. Never shell
// out to a specific tool directly — always inject this interface.
type Engine interface {
	// Apply feeds the change instructions to the tool and waits for it to
	// commit the edit. The returned result carries the verbatim process
	// output for audit; success is defined by ExitCode 0.
	Apply(ctx context.Context, req EngineRequest) (EngineResult, error)
	// Name returns the engine identifier (e.g., "aider", "mock").
	Name() string
}

// EngineRequest is the input to one engine invocation.
type EngineRequest struct {
	RepoPath     string
	Instructions string
	Token        string // credential passed to the tool, may be empty
	DryRun       bool
}

// EngineResult captures the outcome of one engine invocation verbatim.
type EngineResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// Succeeded reports whether the engine run is considered successful.
// Exit code 0 is the sole criterion; no diff verification is performed.
func (r EngineResult) Succeeded() bool {
	return !r.TimedOut && r.ExitCode == 0
}
