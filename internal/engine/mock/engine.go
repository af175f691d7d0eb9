package mock

import (
	"context"
	"time"

	"github.com/patchpilot/patchpilot/pkg/models"
)

// MockEngine satisfies models.Engine for testing.
type MockEngine struct {
	Name_     string
	ApplyFunc func(ctx context.Context, req models.EngineRequest) (models.EngineResult, error)
}

func (m *MockEngine) Name() string { return m.Name_ }

func (m *MockEngine) Apply(ctx context.Context, req models.EngineRequest) (models.EngineResult, error) {
	if m.ApplyFunc != nil {
		return m.ApplyFunc(ctx, req)
	}
	return models.EngineResult{}, nil
}

// NewEngine returns a MockEngine that reports a successful run.
func NewEngine() *MockEngine {
	return &MockEngine{
		Name_: "mock",
		ApplyFunc: func(_ context.Context, req models.EngineRequest) (models.EngineResult, error) {
			return models.EngineResult{
				ExitCode: 0,
				Stdout:   "mock engine applied: " + req.Instructions,
				Duration: 10 * time.Millisecond,
			}, nil
		},
	}
}

// NewFailing returns a MockEngine whose runs exit non-zero with the given stderr.
func NewFailing(exitCode int, stderr string) *MockEngine {
	return &MockEngine{
		Name_: "mock-failing",
		ApplyFunc: func(_ context.Context, _ models.EngineRequest) (models.EngineResult, error) {
			return models.EngineResult{
				ExitCode: exitCode,
				Stderr:   stderr,
				Duration: 10 * time.Millisecond,
			}, nil
		},
	}
}

// NewNotFound returns a MockEngine behaving like a missing binary.
func NewNotFound() *MockEngine {
	return &MockEngine{
		Name_: "mock-missing",
		ApplyFunc: func(_ context.Context, _ models.EngineRequest) (models.EngineResult, error) {
			return models.EngineResult{}, models.ErrEngineNotFound
		},
	}
}

// NewTimeout returns a MockEngine that blocks until context cancellation and
// reports a timed-out run.
func NewTimeout() *MockEngine {
	return &MockEngine{
		Name_: "mock-timeout",
		ApplyFunc: func(ctx context.Context, _ models.EngineRequest) (models.EngineResult, error) {
			<-ctx.Done()
			return models.EngineResult{TimedOut: true, ExitCode: -1}, nil
		},
	}
}

// Compile-time check that MockEngine implements models.Engine.
var _ models.Engine = (*MockEngine)(nil)
