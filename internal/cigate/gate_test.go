package cigate_test

import (
	"context"
	"testing"
	"time"

	"github.com/patchpilot/patchpilot/internal/cigate"
	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/hosting"
	"github.com/stretchr/testify/assert"
)

// fakeClient satisfies hosting.Client with injectable responses.
type fakeClient struct {
	listRuns  func(branch, status string) ([]hosting.WorkflowRun, error)
	getStatus func(ref string) (hosting.CombinedStatus, error)
}

func (f *fakeClient) ListWorkflowRuns(_ context.Context, _, _, branch, status string) ([]hosting.WorkflowRun, error) {
	return f.listRuns(branch, status)
}

func (f *fakeClient) GetCombinedStatus(_ context.Context, _, _, ref string) (hosting.CombinedStatus, error) {
	return f.getStatus(ref)
}

func (f *fakeClient) CreatePullRequest(_ context.Context, _, _ string, _ hosting.NewPullRequest) (*hosting.PullRequest, error) {
	return nil, nil
}

func (f *fakeClient) WithToken(_ string) hosting.Client { return f }

// fakeClock advances a simulated clock on every sleep, so waits that would
// take minutes run instantly.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

func testCIConfig() config.CIConfig {
	return config.CIConfig{
		WaitForCI:        true,
		StatusTimeout:    2 * time.Minute,
		StatusInterval:   10 * time.Second,
		WorkflowTimeout:  5 * time.Minute,
		WorkflowInterval: 15 * time.Second,
		MaxPendingPolls:  3,
	}
}

func newTestGate(client hosting.Client) (*cigate.Gate, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	return cigate.NewWithClock(client, testCIConfig(), clock.Now, clock.Sleep), clock
}

// --- CheckWorkflows ---

func TestCheckWorkflows_NotFoundIsSafe(t *testing.T) {
	client := &fakeClient{
		listRuns: func(_, _ string) ([]hosting.WorkflowRun, error) {
			return nil, hosting.ErrNotFound
		},
	}
	gate, _ := newTestGate(client)

	check := gate.CheckWorkflows(context.Background(), "acme", "web-app", "main")
	assert.True(t, check.SafeToProceed)
	assert.Equal(t, "no workflows configured", check.Reason)
	assert.Empty(t, check.Warning)
}

func TestCheckWorkflows_NoneInProgress(t *testing.T) {
	client := &fakeClient{
		listRuns: func(branch, status string) ([]hosting.WorkflowRun, error) {
			assert.Equal(t, "main", branch)
			assert.Equal(t, "in_progress", status)
			return nil, nil
		},
	}
	gate, _ := newTestGate(client)

	check := gate.CheckWorkflows(context.Background(), "acme", "web-app", "main")
	assert.True(t, check.SafeToProceed)
	assert.Equal(t, "no workflows in progress", check.Reason)
}

func TestCheckWorkflows_PollsUntilClear(t *testing.T) {
	calls := 0
	client := &fakeClient{
		listRuns: func(_, _ string) ([]hosting.WorkflowRun, error) {
			calls++
			if calls < 3 {
				return []hosting.WorkflowRun{{ID: 1, Status: "in_progress"}}, nil
			}
			return nil, nil
		},
	}
	gate, _ := newTestGate(client)

	check := gate.CheckWorkflows(context.Background(), "acme", "web-app", "main")
	assert.True(t, check.SafeToProceed)
	assert.Equal(t, 3, calls)
}

func TestCheckWorkflows_TimeoutProceedsWithWarning(t *testing.T) {
	client := &fakeClient{
		listRuns: func(_, _ string) ([]hosting.WorkflowRun, error) {
			return []hosting.WorkflowRun{{ID: 1, Status: "in_progress"}}, nil
		},
	}
	gate, clock := newTestGate(client)
	start := clock.Now()

	check := gate.CheckWorkflows(context.Background(), "acme", "web-app", "main")
	assert.True(t, check.SafeToProceed)
	assert.Equal(t, "workflow wait timed out", check.Reason)
	assert.NotEmpty(t, check.Warning)
	assert.GreaterOrEqual(t, clock.Now().Sub(start), testCIConfig().WorkflowTimeout)
}

func TestCheckWorkflows_APIErrorFailsOpen(t *testing.T) {
	client := &fakeClient{
		listRuns: func(_, _ string) ([]hosting.WorkflowRun, error) {
			return nil, hosting.ErrUnreachable
		},
	}
	gate, _ := newTestGate(client)

	check := gate.CheckWorkflows(context.Background(), "acme", "web-app", "main")
	assert.True(t, check.SafeToProceed)
	assert.Equal(t, "workflow status unavailable", check.Reason)
	assert.NotEmpty(t, check.Warning)
}

// --- WaitForStatus ---

func TestWaitForStatus_ZeroChecksSucceeds(t *testing.T) {
	client := &fakeClient{
		getStatus: func(_ string) (hosting.CombinedStatus, error) {
			return hosting.CombinedStatus{State: "pending", TotalCount: 0}, nil
		},
	}
	gate, _ := newTestGate(client)

	result := gate.WaitForStatus(context.Background(), "acme", "web-app", "feature/x-1")
	assert.True(t, result.Success)
	assert.Equal(t, cigate.StateSuccess, result.State)
	assert.Equal(t, "no status checks configured", result.Reason)
}

func TestWaitForStatus_Success(t *testing.T) {
	client := &fakeClient{
		getStatus: func(ref string) (hosting.CombinedStatus, error) {
			assert.Equal(t, "feature/x-1", ref)
			return hosting.CombinedStatus{State: "success", TotalCount: 2}, nil
		},
	}
	gate, _ := newTestGate(client)

	result := gate.WaitForStatus(context.Background(), "acme", "web-app", "feature/x-1")
	assert.True(t, result.Success)
	assert.Equal(t, cigate.StateSuccess, result.State)
}

func TestWaitForStatus_FailureIsTerminal(t *testing.T) {
	calls := 0
	client := &fakeClient{
		getStatus: func(_ string) (hosting.CombinedStatus, error) {
			calls++
			return hosting.CombinedStatus{State: "failure", TotalCount: 1}, nil
		},
	}
	gate, _ := newTestGate(client)

	result := gate.WaitForStatus(context.Background(), "acme", "web-app", "feature/x-1")
	assert.False(t, result.Success)
	assert.Equal(t, cigate.StateFailure, result.State)
	assert.Equal(t, 1, calls)
}

func TestWaitForStatus_PendingHeuristic(t *testing.T) {
	calls := 0
	client := &fakeClient{
		getStatus: func(_ string) (hosting.CombinedStatus, error) {
			calls++
			return hosting.CombinedStatus{State: "pending", TotalCount: 1}, nil
		},
	}
	gate, _ := newTestGate(client)

	// Three consecutive pending polls are read as CI that never reports.
	result := gate.WaitForStatus(context.Background(), "acme", "web-app", "feature/x-1")
	assert.True(t, result.Success)
	assert.Equal(t, "no CI configured", result.Reason)
	assert.Equal(t, 3, calls)
}

func TestWaitForStatus_PendingThenSuccess(t *testing.T) {
	calls := 0
	client := &fakeClient{
		getStatus: func(_ string) (hosting.CombinedStatus, error) {
			calls++
			if calls < 3 {
				return hosting.CombinedStatus{State: "pending", TotalCount: 1}, nil
			}
			return hosting.CombinedStatus{State: "success", TotalCount: 1}, nil
		},
	}
	gate, _ := newTestGate(client)

	result := gate.WaitForStatus(context.Background(), "acme", "web-app", "feature/x-1")
	assert.True(t, result.Success)
	assert.Equal(t, cigate.StateSuccess, result.State)
}

func TestWaitForStatus_DeadlineFails(t *testing.T) {
	client := &fakeClient{
		getStatus: func(_ string) (hosting.CombinedStatus, error) {
			return hosting.CombinedStatus{State: "pending", TotalCount: 1}, nil
		},
	}
	cfg := testCIConfig()
	cfg.MaxPendingPolls = 1000
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	gate := cigate.NewWithClock(client, cfg, clock.Now, clock.Sleep)

	result := gate.WaitForStatus(context.Background(), "acme", "web-app", "feature/x-1")
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "timed out")
}

func TestWaitForStatus_APIErrorFailsOpen(t *testing.T) {
	client := &fakeClient{
		getStatus: func(_ string) (hosting.CombinedStatus, error) {
			return hosting.CombinedStatus{}, hosting.ErrUnreachable
		},
	}
	gate, _ := newTestGate(client)

	result := gate.WaitForStatus(context.Background(), "acme", "web-app", "feature/x-1")
	assert.True(t, result.Success)
	assert.Equal(t, "no CI configured", result.Reason)
}
