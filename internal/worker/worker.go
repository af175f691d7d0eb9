// Package worker is the scheduling loop: it polls the job store and runs the
// next pending job per repository through the change executor. Repositories
// are processed strictly sequentially within a cycle; mutual exclusion per
// repository relies on the store's one-running-job invariant, so a single
// worker process is assumed.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patchpilot/patchpilot/internal/cache"
	"github.com/patchpilot/patchpilot/internal/executor"
	"github.com/patchpilot/patchpilot/internal/store"
	"github.com/patchpilot/patchpilot/pkg/models"
)

// jobStatusTTL bounds how long a mirrored job status lives in the cache.
const jobStatusTTL = time.Hour

// vulnTagRe matches the metadata tag linking a job to a vulnerability fix
// request. The tag is stripped before the instructions reach the engine.
var vulnTagRe = regexp.MustCompile(`\s*\[vuln:([0-9a-fA-F-]{36})\]\s*`)

// ChangeRunner runs one change cycle for a repository.
type ChangeRunner interface {
	Execute(ctx context.Context, repo *models.Repository, instructions string) (executor.ChangeResult, error)
}

// Worker is the scheduling loop.
type Worker struct {
	store    store.Store
	cache    cache.Cache
	runner   ChangeRunner
	interval time.Duration
}

// New creates a Worker.
func New(st store.Store, c cache.Cache, runner ChangeRunner, interval time.Duration) *Worker {
	return &Worker{store: st, cache: c, runner: runner, interval: interval}
}

// Run polls until the context is cancelled. Cycle-level errors are logged and
// the loop continues; it never exits on its own.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("worker started", "poll_interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped")
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

// runCycle visits every active repository once and runs at most one job per
// repository, synchronously.
func (w *Worker) runCycle(ctx context.Context) {
	repos, err := w.store.ListRepositories(ctx, true)
	if err != nil {
		slog.Error("listing repositories", "error", err)
		return
	}

	for _, repo := range repos {
		if ctx.Err() != nil {
			return
		}

		running, err := w.store.HasRunningJob(ctx, repo.ID)
		if err != nil {
			slog.Error("checking running job", "repo", repo.Name, "error", err)
			continue
		}
		if running {
			continue
		}

		job, err := w.store.GetNextPendingJob(ctx, repo.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			slog.Error("fetching next job", "repo", repo.Name, "error", err)
			continue
		}

		w.processJob(ctx, repo, job)
	}
}

// processJob runs a single job to a terminal status. A panic inside the
// change cycle fails the job instead of killing the loop.
func (w *Worker) processJob(ctx context.Context, repo *models.Repository, job *models.Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "job_id", job.ID, "panic", r)
			w.finishJob(ctx, job.ID, models.JobStatusFailed,
				store.WithErrorMessage(fmt.Sprintf("internal error: %v", r)))
		}
	}()

	instructions, vulnID := stripVulnTag(job.Instructions)

	slog.Info("job started", "job_id", job.ID, "repo", repo.Name)
	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning); err != nil {
		slog.Error("marking job running", "job_id", job.ID, "error", err)
		return
	}
	w.mirrorStatus(ctx, job.ID, models.JobStatusRunning)

	result, err := w.runner.Execute(ctx, repo, instructions)
	if err != nil {
		slog.Error("job failed", "job_id", job.ID, "repo", repo.Name, "error", err)
		w.finishJob(ctx, job.ID, models.JobStatusFailed, store.WithErrorMessage(err.Error()))
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		w.finishJob(ctx, job.ID, models.JobStatusFailed,
			store.WithErrorMessage(fmt.Sprintf("encoding result: %v", err)))
		return
	}

	// A change cycle that ran to a decision is a completed job even when a
	// stage inside it failed; the stage outcome lives in the result payload.
	// Failed is reserved for orchestration errors and panics.
	if !result.Success {
		slog.Warn("job completed with stage failure", "job_id", job.ID, "repo", repo.Name, "error", result.Error)
		w.finishJob(ctx, job.ID, models.JobStatusCompleted,
			store.WithResult(string(payload)), store.WithErrorMessage(result.Error))
		return
	}

	slog.Info("job completed", "job_id", job.ID, "repo", repo.Name, "branch", result.Branch)
	w.finishJob(ctx, job.ID, models.JobStatusCompleted, store.WithResult(string(payload)))

	if vulnID != uuid.Nil {
		if err := w.store.UpdateVulnerabilityStatus(ctx, vulnID, models.VulnStatusResolved); err != nil {
			slog.Error("resolving vulnerability", "vuln_id", vulnID, "error", err)
		}
	}
}

func (w *Worker) finishJob(ctx context.Context, jobID uuid.UUID, status string, opts ...store.JobUpdateOption) {
	if err := w.store.UpdateJobStatus(ctx, jobID, status, opts...); err != nil {
		slog.Error("updating job status", "job_id", jobID, "status", status, "error", err)
		return
	}
	w.mirrorStatus(ctx, jobID, status)
}

func (w *Worker) mirrorStatus(ctx context.Context, jobID uuid.UUID, status string) {
	if w.cache == nil {
		return
	}
	if err := w.cache.SetJobStatus(ctx, jobID, status, jobStatusTTL); err != nil {
		slog.Warn("mirroring job status", "job_id", jobID, "error", err)
	}
}

// stripVulnTag removes the [vuln:<id>] tag from job instructions and returns
// the referenced vulnerability ID, or uuid.Nil when no tag is present.
func stripVulnTag(instructions string) (string, uuid.UUID) {
	m := vulnTagRe.FindStringSubmatch(instructions)
	if m == nil {
		return instructions, uuid.Nil
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return instructions, uuid.Nil
	}
	return strings.TrimSpace(vulnTagRe.ReplaceAllString(instructions, " ")), id
}
