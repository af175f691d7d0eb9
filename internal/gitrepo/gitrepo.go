// Package gitrepo wraps the git CLI for the repository-local operations the
// change pipeline needs: branch creation, remote reconciliation, authenticated
// pushes, and worktree isolation for scanning.
package gitrepo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Default commit identity, overridable via SetIdentity. Commits never rely
// on the host's global git config.
const (
	defaultAuthorName  = "patchpilot"
	defaultAuthorEmail = "patchpilot@localhost"
)

// Repo is a handle to a local git working copy.
type Repo struct {
	dir         string
	authorName  string
	authorEmail string
}

// Open returns a Repo for the given working-copy directory. The directory
// must exist; it is not required to be a git repository yet.
func Open(dir string) (*Repo, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("repository path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository path %s is not a directory", dir)
	}
	return &Repo{dir: dir, authorName: defaultAuthorName, authorEmail: defaultAuthorEmail}, nil
}

// SetIdentity overrides the author and committer identity used for commits.
// Empty values keep the current identity.
func (r *Repo) SetIdentity(name, email string) {
	if name != "" {
		r.authorName = name
	}
	if email != "" {
		r.authorEmail = email
	}
}

// Dir returns the working-copy directory.
func (r *Repo) Dir() string {
	return r.dir
}

// run executes a git subcommand in the repository directory and returns
// trimmed stdout. On a non-zero exit the error carries the captured stderr.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME="+r.authorName,
		"GIT_AUTHOR_EMAIL="+r.authorEmail,
		"GIT_COMMITTER_NAME="+r.authorName,
		"GIT_COMMITTER_EMAIL="+r.authorEmail,
	)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return strings.TrimSpace(stdout.String()), fmt.Errorf("git %s: %s", args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CurrentBranch returns the name of the checked-out branch.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return out, nil
}

// HasCommits reports whether the repository has at least one commit.
func (r *Repo) HasCommits(ctx context.Context) bool {
	_, err := r.run(ctx, "rev-parse", "--verify", "HEAD")
	return err == nil
}

// EnsureInitialCommit creates a placeholder first commit when the repository
// has no history, so branch operations have a valid base. It initializes the
// repository if needed.
func (r *Repo) EnsureInitialCommit(ctx context.Context) error {
	if _, err := r.run(ctx, "rev-parse", "--git-dir"); err != nil {
		if _, err := r.run(ctx, "init"); err != nil {
			return err
		}
	}
	if r.HasCommits(ctx) {
		return nil
	}

	readme := filepath.Join(r.dir, "README.md")
	if _, err := os.Stat(readme); os.IsNotExist(err) {
		content := "# Repository\n\nInitialized automatically.\n"
		if err := os.WriteFile(readme, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write placeholder: %w", err)
		}
	}
	if _, err := r.run(ctx, "add", "-A"); err != nil {
		return err
	}
	if _, err := r.run(ctx, "commit", "-m", "Initial commit"); err != nil {
		return err
	}
	return nil
}

// CreateBranch creates and checks out a new branch.
func (r *Repo) CreateBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "checkout", "-b", name)
	return err
}

// Checkout switches to an existing branch.
func (r *Repo) Checkout(ctx context.Context, name string) error {
	_, err := r.run(ctx, "checkout", name)
	return err
}

// CommitAll stages everything and commits with the given message.
func (r *Repo) CommitAll(ctx context.Context, message string) error {
	if _, err := r.run(ctx, "add", "-A"); err != nil {
		return err
	}
	_, err := r.run(ctx, "commit", "-m", message)
	return err
}

// RemoteURL returns the URL of the origin remote, or "" when none is set.
func (r *Repo) RemoteURL(ctx context.Context) string {
	out, err := r.run(ctx, "remote", "get-url", "origin")
	if err != nil {
		return ""
	}
	return out
}

// EnsureRemoteOrigin sets origin to the expected URL. Idempotent: a matching
// remote is left alone, a mismatched one is rewritten, a missing one is added.
func (r *Repo) EnsureRemoteOrigin(ctx context.Context, url string) error {
	current := r.RemoteURL(ctx)
	switch {
	case current == url:
		return nil
	case current != "":
		_, err := r.run(ctx, "remote", "set-url", "origin", url)
		return err
	default:
		_, err := r.run(ctx, "remote", "add", "origin", url)
		return err
	}
}

// PushResult is the structured outcome of a push attempt.
type PushResult struct {
	Success        bool   `json:"success"`
	PushedToOrigin bool   `json:"pushed_to_origin"`
	Stdout         string `json:"stdout,omitempty"`
	Stderr         string `json:"stderr,omitempty"`
	ExitCode       int    `json:"exit_code"`
	Error          string `json:"error,omitempty"`
}

// Push pushes a branch to origin with upstream tracking. When a token is
// supplied, origin is temporarily rewritten to an authenticated URL for the
// duration of the push; the original URL is restored unconditionally so the
// credential never persists in repository configuration.
func (r *Repo) Push(ctx context.Context, branch, token string) PushResult {
	originalURL := r.RemoteURL(ctx)
	if originalURL == "" {
		return PushResult{Error: "no origin remote configured"}
	}

	if token != "" && strings.HasPrefix(originalURL, "https://") {
		authURL := authenticatedURL(originalURL, token)
		if _, err := r.run(ctx, "remote", "set-url", "origin", authURL); err != nil {
			return PushResult{Error: err.Error()}
		}
		defer func() {
			if _, err := r.run(context.WithoutCancel(ctx), "remote", "set-url", "origin", originalURL); err != nil {
				slog.Warn("restoring origin url after push", "error", err)
			}
		}()
	}

	cmd := exec.CommandContext(ctx, "git", "push", "-u", "origin", branch)
	cmd.Dir = r.dir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := PushResult{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	if err != nil {
		if cmd.ProcessState != nil {
			result.ExitCode = cmd.ProcessState.ExitCode()
		}
		result.Error = result.Stderr
		if result.Error == "" {
			result.Error = err.Error()
		}
		return result
	}
	result.Success = true
	result.PushedToOrigin = true
	return result
}

// authenticatedURL embeds a token into an https remote URL.
func authenticatedURL(remoteURL, token string) string {
	return "https://" + token + "@" + strings.TrimPrefix(remoteURL, "https://")
}

// AddWorktree checks out a branch tip into a detached worktree at path.
func (r *Repo) AddWorktree(ctx context.Context, path, branch string) error {
	_, err := r.run(ctx, "worktree", "add", "--detach", path, branch)
	return err
}

// RemoveWorktree removes a worktree, discarding any stray modifications.
func (r *Repo) RemoveWorktree(ctx context.Context, path string) error {
	_, err := r.run(ctx, "worktree", "remove", "--force", path)
	return err
}

// Fetch updates remote-tracking refs from origin.
func (r *Repo) Fetch(ctx context.Context) error {
	_, err := r.run(ctx, "fetch", "origin")
	return err
}

// RemoteBranches lists remote branch names with the origin/ prefix stripped.
// The symbolic HEAD pointer line is skipped.
func (r *Repo) RemoteBranches(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "branch", "-r")
	if err != nil {
		return nil, err
	}

	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "->") {
			continue
		}
		branches = append(branches, strings.TrimPrefix(line, "origin/"))
	}
	return branches, nil
}
