// Package publisher creates pull requests for pushed change branches.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patchpilot/patchpilot/internal/hosting"
	"github.com/patchpilot/patchpilot/pkg/models"
	"github.com/patchpilot/patchpilot/pkg/slug"
)

// ErrTokenRequired is returned when the repository has no access token;
// publishing is not attempted without one.
var ErrTokenRequired = errors.New("repository has no access token")

// PRResult is the structured outcome of a publish attempt.
type PRResult struct {
	Success bool   `json:"success"`
	Number  int    `json:"number,omitempty"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// Publisher opens pull requests via the hosting API.
type Publisher struct {
	client hosting.Client
}

// New creates a Publisher.
func New(client hosting.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish opens a pull request from branch into the repository's base branch.
// It is not idempotent: publishing the same branch twice surfaces the hosting
// API's duplicate error rather than deduplicating.
func (p *Publisher) Publish(ctx context.Context, repo *models.Repository, branch, instructions string) (PRResult, error) {
	if repo.Token() == "" {
		return PRResult{Error: ErrTokenRequired.Error()}, ErrTokenRequired
	}

	owner, name, err := hosting.ParseRepoURL(repo.GitHubURL)
	if err != nil {
		return PRResult{Error: err.Error()}, err
	}

	title := slug.Title(instructions)
	body := fmt.Sprintf(
		"## Automated change\n\n%s\n\n---\nBranch: `%s`\nCreated: %s\n",
		instructions, branch, time.Now().UTC().Format(time.RFC3339))

	pr, err := p.client.WithToken(repo.Token()).CreatePullRequest(ctx, owner, name, hosting.NewPullRequest{
		Title: title,
		Head:  branch,
		Base:  repo.Branch,
		Body:  body,
	})
	if err != nil {
		result := PRResult{Title: title, Error: err.Error()}
		if errors.Is(err, hosting.ErrNotFound) {
			result.Details = "branch or repository not found, token lacks scope, or repository is private"
		}
		slog.Error("pull request creation failed",
			"repo", repo.Name, "branch", branch, "error", err)
		return result, nil
	}

	slog.Info("pull request created",
		"repo", repo.Name, "branch", branch, "number", pr.Number, "url", pr.HTMLURL)
	return PRResult{
		Success: true,
		Number:  pr.Number,
		URL:     pr.HTMLURL,
		Title:   title,
	}, nil
}
