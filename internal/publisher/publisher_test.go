package publisher_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/patchpilot/patchpilot/internal/hosting"
	"github.com/patchpilot/patchpilot/internal/publisher"
	"github.com/patchpilot/patchpilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	createPR func(owner, repo string, pr hosting.NewPullRequest) (*hosting.PullRequest, error)
	token    string
}

func (f *fakeClient) WithToken(token string) hosting.Client {
	f.token = token
	return f
}

func (f *fakeClient) ListWorkflowRuns(_ context.Context, _, _, _, _ string) ([]hosting.WorkflowRun, error) {
	return nil, nil
}

func (f *fakeClient) GetCombinedStatus(_ context.Context, _, _, _ string) (hosting.CombinedStatus, error) {
	return hosting.CombinedStatus{}, nil
}

func (f *fakeClient) CreatePullRequest(_ context.Context, owner, repo string, pr hosting.NewPullRequest) (*hosting.PullRequest, error) {
	return f.createPR(owner, repo, pr)
}

func testRepo(token string) *models.Repository {
	var tok *string
	if token != "" {
		tok = &token
	}
	return &models.Repository{
		ID:          uuid.New(),
		Name:        "web-app",
		Owner:       "acme",
		GitHubURL:   "https://github.com/acme/web-app",
		Branch:      "main",
		GitHubToken: tok,
		LocalPath:   "/srv/repos/web-app",
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
}

func TestPublish_Success(t *testing.T) {
	client := &fakeClient{
		createPR: func(owner, repo string, pr hosting.NewPullRequest) (*hosting.PullRequest, error) {
			assert.Equal(t, "acme", owner)
			assert.Equal(t, "web-app", repo)
			assert.Equal(t, "feature/add-validation-1717243200", pr.Head)
			assert.Equal(t, "main", pr.Base)
			assert.Contains(t, pr.Body, "Add input validation to login endpoint")
			assert.Contains(t, pr.Body, "feature/add-validation-1717243200")
			return &hosting.PullRequest{Number: 12, HTMLURL: "https://github.com/acme/web-app/pull/12", Title: pr.Title}, nil
		},
	}
	p := publisher.New(client)

	result, err := p.Publish(context.Background(), testRepo("ghp_token"),
		"feature/add-validation-1717243200", "Add input validation to login endpoint")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 12, result.Number)
	assert.Equal(t, "https://github.com/acme/web-app/pull/12", result.URL)
	assert.Equal(t, "Add validation", result.Title)
	assert.Equal(t, "ghp_token", client.token)
}

func TestPublish_TokenRequired(t *testing.T) {
	p := publisher.New(&fakeClient{})

	result, err := p.Publish(context.Background(), testRepo(""), "feature/x-1", "change")
	assert.ErrorIs(t, err, publisher.ErrTokenRequired)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestPublish_NotFoundIsAmbiguous(t *testing.T) {
	client := &fakeClient{
		createPR: func(_, _ string, _ hosting.NewPullRequest) (*hosting.PullRequest, error) {
			return nil, hosting.ErrNotFound
		},
	}
	p := publisher.New(client)

	result, err := p.Publish(context.Background(), testRepo("ghp_token"), "feature/x-1", "fix the thing")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Details, "token lacks scope")
	assert.Contains(t, result.Details, "private")
}

func TestPublish_APIErrorRecorded(t *testing.T) {
	client := &fakeClient{
		createPR: func(_, _ string, _ hosting.NewPullRequest) (*hosting.PullRequest, error) {
			return nil, hosting.ErrAPIError
		},
	}
	p := publisher.New(client)

	result, err := p.Publish(context.Background(), testRepo("ghp_token"), "feature/x-1", "fix the thing")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Empty(t, result.Details)
}

func TestPublish_BadRepoURL(t *testing.T) {
	repo := testRepo("ghp_token")
	repo.GitHubURL = "https://github.com/only-owner"
	p := publisher.New(&fakeClient{})

	result, err := p.Publish(context.Background(), repo, "feature/x-1", "change")
	assert.Error(t, err)
	assert.False(t, result.Success)
}
