// Package hosting talks to the GitHub REST API for the three operations the
// change pipeline needs: workflow-run queries, combined commit status, and
// pull-request creation.
package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors for hosting API failures.
var (
	ErrUnreachable = errors.New("hosting api unreachable")
	ErrNotFound    = errors.New("hosting resource not found")
	ErrAPIError    = errors.New("hosting api error")
	ErrTimeout     = errors.New("hosting api timeout")
)

// WorkflowRun is one CI workflow run on a branch.
type WorkflowRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Branch     string `json:"head_branch"`
	HTMLURL    string `json:"html_url"`
	RunAttempt int    `json:"run_attempt"`
}

// CombinedStatus is the aggregated commit status for a ref.
// State is one of pending, success, failure, error; TotalCount is the number
// of configured status checks (zero means no CI reports on this ref).
type CombinedStatus struct {
	State      string `json:"state"`
	TotalCount int    `json:"total_count"`
}

// NewPullRequest is the payload for creating a pull request.
type NewPullRequest struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body"`
}

// PullRequest is a created pull request.
type PullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
	Title   string `json:"title"`
}

// Client is the interface for the hosting provider's REST API.
type Client interface {
	ListWorkflowRuns(ctx context.Context, owner, repo, branch, status string) ([]WorkflowRun, error)
	GetCombinedStatus(ctx context.Context, owner, repo, ref string) (CombinedStatus, error)
	CreatePullRequest(ctx context.Context, owner, repo string, pr NewPullRequest) (*PullRequest, error)
	// WithToken returns a client scoped to a repository-specific credential.
	WithToken(token string) Client
}

// HTTPClient implements Client against the GitHub REST API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a GitHub API client. The token may be empty for
// unauthenticated reads against public repositories.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// WithToken returns a copy of the client using a different token. Used when a
// repository carries its own credential.
func (c *HTTPClient) WithToken(token string) Client {
	return &HTTPClient{baseURL: c.baseURL, token: token, client: c.client}
}

func (c *HTTPClient) ListWorkflowRuns(ctx context.Context, owner, repo, branch, status string) ([]WorkflowRun, error) {
	params := url.Values{}
	if branch != "" {
		params.Set("branch", branch)
	}
	if status != "" {
		params.Set("status", status)
	}
	u := fmt.Sprintf("%s/repos/%s/%s/actions/runs", c.baseURL, owner, repo)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var runsResp workflowRunsResponse
	if err := c.getJSON(ctx, u, &runsResp); err != nil {
		return nil, err
	}
	return runsResp.WorkflowRuns, nil
}

func (c *HTTPClient) GetCombinedStatus(ctx context.Context, owner, repo, ref string) (CombinedStatus, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/commits/%s/status", c.baseURL, owner, repo, url.PathEscape(ref))

	var status CombinedStatus
	if err := c.getJSON(ctx, u, &status); err != nil {
		return CombinedStatus{}, err
	}
	return status, nil
}

func (c *HTTPClient) CreatePullRequest(ctx context.Context, owner, repo string, pr NewPullRequest) (*PullRequest, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/pulls", c.baseURL, owner, repo)

	body, err := json.Marshal(pr)
	if err != nil {
		return nil, fmt.Errorf("encoding pull request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusCreated {
		var apiErr apiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Message != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrAPIError, resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
	}

	var created PullRequest
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decoding pull request response: %w", err)
	}
	return &created, nil
}

// getJSON performs an authenticated GET and decodes a JSON response.
func (c *HTTPClient) getJSON(ctx context.Context, u string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// ParseRepoURL extracts owner and repo from a remote URL of the shape
// https://host/{owner}/{repo}[.git].
func ParseRepoURL(rawURL string) (owner, repo string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parsing repository url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository url %q: expected https://host/{owner}/{repo}", rawURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// --- GitHub response types ---

type workflowRunsResponse struct {
	TotalCount   int           `json:"total_count"`
	WorkflowRuns []WorkflowRun `json:"workflow_runs"`
}

type apiErrorResponse struct {
	Message string `json:"message"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
