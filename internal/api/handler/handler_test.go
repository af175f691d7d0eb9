package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/patchpilot/patchpilot/internal/cache"
	"github.com/patchpilot/patchpilot/internal/scanner"
	"github.com/patchpilot/patchpilot/internal/store"
	"github.com/patchpilot/patchpilot/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// fakeStore backs every handler interface in this package.
type fakeStore struct {
	repos map[uuid.UUID]*models.Repository
	jobs  map[uuid.UUID]*models.Job
	vulns map[uuid.UUID]*models.Vulnerability
	keys  map[uuid.UUID]*models.APIKey

	createRepoErr error
	lastFilter    store.VulnFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		repos: map[uuid.UUID]*models.Repository{},
		jobs:  map[uuid.UUID]*models.Job{},
		vulns: map[uuid.UUID]*models.Vulnerability{},
		keys:  map[uuid.UUID]*models.APIKey{},
	}
}

func (f *fakeStore) CreateRepository(_ context.Context, repo *models.Repository) error {
	if f.createRepoErr != nil {
		return f.createRepoErr
	}
	f.repos[repo.ID] = repo
	return nil
}

func (f *fakeStore) GetRepository(_ context.Context, id uuid.UUID) (*models.Repository, error) {
	repo, ok := f.repos[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return repo, nil
}

func (f *fakeStore) ListRepositories(_ context.Context, activeOnly bool) ([]*models.Repository, error) {
	var out []*models.Repository
	for _, repo := range f.repos {
		if activeOnly && !repo.IsActive {
			continue
		}
		out = append(out, repo)
	}
	return out, nil
}

func (f *fakeStore) UpdateRepository(_ context.Context, repo *models.Repository) error {
	if _, ok := f.repos[repo.ID]; !ok {
		return store.ErrNotFound
	}
	f.repos[repo.ID] = repo
	return nil
}

func (f *fakeStore) DeleteRepository(_ context.Context, id uuid.UUID) error {
	if _, ok := f.repos[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.repos, id)
	return nil
}

func (f *fakeStore) CreateJob(_ context.Context, job *models.Job) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return job, nil
}

func (f *fakeStore) ListJobs(_ context.Context, repoID uuid.UUID, limit int) ([]*models.Job, error) {
	var out []*models.Job
	for _, job := range f.jobs {
		if job.RepoID == repoID && len(out) < limit {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *fakeStore) GetVulnerability(_ context.Context, id uuid.UUID) (*models.Vulnerability, error) {
	v, ok := f.vulns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) GetVulnerabilities(_ context.Context, repoID uuid.UUID, filter store.VulnFilter) ([]*models.Vulnerability, error) {
	f.lastFilter = filter
	var out []*models.Vulnerability
	for _, v := range f.vulns {
		if v.RepoID != repoID {
			continue
		}
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if filter.Branch != "" && v.Branch != filter.Branch {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeStore) UpdateVulnerabilityStatus(_ context.Context, id uuid.UUID, status string) error {
	v, ok := f.vulns[id]
	if !ok {
		return store.ErrNotFound
	}
	v.Status = status
	return nil
}

func (f *fakeStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	f.keys[key.ID] = key
	return nil
}

func (f *fakeStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	var out []*models.APIKey
	for _, k := range f.keys {
		out = append(out, k)
	}
	return out, nil
}

func (f *fakeStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	if _, ok := f.keys[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.keys, id)
	return nil
}

// fakeCache mirrors job statuses and raw entries in memory.
type fakeCache struct {
	statuses map[uuid.UUID]string
	entries  map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{statuses: map[uuid.UUID]string{}, entries: map[string][]byte{}}
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.entries[key] = value
	return nil
}
func (f *fakeCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (f *fakeCache) Delete(_ context.Context, _ string) error                         { return nil }
func (f *fakeCache) Ping(_ context.Context) error                                     { return nil }
func (f *fakeCache) SetJobStatus(_ context.Context, id uuid.UUID, status string, _ time.Duration) error {
	f.statuses[id] = status
	return nil
}
func (f *fakeCache) GetJobStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	s, ok := f.statuses[id]
	return s, ok, nil
}
func (f *fakeCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

type fakeScanner struct {
	branches []string
	err      error
}

func (f *fakeScanner) ScanBranch(_ context.Context, _ *models.Repository, branch string) (scanner.ScanReport, error) {
	if f.err != nil {
		return scanner.ScanReport{}, f.err
	}
	f.branches = append(f.branches, branch)
	return scanner.ScanReport{Branch: branch, Findings: 2, New: 1}, nil
}

func (f *fakeScanner) ScanAllBranches(_ context.Context, _ *models.Repository) ([]scanner.ScanReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.branches = append(f.branches, "main", "develop")
	return []scanner.ScanReport{{Branch: "main"}, {Branch: "develop"}}, nil
}

// --- helpers ---

func jsonReq(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

func withURLParam(r *http.Request, name, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(name, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Error.Code
}

func seedRepo(f *fakeStore) *models.Repository {
	repo := &models.Repository{
		ID:        uuid.New(),
		Name:      "web-app",
		Owner:     "acme",
		GitHubURL: "https://github.com/acme/web-app",
		Branch:    "main",
		LocalPath: "/tmp/acme/web-app",
		IsActive:  true,
	}
	f.repos[repo.ID] = repo
	return repo
}

// --- health ---

type okPinger struct{}

func (okPinger) Ping(_ context.Context) error { return nil }

type failingPinger struct{}

func (failingPinger) Ping(_ context.Context) error { return errors.New("down") }

func TestHealth_OK(t *testing.T) {
	h := NewHealthHandler(okPinger{}, newFakeCache())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealth_Degraded(t *testing.T) {
	h := NewHealthHandler(failingPinger{}, newFakeCache())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if code := errCode(t, rec); code != "DEGRADED" {
		t.Errorf("expected DEGRADED, got %q", code)
	}
}

// --- repositories ---

func TestCreateRepository_DerivesDefaults(t *testing.T) {
	fs := newFakeStore()
	h := NewCreateRepositoryHandler(fs, "/srv/repos")

	req := jsonReq(t, http.MethodPost, "/api/v1/repositories", map[string]any{
		"name":       "web-app",
		"owner":      "acme",
		"github_url": "https://github.com/acme/web-app",
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["branch"] != "main" {
		t.Errorf("expected default branch main, got %v", data["branch"])
	}
	if data["local_path"] != "/srv/repos/acme/web-app" {
		t.Errorf("unexpected local_path: %v", data["local_path"])
	}
	if data["is_active"] != true {
		t.Errorf("expected new repository to be active")
	}
}

func TestCreateRepository_RejectsBadURL(t *testing.T) {
	h := NewCreateRepositoryHandler(newFakeStore(), "/srv/repos")

	req := jsonReq(t, http.MethodPost, "/api/v1/repositories", map[string]any{
		"name":       "web-app",
		"owner":      "acme",
		"github_url": "not a url",
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateRepository_DuplicateURL(t *testing.T) {
	fs := newFakeStore()
	fs.createRepoErr = store.ErrDuplicateKey
	h := NewCreateRepositoryHandler(fs, "/srv/repos")

	req := jsonReq(t, http.MethodPost, "/api/v1/repositories", map[string]any{
		"name":       "web-app",
		"owner":      "acme",
		"github_url": "https://github.com/acme/web-app",
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if code := errCode(t, rec); code != "CONFLICT" {
		t.Errorf("expected CONFLICT, got %q", code)
	}
}

func TestGetRepository_BadID(t *testing.T) {
	h := NewGetRepositoryHandler(newFakeStore())

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/repositories/nope", nil), "repoID", "nope")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetRepository_NotFound(t *testing.T) {
	h := NewGetRepositoryHandler(newFakeStore())

	id := uuid.New().String()
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/repositories/"+id, nil), "repoID", id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUpdateRepository_PartialPatch(t *testing.T) {
	fs := newFakeStore()
	repo := seedRepo(fs)
	h := NewUpdateRepositoryHandler(fs)

	req := withURLParam(jsonReq(t, http.MethodPatch, "/", map[string]any{
		"is_active": false,
	}), "repoID", repo.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := fs.repos[repo.ID]
	if updated.IsActive {
		t.Errorf("expected repository deactivated")
	}
	if updated.Branch != "main" {
		t.Errorf("branch must be untouched by a partial patch, got %q", updated.Branch)
	}
}

func TestUpdateRepository_EmptyBranchRejected(t *testing.T) {
	fs := newFakeStore()
	repo := seedRepo(fs)
	h := NewUpdateRepositoryHandler(fs)

	req := withURLParam(jsonReq(t, http.MethodPatch, "/", map[string]any{
		"branch": "",
	}), "repoID", repo.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteRepository(t *testing.T) {
	fs := newFakeStore()
	repo := seedRepo(fs)
	h := NewDeleteRepositoryHandler(fs)

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/", nil), "repoID", repo.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(fs.repos) != 0 {
		t.Errorf("expected repository to be removed")
	}
}

// --- jobs ---

func TestCreateJob_Queued(t *testing.T) {
	fs := newFakeStore()
	fc := newFakeCache()
	repo := seedRepo(fs)
	h := NewCreateJobHandler(fs, fc)

	req := withURLParam(jsonReq(t, http.MethodPost, "/", map[string]any{
		"instructions": "add input validation to the login form",
	}), "repoID", repo.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["status"] != models.JobStatusPending {
		t.Errorf("expected pending job, got %v", data["status"])
	}
	if len(fs.jobs) != 1 {
		t.Fatalf("expected 1 stored job, got %d", len(fs.jobs))
	}
	for id := range fs.jobs {
		if fc.statuses[id] != models.JobStatusPending {
			t.Errorf("expected cached status mirror for %s", id)
		}
	}
}

func TestCreateJob_MissingInstructions(t *testing.T) {
	fs := newFakeStore()
	repo := seedRepo(fs)
	h := NewCreateJobHandler(fs, newFakeCache())

	req := withURLParam(jsonReq(t, http.MethodPost, "/", map[string]any{}), "repoID", repo.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateJob_InactiveRepo(t *testing.T) {
	fs := newFakeStore()
	repo := seedRepo(fs)
	repo.IsActive = false
	h := NewCreateJobHandler(fs, newFakeCache())

	req := withURLParam(jsonReq(t, http.MethodPost, "/", map[string]any{
		"instructions": "anything",
	}), "repoID", repo.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCreateJob_RepoNotFound(t *testing.T) {
	h := NewCreateJobHandler(newFakeStore(), newFakeCache())

	req := withURLParam(jsonReq(t, http.MethodPost, "/", map[string]any{
		"instructions": "anything",
	}), "repoID", uuid.New().String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetJob_CacheOverridesStatus(t *testing.T) {
	fs := newFakeStore()
	fc := newFakeCache()
	repo := seedRepo(fs)
	job := &models.Job{ID: uuid.New(), RepoID: repo.ID, Instructions: "x", Status: models.JobStatusPending}
	fs.jobs[job.ID] = job
	fc.statuses[job.ID] = models.JobStatusRunning

	h := NewGetJobHandler(fs, fc)
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "jobID", job.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if data := decodeData(t, rec); data["status"] != models.JobStatusRunning {
		t.Errorf("expected cached running status, got %v", data["status"])
	}
}

func TestListJobs_RejectsBadLimit(t *testing.T) {
	fs := newFakeStore()
	repo := seedRepo(fs)
	h := NewListJobsHandler(fs)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/?limit=-3", nil), "repoID", repo.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// --- scans ---

func TestScan_DefaultBranch(t *testing.T) {
	fs := newFakeStore()
	repo := seedRepo(fs)
	sc := &fakeScanner{}
	fc := newFakeCache()
	h := NewScanHandler(fs, sc, fc)

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/", nil), "repoID", repo.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(sc.branches) != 1 || sc.branches[0] != "main" {
		t.Errorf("expected scan of main, got %v", sc.branches)
	}
	if _, ok := fc.entries[cache.ScanReportKey(repo.ID, "main")]; !ok {
		t.Errorf("expected scan report cached for main")
	}
}

func TestScan_AllBranches(t *testing.T) {
	fs := newFakeStore()
	repo := seedRepo(fs)
	sc := &fakeScanner{}
	h := NewScanHandler(fs, sc, newFakeCache())

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/?all_branches=true", nil), "repoID", repo.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(sc.branches) != 2 {
		t.Errorf("expected all branches scanned, got %v", sc.branches)
	}
}

func TestScan_FailureIsBadGateway(t *testing.T) {
	fs := newFakeStore()
	repo := seedRepo(fs)
	h := NewScanHandler(fs, &fakeScanner{err: errors.New("worktree add failed")}, newFakeCache())

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/", nil), "repoID", repo.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

// --- vulnerabilities ---

func seedVuln(f *fakeStore, repoID uuid.UUID, status string) *models.Vulnerability {
	v := &models.Vulnerability{
		ID:          uuid.New(),
		RepoID:      repoID,
		FilePath:    "src/config.py",
		LineNumber:  12,
		Severity:    models.SeverityCritical,
		Description: "Potential hardcoded secret or API key",
		PatternID:   "hardcoded_secret",
		Branch:      "main",
		Status:      status,
		Match:       `api_key = "abc123def456"`,
	}
	f.vulns[v.ID] = v
	return v
}

func TestListVulnerabilities_InvalidStatus(t *testing.T) {
	fs := newFakeStore()
	repo := seedRepo(fs)
	h := NewListVulnerabilitiesHandler(fs)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/?status=bogus", nil), "repoID", repo.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListVulnerabilities_PassesFilter(t *testing.T) {
	fs := newFakeStore()
	repo := seedRepo(fs)
	seedVuln(fs, repo.ID, models.VulnStatusOpen)
	h := NewListVulnerabilitiesHandler(fs)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/?status=open&branch=main", nil), "repoID", repo.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fs.lastFilter.Status != "open" || fs.lastFilter.Branch != "main" {
		t.Errorf("filter not forwarded: %+v", fs.lastFilter)
	}
}

func TestFixVulnerability_QueuesTaggedJob(t *testing.T) {
	fs := newFakeStore()
	repo := seedRepo(fs)
	vuln := seedVuln(fs, repo.ID, models.VulnStatusOpen)
	h := NewFixVulnerabilityHandler(fs)

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/", nil), "vulnID", vuln.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if vuln.Status != models.VulnStatusInProgress {
		t.Errorf("expected vulnerability marked in_progress, got %s", vuln.Status)
	}
	if len(fs.jobs) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(fs.jobs))
	}
	for _, job := range fs.jobs {
		if !strings.Contains(job.Instructions, "[vuln:"+vuln.ID.String()+"]") {
			t.Errorf("expected tagged instructions, got %q", job.Instructions)
		}
		if !strings.Contains(job.Instructions, "src/config.py") {
			t.Errorf("expected file path in instructions, got %q", job.Instructions)
		}
	}
}

func TestFixVulnerability_ClosedIsConflict(t *testing.T) {
	fs := newFakeStore()
	repo := seedRepo(fs)
	vuln := seedVuln(fs, repo.ID, models.VulnStatusResolved)
	h := NewFixVulnerabilityHandler(fs)

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/", nil), "vulnID", vuln.ID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if len(fs.jobs) != 0 {
		t.Errorf("expected no job for closed vulnerability")
	}
}

// --- API keys ---

func TestCreateKey_ReturnsRawKeyOnce(t *testing.T) {
	fs := newFakeStore()
	h := NewCreateKeyHandler(fs)

	req := jsonReq(t, http.MethodPost, "/api/v1/admin/keys", map[string]any{
		"name":   "ci",
		"scopes": []string{"read", "admin"},
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	rawKey, _ := data["key"].(string)
	if !strings.HasPrefix(rawKey, "pp_") {
		t.Fatalf("expected pp_ key, got %q", rawKey)
	}
	if data["key_prefix"] != rawKey[:keyPrefixLen] {
		t.Errorf("prefix mismatch: %v vs %s", data["key_prefix"], rawKey[:keyPrefixLen])
	}

	if len(fs.keys) != 1 {
		t.Fatalf("expected 1 stored key, got %d", len(fs.keys))
	}
	for _, key := range fs.keys {
		if key.KeyHash == rawKey {
			t.Errorf("raw key must not be stored")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)); err != nil {
			t.Errorf("stored hash does not match raw key: %v", err)
		}
	}
}

func TestCreateKey_RejectsUnknownScope(t *testing.T) {
	h := NewCreateKeyHandler(newFakeStore())

	req := jsonReq(t, http.MethodPost, "/api/v1/admin/keys", map[string]any{
		"name":   "ci",
		"scopes": []string{"superuser"},
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRevokeKey_NotFound(t *testing.T) {
	h := NewRevokeKeyHandler(newFakeStore())

	id := uuid.New().String()
	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/", nil), "keyID", id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
