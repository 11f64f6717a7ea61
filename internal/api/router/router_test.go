package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/dirsync/internal/account"
	"github.com/cuongbtq/dirsync/internal/api/dto"
	"github.com/cuongbtq/dirsync/internal/api/handler"
	"github.com/cuongbtq/dirsync/internal/dirsync"
	"github.com/cuongbtq/dirsync/internal/executor"
	"github.com/cuongbtq/dirsync/internal/job"
	"github.com/cuongbtq/dirsync/internal/reconcile"
)

type noop struct {
	job.RetryAlways

	Name string `json:"name"`
}

func (n *noop) Kind() string                                     { return "test.noop" }
func (n *noop) String() string                                   { return n.Name }
func (n *noop) Execute(context.Context, *job.Job) (bool, error) { return false, nil }

// fakeSync casts one noop job per call into the in-memory executor
type fakeSync struct {
	exec     *executor.Memory
	patterns []string
}

func (s *fakeSync) Trigger(ctx context.Context, tag string, patterns []string) (*job.Job, error) {
	s.patterns = patterns
	j := job.New(tag, &noop{Name: "reconcile " + strings.Join(patterns, ",")})
	return j, s.exec.Cast(ctx, j)
}

func (s *fakeSync) ScheduleDelete(ctx context.Context, tag, side, key string) (*job.Job, error) {
	j := job.New(tag, &noop{Name: "delete " + side + " " + key})
	return j, s.exec.Cast(ctx, j)
}

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*account.Account
	changed  []string
}

func (f *fakeAccounts) LoadByKey(_ context.Context, key string) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[key]
	if !ok {
		return nil, reconcile.ErrRecordNotFound
	}
	return a.Clone(), nil
}

func (f *fakeAccounts) Create(_ context.Context, a *account.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[a.Key()] = a
	f.changed = append(f.changed, a.Key())
	return nil
}

func (f *fakeAccounts) Update(ctx context.Context, a *account.Account) error {
	return f.Create(ctx, a)
}

type fixture struct {
	router   *gin.Engine
	exec     *executor.Memory
	sync     *fakeSync
	accounts *fakeAccounts
}

func newFixture(t *testing.T, checks map[string]handler.HealthCheck) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := executor.NewMemory(logger)
	f := &fixture{
		exec:     exec,
		sync:     &fakeSync{exec: exec},
		accounts: &fakeAccounts{accounts: map[string]*account.Account{}},
	}

	f.router = SetupRouter(&handler.Dependencies{
		Logger:         logger,
		ServiceName:    "dirsync-api",
		Sync:           f.sync,
		Jobs:           exec,
		Accounts:       f.accounts,
		DefaultFilters: []string{"@example\\.com$"},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "dirsync_jobs_total 0\n")
		}),
		HealthChecks: checks,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestTriggerReconciliation(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantStatus   int
		wantPatterns []string
	}{
		{name: "default filters", body: `{"tag":"batch-1"}`, wantStatus: http.StatusAccepted, wantPatterns: []string{"@example\\.com$"}},
		{name: "explicit filters", body: `{"tag":"batch-1","filters":["^a","^b"]}`, wantStatus: http.StatusAccepted, wantPatterns: []string{"^a", "^b"}},
		{name: "invalid filter", body: `{"filters":["(open"]}`, wantStatus: http.StatusBadRequest},
		{name: "malformed body", body: `{`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)

			w := f.do(t, http.MethodPost, "/api/v1/reconciliations", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusAccepted {
				return
			}

			var resp dto.ScheduledResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "batch-1", resp.Tag)
			assert.Equal(t, "IDLE", resp.Status)
			assert.Equal(t, tt.wantPatterns, f.sync.patterns)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestTriggerGeneratesTag(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/reconciliations", `{}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp dto.ScheduledResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.Tag, "sync-"), resp.Tag)
}

func TestScheduleDelete(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "directory side", body: `{"tag":"cleanup","side":"directory","key":"gone@example.com"}`, wantStatus: http.StatusAccepted},
		{name: "unknown side", body: `{"side":"ldap","key":"gone@example.com"}`, wantStatus: http.StatusBadRequest},
		{name: "missing key", body: `{"side":"account"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			w := f.do(t, http.MethodPost, "/api/v1/deletions", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestPutAccount(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPut, "/api/v1/accounts/Frank@Example.com", `{"username":"frank","attributes":{"title":"Engineer"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	frank, err := f.accounts.LoadByKey(context.Background(), "frank@example.com")
	require.NoError(t, err)
	assert.Equal(t, "frank", frank.Username)
	assert.True(t, frank.IsActive)
	assert.Equal(t, "Engineer", frank.Attributes["title"])

	w = f.do(t, http.MethodPut, "/api/v1/accounts/frank@example.com", `{"username":"frank","active":false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	frank, err = f.accounts.LoadByKey(context.Background(), "frank@example.com")
	require.NoError(t, err)
	assert.False(t, frank.IsActive)
	assert.Equal(t, "Engineer", frank.Attributes["title"], "attributes are kept when omitted")
	assert.Equal(t, []string{"frank@example.com", "frank@example.com"}, f.accounts.changed)

	w = f.do(t, http.MethodPut, "/api/v1/accounts/not-an-email", `{"username":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/api/v1/accounts/x@example.com", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		j := job.New("batch", &noop{Name: fmt.Sprintf("job %d", i)})
		require.NoError(t, f.exec.Cast(ctx, j))
		ids = append(ids, j.ID())
		time.Sleep(time.Millisecond)
	}
	_, err := job.Drain(ctx, f.exec, "batch")
	require.NoError(t, err)

	t.Run("progress", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/tags/batch/progress", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"tag":"batch","total":3,"finished":3,"failed":0,"done":3,"ratio":1}`, w.Body.String())
	})

	t.Run("paginated listing", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/tags/batch/jobs?page_size=2", "")
		require.Equal(t, http.StatusOK, w.Code)

		var page dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		require.Len(t, page.Jobs, 2)
		assert.Equal(t, ids[2], page.Jobs[0].ID)
		require.NotEmpty(t, page.NextCursor)

		w = f.do(t, http.MethodGet, "/api/v1/tags/batch/jobs?page_size=2&cursor="+page.NextCursor, "")
		require.Equal(t, http.StatusOK, w.Code)

		page = dto.ListJobsResponse{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		require.Len(t, page.Jobs, 1)
		assert.Equal(t, ids[0], page.Jobs[0].ID)
		assert.Empty(t, page.NextCursor)
	})

	t.Run("invalid listing query", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/tags/batch/jobs?status=DONE", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = f.do(t, http.MethodGet, "/api/v1/tags/batch/jobs?cursor=%25%25", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("job detail", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/jobs/"+ids[1], "")
		require.Equal(t, http.StatusOK, w.Code)

		var detail dto.JobDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
		assert.Equal(t, job.StatusFinished, detail.Status)
		assert.Equal(t, "job 1", detail.Description)

		w = f.do(t, http.MethodGet, "/api/v1/jobs/0b3c8c5e-1c51-4f25-9e3e-1f7b0f8a2d10", "")
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = f.do(t, http.MethodGet, "/api/v1/jobs/nope", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]handler.HealthCheck
		wantStatus int
	}{
		{
			name:       "healthy",
			checks:     map[string]handler.HealthCheck{"postgres": func(context.Context) error { return nil }},
			wantStatus: http.StatusOK,
		},
		{
			name:       "broker down",
			checks:     map[string]handler.HealthCheck{"rabbitmq": func(context.Context) error { return errors.New("not connected") }},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.checks)
			w := f.do(t, http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), `"service":"dirsync-api"`)
		})
	}

	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dirsync_jobs_total")
}

var _ handler.Syncer = (*dirsync.Service)(nil)
