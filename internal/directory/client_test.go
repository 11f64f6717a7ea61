package directory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/dirsync/internal/reconcile"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(&Config{
		BaseURL:                 srv.URL,
		Token:                   "secret",
		Timeout:                 2 * time.Second,
		PageSize:                2,
		BreakerFailureThreshold: 2,
		BreakerTimeout:          time.Minute,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoadAllPages(t *testing.T) {
	pages := map[string]listResponse{
		"1": {Users: []*Entry{{Email: "a@example.com"}, {Email: "b@test.org"}}, NextPage: 2},
		"2": {Users: []*Entry{{Email: "C@Example.com"}}},
	}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v1/users", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		writeJSON(w, http.StatusOK, pages[r.URL.Query().Get("page")])
	}))

	entries, err := c.LoadAll(context.Background(), reconcile.MustKeyFilter(`@example\.com$`))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a@example.com", entries[0].Key())
	assert.Equal(t, "c@example.com", entries[1].Key())
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantErr       error
		wantTransient bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "not found", status: http.StatusNotFound, wantErr: reconcile.ErrRecordNotFound},
		{name: "conflict", status: http.StatusConflict, wantErr: reconcile.ErrAlreadyExists},
		{name: "server error", status: http.StatusBadGateway, wantTransient: true},
		{name: "throttled", status: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/users/x@example.com", r.URL.Path)
				writeJSON(w, tt.status, Entry{Email: "x@example.com", Login: "x"})
			}))

			e, err := c.LoadByKey(context.Background(), "X@example.com")

			var transient *reconcile.TransientError
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, errors.As(err, &transient))
			case tt.wantTransient:
				require.Error(t, err)
				assert.ErrorAs(t, err, &transient)
			case tt.status >= 400:
				require.Error(t, err)
				assert.False(t, errors.As(err, &transient))
			default:
				require.NoError(t, err)
				assert.Equal(t, "x", e.Login)
			}
		})
	}
}

func TestCreateUpdateDelete(t *testing.T) {
	var methods []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method+" "+r.URL.Path)

		switch r.Method {
		case http.MethodPost, http.MethodPut:
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var e Entry
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&e))
			e.ID = "dir-1"
			e.Modified = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			writeJSON(w, http.StatusOK, e)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))

	e := &Entry{Email: "new@example.com", Login: "new", Fields: map[string]string{"phone": "+15550100"}}
	require.NoError(t, c.Create(context.Background(), e))
	assert.Equal(t, "dir-1", e.ID)
	assert.False(t, e.ModifiedAt().IsZero())

	require.NoError(t, c.Update(context.Background(), e))
	require.NoError(t, c.Delete(context.Background(), "new@example.com"))

	assert.Equal(t, []string{
		"POST /api/v1/users",
		"PUT /api/v1/users/new@example.com",
		"DELETE /api/v1/users/new@example.com",
	}, methods)
}

func TestFindByLogin(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("login") == "taken" {
			writeJSON(w, http.StatusOK, listResponse{Users: []*Entry{{Email: "owner@example.com", Login: "taken"}}})
			return
		}
		writeJSON(w, http.StatusOK, listResponse{})
	}))

	owner, err := c.FindByLogin(context.Background(), "taken")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", owner.Key())

	_, err = c.FindByLogin(context.Background(), "free")
	assert.ErrorIs(t, err, reconcile.ErrRecordNotFound)
}

func TestSchema(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/fields", r.URL.Path)
		writeJSON(w, http.StatusOK, Schema{Fields: []FieldDef{{Name: "phone", Type: "phone"}, {Name: "email", Type: "email", Required: true}}})
	}))

	s, err := c.Schema(context.Background())
	require.NoError(t, err)

	f, ok := s.Field("email")
	assert.True(t, ok)
	assert.True(t, f.Required)
	_, ok = s.Field("missing")
	assert.False(t, ok)
}

func TestCircuitBreakerOpens(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	for i := 0; i < 4; i++ {
		_, err := c.LoadByKey(context.Background(), "x@example.com:"+strconv.Itoa(i))
		var transient *reconcile.TransientError
		assert.ErrorAs(t, err, &transient)
	}

	assert.Equal(t, 2, calls, "open breaker stops calling the directory")
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))

	for i := 0; i < 4; i++ {
		_, err := c.LoadByKey(context.Background(), "missing@example.com")
		assert.ErrorIs(t, err, reconcile.ErrRecordNotFound)
	}
	assert.Equal(t, 4, calls)
}

func TestEntryValues(t *testing.T) {
	e := &Entry{Email: "a@example.com"}
	assert.True(t, e.Active())

	e.SetActive(false)
	assert.True(t, e.Blocked)

	e.SetValue(FieldLogin, "alice")
	e.SetValue("phone", "1")
	c := e.Clone()
	c.SetValue("phone", "2")

	v, _ := e.Value("phone")
	assert.Equal(t, "1", v)
	v, ok := e.Value(FieldLogin)
	assert.True(t, ok)
	assert.Equal(t, "alice", v)

	e.UnsetValue("phone")
	_, ok = e.Value("phone")
	assert.False(t, ok)
}
