package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/mind-engage/mindengage-testsync/internal/auth/middleware"
	"github.com/mind-engage/mindengage-testsync/internal/exam"
	"github.com/mind-engage/mindengage-testsync/internal/metrics"
	"github.com/mind-engage/mindengage-testsync/internal/rbac"
	syncx "github.com/mind-engage/mindengage-testsync/internal/sync"
)

type fakeRunner struct {
	rep   syncx.BatchReport
	err   error
	calls int
}

func (f *fakeRunner) Run(ctx context.Context) (syncx.BatchReport, error) {
	f.calls++
	if ctx.Done() != nil {
		return syncx.BatchReport{}, errors.New("pass context must not be cancellable")
	}
	return f.rep, f.err
}

type fakeRuns struct {
	gotLimit int
	list     []syncx.RunSummary
}

func (f *fakeRuns) Recent(_ context.Context, limit int) ([]syncx.RunSummary, error) {
	f.gotLimit = limit
	return f.list, nil
}

type fixture struct {
	router http.Handler
	auth   *auth.AuthService
	runner *fakeRunner
	runs   *fakeRuns
	store  *exam.MemoryStore
	token  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)

	a := auth.NewAuthService("router-test")
	f := &fixture{
		auth:   a,
		runner: &fakeRunner{},
		runs:   &fakeRuns{},
		store:  exam.NewInMemoryStore(),
	}
	f.router = NewRouter(Deps{
		Pass:        f.runner,
		Runs:        f.runs,
		Store:       f.store,
		Auth:        a,
		Metrics:     metrics.NewCollector("test").Handler(),
		Accounts:    []auth.Account{{Username: "admin", PassHash: string(hash), Role: rbac.RoleAdmin}},
		CORSOrigins: []string{"http://localhost:3000"},
	})
	f.token, err = a.IssueJWT("admin", rbac.RoleAdmin)
	require.NoError(t, err)
	return f
}

func (f *fixture) do(method, path string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestPublicRoutes(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", false).Code)

	rr := f.do(http.MethodGet, "/metrics", false)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"admin","password":"pw"}`))
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "access_token")
}

func TestSyncRoutesRequireToken(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/sync/runs", "/api/test-instances/TI1"} {
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, path, false).Code, path)
	}
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/sync", false).Code)
	assert.Zero(t, f.runner.calls)
}

func TestViewerCannotTriggerSync(t *testing.T) {
	f := newFixture(t)
	tok, err := f.auth.IssueJWT("ta", rbac.RoleViewer)
	require.NoError(t, err)
	f.token = tok

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/sync", true).Code)
	assert.Zero(t, f.runner.calls)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/sync/runs", true).Code)
}

func TestTriggerSync(t *testing.T) {
	f := newFixture(t)
	f.runner.rep = syncx.BatchReport{
		RunID:    "r1",
		CourseID: 7,
		Total:    2,
		Counts:   map[syncx.Outcome]int{syncx.OutcomeSynced: 1, syncx.OutcomeUnknownUser: 1},
	}

	rr := f.do(http.MethodPost, "/api/sync", true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got syncx.BatchReport
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "r1", got.RunID)
	assert.Equal(t, 1, got.Counts[syncx.OutcomeUnknownUser])
	assert.Equal(t, 1, f.runner.calls)
}

func TestTriggerSync_Errors(t *testing.T) {
	cases := []struct {
		name string
		rep  syncx.BatchReport
		err  error
		want int
	}{
		{"busy", syncx.BatchReport{}, syncx.ErrBusy, http.StatusConflict},
		{"course load", syncx.BatchReport{}, errors.New("load course dir: boom"), http.StatusInternalServerError},
		{"source fatal", syncx.BatchReport{RunID: "r2", Error: "find: boom"}, errors.New("find: boom"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.runner.rep, f.runner.err = tc.rep, tc.err
			rr := f.do(http.MethodPost, "/api/sync", true)
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
		})
	}
}

func TestListRuns(t *testing.T) {
	f := newFixture(t)
	f.runs.list = []syncx.RunSummary{{ID: "r1", CourseID: 7, Status: "ok", StartedAt: time.Unix(10, 0).UTC()}}

	rr := f.do(http.MethodGet, "/api/sync/runs?limit=5", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, f.runs.gotLimit)
	var got []syncx.RunSummary
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)

	f.do(http.MethodGet, "/api/sync/runs?limit=abc", true)
	assert.Equal(t, 20, f.runs.gotLimit)
}

func TestGetTestInstance(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("U1")
	ctx := context.Background()
	ti, err := f.store.UpsertTestInstance(ctx, "TI1", exam.TestInstanceFields{TestID: 10, UserID: u.ID, AuthUserID: u.ID, Number: 1})
	require.NoError(t, err)
	_, _, err = f.store.FindOrCreateTestState(ctx, exam.TestState{TestInstanceID: ti.ID, Open: false, Date: time.UnixMilli(2000)})
	require.NoError(t, err)

	rr := f.do(http.MethodGet, "/api/test-instances/TI1", true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got struct {
		TestInstance exam.TestInstance `json:"test_instance"`
		States       []exam.TestState  `json:"states"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, ti.ID, got.TestInstance.ID)
	require.Len(t, got.States, 1)
	assert.False(t, got.States[0].Open)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/test-instances/nope", true).Code)
}
