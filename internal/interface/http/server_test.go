package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housecup/points-engine/internal/application/command"
	"github.com/housecup/points-engine/internal/application/query"
	"github.com/housecup/points-engine/internal/application/subscription"
	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/infrastructure/messaging"
	"github.com/housecup/points-engine/internal/infrastructure/persistence/memory"
	"github.com/housecup/points-engine/internal/infrastructure/scheduler"
	"github.com/housecup/points-engine/pkg/logger"
	"github.com/housecup/points-engine/pkg/timeutil"
)

var (
	admin   = account.Caller{ID: "a1", Role: account.RoleAdmin}
	teacher = account.Caller{ID: "t1", Role: account.RoleTeacher}
	s1      = account.Caller{ID: "s1", Role: account.RoleStudent}
	s2      = account.Caller{ID: "s2", Role: account.RoleStudent}
	nobody  = account.Caller{}
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testEnv struct {
	server *Server
	store  *memory.Store
	health *Health
}

func newTestEnv(t *testing.T, mutate ...func(*Config, *Dependencies)) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.CreateHouse(ctx, house.House{ID: "h1", Name: "Phoenix", Grade: 10}))
	require.NoError(t, store.CreateHouse(ctx, house.House{ID: "h2", Name: "Dragon", Grade: 10}))
	for _, p := range []account.Profile{
		{ID: "s1", DisplayName: "Ann", Role: account.RoleStudent, HouseID: "h1", Grade: 10},
		{ID: "s2", DisplayName: "Ben", Role: account.RoleStudent, HouseID: "h2", Grade: 10},
		{ID: "t1", DisplayName: "Ms T", Role: account.RoleTeacher},
		{ID: "a1", DisplayName: "Root", Role: account.RoleAdmin},
	} {
		_, err := store.UpsertProfile(ctx, p)
		require.NoError(t, err)
	}

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: logger.Discard()})
	t.Cleanup(func() { _ = bus.Close() })
	hub := subscription.NewHub(store, subscription.Config{Logger: logger.Discard()})
	require.NoError(t, hub.Attach(bus))
	t.Cleanup(hub.Close)

	health := NewHealth("test", time.Second)
	health.AddCheck("store", store, true)

	cfg := DefaultConfig()
	cfg.StreamHeartbeat = 50 * time.Millisecond
	deps := Dependencies{
		Commands: command.NewCoordinator(store, store, bus, logger.Discard(), command.DefaultCoordinatorConfig()),
		Queries:  query.NewService(store, memory.NewSnapshotStore(), timeutil.MustClock("UTC"), logger.Discard()),
		Hub:      hub,
		Health:   health,
		Logger:   logger.Discard(),
	}
	for _, m := range mutate {
		m(&cfg, &deps)
	}
	return &testEnv{server: NewServer(cfg, deps), store: store, health: health}
}

func (e *testEnv) do(t *testing.T, method, path string, caller account.Caller, body interface{}) (int, envelope, http.Header) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller.ID != "" {
		req.Header.Set(HeaderCallerID, caller.ID)
		req.Header.Set(HeaderCallerRole, string(caller.Role))
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env, rec.Header()
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (e *testEnv) award(t *testing.T, student, houseID string, points int64) {
	t.Helper()
	code, env, _ := e.do(t, http.MethodPost, "/api/v1/awards", teacher, map[string]interface{}{
		"student_id": student, "house_id": houseID, "points": points, "reason": "homework",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
}

// stockItem puts an item with the given price and stock into the shop
// through the request and approval flow.
func (e *testEnv) stockItem(t *testing.T, price, stock int64) string {
	t.Helper()
	code, env, _ := e.do(t, http.MethodPost, "/api/v1/shop-requests", teacher, map[string]interface{}{
		"item_name": "Hoodie", "suggested_price": price, "category": "Apparel",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	req := decode[query.RequestView](t, env.Data)
	assert.Equal(t, "pending", string(req.Status))

	code, env, hdr := e.do(t, http.MethodPost, "/api/v1/shop-requests/"+req.ID+"/approve", admin, map[string]interface{}{
		"stock_quantity": stock,
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	item := decode[query.ItemView](t, env.Data)
	assert.Equal(t, "/api/v1/items/"+item.ID, hdr.Get("Location"))
	return item.ID
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func TestAwardPoints(t *testing.T) {
	e := newTestEnv(t)

	code, env, hdr := e.do(t, http.MethodPost, "/api/v1/awards", teacher, map[string]interface{}{
		"student_id": "s1", "house_id": "h1", "points": 10, "reason": "lab", "category": "Academic Excellence",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	assert.True(t, env.Success)
	assert.NotEmpty(t, hdr.Get("X-Request-Id"))
	award := decode[query.AwardView](t, env.Data)
	assert.Equal(t, int64(10), award.Points)
	assert.Equal(t, "t1", award.TeacherID)

	_, env, _ = e.do(t, http.MethodGet, "/api/v1/accounts/s1", nobody, nil)
	acc := decode[query.AccountView](t, env.Data)
	assert.Equal(t, int64(10), acc.PointsEarned)
	assert.Equal(t, int64(10), acc.AvailablePoints)

	_, env, _ = e.do(t, http.MethodGet, "/api/v1/houses/h1", nobody, nil)
	assert.Equal(t, int64(10), decode[query.HouseView](t, env.Data).TotalPoints)
}

func TestAwardPoints_Rejections(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name   string
		caller account.Caller
		body   interface{}
		status int
		code   string
	}{
		{"no caller", nobody, map[string]interface{}{"student_id": "s1", "house_id": "h1", "points": 5, "reason": "x"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"student caller", s2, map[string]interface{}{"student_id": "s1", "house_id": "h1", "points": 5, "reason": "x"}, http.StatusForbidden, "FORBIDDEN"},
		{"zero points", teacher, map[string]interface{}{"student_id": "s1", "house_id": "h1", "points": 0, "reason": "x"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", teacher, `{"student_id":"s1","house_id":"h1","points":5,"reason":"x","bonus":true}`, http.StatusBadRequest, "BAD_REQUEST"},
		{"empty body", teacher, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown student", teacher, map[string]interface{}{"student_id": "ghost", "house_id": "h1", "points": 5, "reason": "x"}, http.StatusNotFound, "NOT_FOUND"},
		{"house mismatch", teacher, map[string]interface{}{"student_id": "s1", "house_id": "h2", "points": 5, "reason": "x"}, http.StatusUnprocessableEntity, "HOUSE_MISMATCH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env, _ := e.do(t, http.MethodPost, "/api/v1/awards", tt.caller, tt.body)
			assert.Equal(t, tt.status, code)
			require.NotNil(t, env.Error)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}

	_, env, _ := e.do(t, http.MethodGet, "/api/v1/accounts/s1", nobody, nil)
	assert.Equal(t, int64(0), decode[query.AccountView](t, env.Data).PointsEarned)
}

func TestPurchaseFlow(t *testing.T) {
	e := newTestEnv(t)
	e.award(t, "s1", "h1", 100)
	e.award(t, "s2", "h2", 100)
	itemID := e.stockItem(t, 30, 1)

	code, env, _ := e.do(t, http.MethodPost, "/api/v1/purchases", s1, map[string]string{"student_id": "s1", "item_id": itemID})
	require.Equal(t, http.StatusCreated, code, env.Error)
	purchase := decode[query.PurchaseView](t, env.Data)
	assert.Equal(t, "pending", string(purchase.Status))
	assert.Equal(t, int64(30), purchase.PriceAtPurchase)

	_, env, _ = e.do(t, http.MethodGet, "/api/v1/accounts/s1", nobody, nil)
	assert.Equal(t, int64(70), decode[query.AccountView](t, env.Data).AvailablePoints)

	code, env, _ = e.do(t, http.MethodPost, "/api/v1/purchases", s2, map[string]string{"student_id": "s2", "item_id": itemID})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "OUT_OF_STOCK", env.Error.Code)

	code, env, _ = e.do(t, http.MethodPost, "/api/v1/purchases/"+purchase.ID+"/fulfill", admin, map[string]string{"notes": "handed over"})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, "fulfilled", string(decode[query.PurchaseView](t, env.Data).Status))

	code, env, _ = e.do(t, http.MethodPost, "/api/v1/purchases/"+purchase.ID+"/cancel", admin, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	code, env, _ = e.do(t, http.MethodGet, "/api/v1/purchases?student_id=s1", nobody, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]query.PurchaseView](t, env.Data), 1)
}

func TestPurchase_InsufficientPoints(t *testing.T) {
	e := newTestEnv(t)
	e.award(t, "s1", "h1", 20)
	itemID := e.stockItem(t, 30, 5)

	code, env, _ := e.do(t, http.MethodPost, "/api/v1/purchases", s1, map[string]string{"student_id": "s1", "item_id": itemID})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "INSUFFICIENT_POINTS", env.Error.Code)

	_, env, _ = e.do(t, http.MethodGet, "/api/v1/items/"+itemID, nobody, nil)
	assert.Equal(t, int64(0), decode[query.ItemView](t, env.Data).SoldCount)
}

func TestRejectShopRequest(t *testing.T) {
	e := newTestEnv(t)
	code, env, _ := e.do(t, http.MethodPost, "/api/v1/shop-requests", teacher, map[string]interface{}{
		"item_name": "Pizza party", "suggested_price": 200, "category": "Food & Treats",
	})
	require.Equal(t, http.StatusCreated, code)
	id := decode[query.RequestView](t, env.Data).ID

	code, _, _ = e.do(t, http.MethodPost, "/api/v1/shop-requests/"+id+"/reject", teacher, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env, _ = e.do(t, http.MethodPost, "/api/v1/shop-requests/"+id+"/reject", admin, map[string]string{"notes": "budget"})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, "rejected", string(decode[query.RequestView](t, env.Data).Status))

	code, env, _ = e.do(t, http.MethodPost, "/api/v1/shop-requests/"+id+"/approve", admin, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	code, env, _ = e.do(t, http.MethodGet, "/api/v1/shop-requests?status=pending", nobody, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[[]query.RequestView](t, env.Data))

	code, _, _ = e.do(t, http.MethodGet, "/api/v1/shop-requests?status=lost", nobody, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCatalog(t *testing.T) {
	e := newTestEnv(t)

	code, env, _ := e.do(t, http.MethodPost, "/api/v1/houses", admin, map[string]interface{}{"id": "h3", "name": "Griffin", "grade": 11})
	require.Equal(t, http.StatusCreated, code, env.Error)
	code, env, _ = e.do(t, http.MethodPost, "/api/v1/houses", admin, map[string]interface{}{"id": "h3", "name": "Griffin", "grade": 11})
	assert.Equal(t, http.StatusConflict, code)

	code, env, _ = e.do(t, http.MethodPut, "/api/v1/accounts/s3", admin, map[string]interface{}{
		"display_name": "Cat", "role": "student", "house_id": "h3", "grade": 11,
	})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, "h3", decode[query.AccountView](t, env.Data).HouseID)

	code, _, _ = e.do(t, http.MethodPut, "/api/v1/accounts/s4", admin, map[string]interface{}{"role": "wizard"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env, _ = e.do(t, http.MethodGet, "/api/v1/accounts?role=student&grade=11", nobody, nil)
	require.Equal(t, http.StatusOK, code)
	accounts := decode[[]query.AccountView](t, env.Data)
	require.Len(t, accounts, 1)
	assert.Equal(t, "s3", accounts[0].ID)

	itemID := e.stockItem(t, 10, 3)
	code, env, _ = e.do(t, http.MethodPut, "/api/v1/items/"+itemID+"/active", admin, map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.False(t, decode[query.ItemView](t, env.Data).Active)

	code, env, _ = e.do(t, http.MethodPut, "/api/v1/items/"+itemID+"/active", admin, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env, _ = e.do(t, http.MethodGet, "/api/v1/items?active=true", nobody, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[[]query.ItemView](t, env.Data))
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

func TestLeaderboards(t *testing.T) {
	e := newTestEnv(t)
	e.award(t, "s2", "h2", 40)
	e.award(t, "s1", "h1", 15)

	code, env, _ := e.do(t, http.MethodGet, "/api/v1/leaderboard/houses", nobody, nil)
	require.Equal(t, http.StatusOK, code)
	houses := decode[query.LeaderboardResult](t, env.Data)
	require.Len(t, houses.Entries, 2)
	assert.Equal(t, "h2", houses.Entries[0].ID)
	assert.Equal(t, "h1", houses.Entries[1].ID)

	code, env, _ = e.do(t, http.MethodGet, "/api/v1/leaderboard/students?grade=10&limit=1", nobody, nil)
	require.Equal(t, http.StatusOK, code)
	students := decode[query.LeaderboardResult](t, env.Data)
	require.Len(t, students.Entries, 1)
	assert.Equal(t, "s2", students.Entries[0].ID)
	assert.Equal(t, 2, students.Total)

	code, env, _ = e.do(t, http.MethodGet, "/api/v1/leaderboard/students?grade=10&house_id=h1", nobody, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _, _ = e.do(t, http.MethodGet, "/api/v1/leaderboard/students?limit=many", nobody, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env, _ = e.do(t, http.MethodGet, "/api/v1/accounts/s1/rank", nobody, nil)
	require.Equal(t, http.StatusOK, code)
	rank := decode[query.StudentRankView](t, env.Data)
	assert.EqualValues(t, 2, rank.OverallRank)
	assert.EqualValues(t, 1, rank.HouseRank)
}

func TestHistoryAndReports(t *testing.T) {
	e := newTestEnv(t)
	e.award(t, "s1", "h1", 5)
	e.award(t, "s1", "h1", 7)

	code, env, _ := e.do(t, http.MethodGet, "/api/v1/awards?student_id=s1&limit=1", nobody, nil)
	require.Equal(t, http.StatusOK, code)
	awards := decode[[]query.AwardView](t, env.Data)
	require.Len(t, awards, 1)
	assert.Equal(t, int64(7), awards[0].Points, "newest first")

	code, _, _ = e.do(t, http.MethodGet, "/api/v1/awards?since=yesterday", nobody, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env, _ = e.do(t, http.MethodGet, "/api/v1/houses/h1/stats", nobody, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(12), decode[query.HouseStatsView](t, env.Data).TotalPoints)

	code, env, _ = e.do(t, http.MethodGet, "/api/v1/houses/h1/contributors", nobody, nil)
	require.Equal(t, http.StatusOK, code)
	contributors := decode[[]query.Contributor](t, env.Data)
	require.Len(t, contributors, 1)
	assert.Equal(t, int64(12), contributors[0].Points)

	code, _, _ = e.do(t, http.MethodGet, "/api/v1/houses/nope/stats", nobody, nil)
	assert.Equal(t, http.StatusNotFound, code)

	for _, path := range []string{"/api/v1/reports/top-students", "/api/v1/reports/top-purchasers", "/api/v1/reports/teacher-activity"} {
		code, _, _ = e.do(t, http.MethodGet, path, nobody, nil)
		assert.Equal(t, http.StatusOK, code, path)
	}
}

func TestAudit(t *testing.T) {
	e := newTestEnv(t)
	e.award(t, "s1", "h1", 25)

	code, env, _ := e.do(t, http.MethodGet, "/api/v1/audit", nobody, nil)
	require.Equal(t, http.StatusOK, code)
	report := decode[query.AuditReport](t, env.Data)
	assert.Equal(t, 1, report.Awards)
	assert.Empty(t, report.Drifts)
}

// ══════════════════════════════════════════════════════════════════════════════
// INFRASTRUCTURE
// ══════════════════════════════════════════════════════════════════════════════

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	code, env, _ := e.do(t, http.MethodGet, "/health", nobody, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decode[HealthStatus](t, env.Data).Healthy)

	e.health.AddCheck("redis", pingFunc(func(context.Context) error { return errors.New("connection refused") }), false)
	code, env, _ = e.do(t, http.MethodGet, "/health", nobody, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	status := decode[HealthStatus](t, env.Data)
	assert.False(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)

	code, _, _ = e.do(t, http.MethodGet, "/ready", nobody, nil)
	assert.Equal(t, http.StatusOK, code, "optional dependency does not block readiness")

	require.NoError(t, e.store.Close())
	code, env, hdr := e.do(t, http.MethodGet, "/ready", nobody, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "5", hdr.Get("Retry-After"))

	code, _, _ = e.do(t, http.MethodGet, "/live", nobody, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	e := newTestEnv(t)

	code, env, _ := e.do(t, http.MethodGet, "/api/v1/nothing", nobody, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	code, env, _ = e.do(t, http.MethodDelete, "/api/v1/awards", teacher, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", env.Error.Code)
}

func TestAPIKey(t *testing.T) {
	e := newTestEnv(t, func(c *Config, _ *Dependencies) { c.APIKeys = []string{"secret"} })

	code, _, _ := e.do(t, http.MethodGet, "/api/v1/houses", nobody, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/houses", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	code, _, _ = e.do(t, http.MethodGet, "/health", nobody, nil)
	assert.Equal(t, http.StatusOK, code, "probes stay open")
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.award(t, "s1", "h1", 1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "housecup_http_requests_total")
}

// ─── Admin jobs ─────────────────────────────────────────────────────────────

type fakeJobs struct {
	mu   sync.Mutex
	runs []string
}

func (f *fakeJobs) RunNow(_ context.Context, name string) (scheduler.JobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch name {
	case "audit_ledger":
		f.runs = append(f.runs, name)
		return scheduler.JobResult{JobName: name, Duration: 3 * time.Millisecond}, nil
	case "busy":
		return scheduler.JobResult{}, fmt.Errorf("%w: %s", scheduler.ErrJobBusy, name)
	case "broken":
		err := errors.New("disk full")
		return scheduler.JobResult{JobName: name, Err: err}, err
	}
	return scheduler.JobResult{}, fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, name)
}

func (f *fakeJobs) ListJobs() []scheduler.JobInfo {
	return []scheduler.JobInfo{{Name: "audit_ledger", Schedule: "@every 1h0m0s", Enabled: true}}
}

func TestAdminJobs(t *testing.T) {
	jobs := &fakeJobs{}
	e := newTestEnv(t, func(_ *Config, d *Dependencies) { d.Jobs = jobs })

	code, _, _ := e.do(t, http.MethodGet, "/api/v1/admin/jobs", teacher, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env, _ := e.do(t, http.MethodGet, "/api/v1/admin/jobs", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]scheduler.JobInfo](t, env.Data), 1)

	code, env, _ = e.do(t, http.MethodPost, "/api/v1/admin/jobs/audit_ledger/run", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decode[jobRunResponse](t, env.Data).Success)
	assert.Equal(t, []string{"audit_ledger"}, jobs.runs)

	code, env, _ = e.do(t, http.MethodPost, "/api/v1/admin/jobs/broken/run", admin, nil)
	require.Equal(t, http.StatusOK, code)
	res := decode[jobRunResponse](t, env.Data)
	assert.False(t, res.Success)
	assert.Equal(t, "disk full", res.Error)

	code, _, _ = e.do(t, http.MethodPost, "/api/v1/admin/jobs/busy/run", admin, nil)
	assert.Equal(t, http.StatusConflict, code)
	code, _, _ = e.do(t, http.MethodPost, "/api/v1/admin/jobs/missing/run", admin, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminJobs_Disabled(t *testing.T) {
	e := newTestEnv(t)
	code, _, _ := e.do(t, http.MethodGet, "/api/v1/admin/jobs", admin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

// ─── Stream ─────────────────────────────────────────────────────────────────

func TestStream(t *testing.T) {
	e := newTestEnv(t)
	e.award(t, "s1", "h1", 15)

	ts := httptest.NewServer(e.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/stream?topic=account:s1", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	updates := make(chan subscription.Update, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			data, ok := strings.CutPrefix(sc.Text(), "data: ")
			if !ok {
				continue
			}
			var u subscription.Update
			if json.Unmarshal([]byte(data), &u) == nil {
				updates <- u
			}
		}
		close(updates)
	}()

	nextUpdate := func() subscription.Update {
		select {
		case u, ok := <-updates:
			require.True(t, ok, "stream ended")
			return u
		case <-time.After(3 * time.Second):
			t.Fatal("no update")
			return subscription.Update{}
		}
	}

	first := nextUpdate()
	assert.Equal(t, "account:s1", first.Topic)
	assert.Equal(t, int64(15), first.Counters[shared.CounterPointsEarned])

	e.award(t, "s1", "h1", 5)
	second := nextUpdate()
	assert.Equal(t, int64(20), second.Counters[shared.CounterPointsEarned])
	assert.Greater(t, second.Version, first.Version)
}

func TestStream_BadTopic(t *testing.T) {
	e := newTestEnv(t)
	code, env, _ := e.do(t, http.MethodGet, "/api/v1/stream?topic=planet:mars", nobody, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", shared.NewValidationError("ledger", "Award", "points must be positive"), 400, "VALIDATION_ERROR"},
		{"unauthorized", shared.NewDomainError("account", "Caller", shared.ErrUnauthorized, "caller id is required"), 401, "UNAUTHORIZED"},
		{"forbidden", shared.NewDomainError("account", "Require", shared.ErrForbidden, "teachers only"), 403, "FORBIDDEN"},
		{"not found", shared.ErrItemNotFound, 404, "NOT_FOUND"},
		{"insufficient points", fmt.Errorf("purchase: %w", shared.ErrInsufficientPoints), 422, "INSUFFICIENT_POINTS"},
		{"out of stock", shared.ErrOutOfStock, 422, "OUT_OF_STOCK"},
		{"inactive", shared.ErrItemInactive, 422, "ITEM_INACTIVE"},
		{"house mismatch", shared.ErrHouseMismatch, 422, "HOUSE_MISMATCH"},
		{"request reviewed", shared.ErrRequestNotPending, 409, "CONFLICT"},
		{"purchase resolved", shared.ErrPurchaseNotPending, 409, "CONFLICT"},
		{"bad transition", shared.ErrInvalidTransition, 422, "PRECONDITION_FAILED"},
		{"duplicate", shared.ErrHouseAlreadyExists, 409, "CONFLICT"},
		{"contention", fmt.Errorf("award: %w: %w", shared.ErrContention, shared.ErrConflict), 409, "CONTENTION"},
		{"conflict", shared.ErrConflict, 409, "CONFLICT"},
		{"unavailable", fmt.Errorf("postgres: %w", shared.ErrStoreUnavailable), 503, "SERVICE_UNAVAILABLE"},
		{"commit unknown", fmt.Errorf("award: %w: %w", shared.ErrCommitUnknown, errors.New("unexpected EOF")), 503, "COMMIT_OUTCOME_UNKNOWN"},
		{"unknown", errors.New("boom"), 500, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toAPIError(tt.err)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.Equal(t, tt.code, got.Code)
		})
	}

	assert.Equal(t, 1, toAPIError(shared.ErrContention).RetryAfter)
	assert.Zero(t, toAPIError(shared.ErrCommitUnknown).RetryAfter)
	assert.Equal(t, 5, toAPIError(shared.ErrStoreUnavailable).RetryAfter)
	assert.Equal(t, "insufficient points", toAPIError(shared.ErrInsufficientPoints).Message)
}
