package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	connectiondomain "github.com/smallbiznis/vpnledger/internal/connection/domain"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	"github.com/smallbiznis/vpnledger/internal/observability"
	quotadomain "github.com/smallbiznis/vpnledger/internal/quota/domain"
	reportingdomain "github.com/smallbiznis/vpnledger/internal/reporting/domain"
	"github.com/smallbiznis/vpnledger/internal/scheduler"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
	tokendomain "github.com/smallbiznis/vpnledger/internal/tokens/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type connectionsMock struct {
	mock.Mock
}

func (m *connectionsMock) ValidateConnectionAllowed(ctx context.Context, userID snowflake.ID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *connectionsMock) RecordConnectionStart(ctx context.Context, req connectiondomain.StartRequest) (*sessiondomain.Session, error) {
	args := m.Called(ctx, req)
	session, _ := args.Get(0).(*sessiondomain.Session)
	return session, args.Error(1)
}

func (m *connectionsMock) RecordConnectionEnd(ctx context.Context, req connectiondomain.EndRequest) (*sessiondomain.Session, error) {
	args := m.Called(ctx, req)
	session, _ := args.Get(0).(*sessiondomain.Session)
	return session, args.Error(1)
}

func (m *connectionsMock) GetHistoricalStats(ctx context.Context, query reportingdomain.HistoricalQuery) ([]statsdomain.Aggregate, error) {
	args := m.Called(ctx, query)
	rows, _ := args.Get(0).([]statsdomain.Aggregate)
	return rows, args.Error(1)
}

func (m *connectionsMock) ExportCsv(ctx context.Context, req reportingdomain.ExportRequest) ([]byte, string, error) {
	args := m.Called(ctx, req)
	data, _ := args.Get(0).([]byte)
	return data, args.String(1), args.Error(2)
}

type quotaMock struct {
	quotadomain.Service
	mock.Mock
}

func (m *quotaMock) ProcessAddonPurchase(ctx context.Context, req quotadomain.PurchaseRequest) (*quotadomain.QuotaAddon, error) {
	args := m.Called(ctx, req)
	addon, _ := args.Get(0).(*quotadomain.QuotaAddon)
	return addon, args.Error(1)
}

type tokensMock struct {
	tokendomain.Service
	mock.Mock
}

func (m *tokensMock) GetBalance(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type testServer struct {
	engine      *gin.Engine
	connections *connectionsMock
	quota       *quotaMock
	tokens      *tokensMock
}

func newTestServer(t *testing.T, sched *scheduler.Scheduler) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		connections: &connectionsMock{},
		quota:       &quotaMock{},
		tokens:      &tokensMock{},
	}
	engine := NewEngine(observability.Config{}, nil)
	srv := NewServer(ServerParams{
		Gin:         engine,
		Log:         zap.NewNop(),
		Connections: ts.connections,
		QuotaSvc:    ts.quota,
		TokenSvc:    ts.tokens,
		Scheduler:   sched,
	})
	srv.RegisterAPIRoutes()
	ts.engine = srv.Engine()
	return ts
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestValidateConnectionAllowed(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.connections.On("ValidateConnectionAllowed", mock.Anything, snowflake.ID(7)).Return(nil).Once()

	w := ts.do(http.MethodPost, "/api/v1/connections/validate", map[string]string{"user_id": "7"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"allowed":true}`, w.Body.String())
}

func TestValidateConnectionPolicyViolation(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.connections.On("ValidateConnectionAllowed", mock.Anything, snowflake.ID(7)).
		Return(&domainerr.DeviceLimitExceededError{Active: 3, Limit: 3}).Once()

	w := ts.do(http.MethodPost, "/api/v1/connections/validate", map[string]string{"user_id": "7"})
	require.Equal(t, http.StatusForbidden, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "policy_violation", payload.Type)
	assert.Equal(t, "device_limit_exceeded", payload.Code)
	assert.Contains(t, payload.Message, "3 of 3")
}

func TestValidateConnectionRejectsMissingUser(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, "/api/v1/connections/validate", map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decodeError(t, w).Type)
	ts.connections.AssertNotCalled(t, "ValidateConnectionAllowed", mock.Anything, mock.Anything)
}

func TestStartAndEndConnection(t *testing.T) {
	ts := newTestServer(t, nil)
	started := &sessiondomain.Session{ID: 99, UserID: 7, ServerID: 10, StartedAt: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	ts.connections.On("RecordConnectionStart", mock.Anything, connectiondomain.StartRequest{
		UserID: 7, ServerID: 10, SessionID: "edge-1",
	}).Return(started, nil).Once()
	ts.connections.On("RecordConnectionEnd", mock.Anything, mock.MatchedBy(func(req connectiondomain.EndRequest) bool {
		return req.UserID == 7 && req.SessionID == "edge-1" && req.BytesSent != nil && *req.BytesSent == 512
	})).Return(nil, nil).Once()

	w := ts.do(http.MethodPost, "/api/v1/connections/start", map[string]string{
		"user_id": "7", "server_id": "10", "session_id": "edge-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var session map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, "99", session["id"])

	w = ts.do(http.MethodPost, "/api/v1/connections/end", map[string]any{
		"user_id": "7", "session_id": "edge-1", "bytes_sent": 512,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ended":false}`, w.Body.String())
	ts.connections.AssertExpectations(t)
}

func TestExportStatsAttachment(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.connections.On("ExportCsv", mock.Anything, mock.MatchedBy(func(req reportingdomain.ExportRequest) bool {
		return req.Type == reportingdomain.ExportAggregate &&
			req.Period == statsdomain.PeriodMonthly &&
			req.From.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)) &&
			req.To.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	})).Return([]byte("Period,User\n"), "vpn-aggregate-stats-2026-05-01-2026-06-01.csv", nil).Once()

	w := ts.do(http.MethodGet, "/api/v1/stats/export?type=AGGREGATE&period=monthly&from=2026-05-01&to=2026-05-31", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="vpn-aggregate-stats-2026-05-01-2026-06-01.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "Period,User\n", w.Body.String())
}

func TestHistoricalStatsValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/api/v1/stats/history?period=weekly&from=2026-05-01&to=2026-05-02", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	payload := decodeError(t, w)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_period", payload.Errors[0].Code)

	w = ts.do(http.MethodGet, "/api/v1/stats/history?period=daily", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoricalStatsDefaultsToDaily(t *testing.T) {
	ts := newTestServer(t, nil)
	user := snowflake.ID(7)
	ts.connections.On("GetHistoricalStats", mock.Anything, mock.MatchedBy(func(q reportingdomain.HistoricalQuery) bool {
		return q.Period == statsdomain.PeriodDaily && q.UserID != nil && *q.UserID == user && q.ServerID == nil
	})).Return([]statsdomain.Aggregate{{UserID: user, Period: statsdomain.PeriodDaily, TotalConnections: 2}}, nil).Once()

	w := ts.do(http.MethodGet, "/api/v1/stats/history?user_id=7&from=2026-05-01T00:00:00Z&to=2026-05-08T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []statsdomain.Aggregate `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, int64(2), resp.Data[0].TotalConnections)
}

func TestPurchaseAddonReplayReturnsExisting(t *testing.T) {
	ts := newTestServer(t, nil)
	existing := &quotadomain.QuotaAddon{ID: 5, UserID: 7, ProductID: "bandwidth_10gb", Applied: true}
	ts.quota.On("ProcessAddonPurchase", mock.Anything, mock.Anything).
		Return(existing, &domainerr.DuplicatePurchaseError{Token: "tok-1"}).Once()

	w := ts.do(http.MethodPost, "/api/v1/addons/purchase", map[string]string{
		"user_id": "7", "product_id": "bandwidth_10gb", "purchase_token": "tok-1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Addon     quotadomain.QuotaAddon `json:"addon"`
		Duplicate bool                   `json:"duplicate"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Duplicate)
	assert.Equal(t, snowflake.ID(5), resp.Addon.ID)
}

func TestPurchaseAddonInvalidProduct(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.quota.On("ProcessAddonPurchase", mock.Anything, mock.Anything).
		Return(nil, domainerr.ErrInvalidProduct).Once()

	w := ts.do(http.MethodPost, "/api/v1/addons/purchase", map[string]string{
		"user_id": "7", "product_id": "nope", "purchase_token": "tok-2",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_product", decodeError(t, w).Errors[0].Code)
}

func TestTokenBalanceUsesFixedPlaces(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.tokens.On("GetBalance", mock.Anything, snowflake.ID(7)).
		Return(decimal.RequireFromString("12.5"), nil).Once()

	w := ts.do(http.MethodGet, "/api/v1/tokens/7/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"7","balance":"12.50000000"}`, w.Body.String())
}

func TestSchedulerTasksUnavailableWithoutScheduler(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/api/v1/scheduler/tasks", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMapErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{domainerr.NotFound("user", 1), http.StatusNotFound, "not_found"},
		{domainerr.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
		{errors.Join(domainerr.ErrPaymentFailed, errors.New("rpc")), http.StatusBadGateway, "upstream_error"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{tokendomain.ErrNoActiveSession, http.StatusConflict, "conflict"},
		{sessiondomain.ErrSessionEnded, http.StatusConflict, "conflict"},
		{scheduler.ErrTaskNotFound, http.StatusNotFound, "not_found"},
		{&domainerr.BandwidthExceededError{Used: 2, Limit: 1}, http.StatusForbidden, "policy_violation"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.kind, payload.Type, tc.err.Error())
	}

	kind, code := classifyErrorForLog(&domainerr.BandwidthExceededError{Used: 2, Limit: 1})
	assert.Equal(t, "policy_violation", kind)
	assert.Equal(t, "bandwidth_exceeded", code)
}
