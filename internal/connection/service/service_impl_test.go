package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	connectiondomain "github.com/smallbiznis/vpnledger/internal/connection/domain"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	quotadomain "github.com/smallbiznis/vpnledger/internal/quota/domain"
	reportingdomain "github.com/smallbiznis/vpnledger/internal/reporting/domain"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type quotaMock struct {
	quotadomain.Service
	mock.Mock
}

func (m *quotaMock) ValidateSubscription(ctx context.Context, userID snowflake.ID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *quotaMock) ValidateDeviceLimit(ctx context.Context, userID snowflake.ID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *quotaMock) ValidateBandwidth(ctx context.Context, userID snowflake.ID) error {
	return m.Called(ctx, userID).Error(0)
}

type sessionMock struct {
	sessiondomain.Service
	mock.Mock
}

func (m *sessionMock) StartSession(ctx context.Context, req sessiondomain.StartSessionRequest) (*sessiondomain.Session, error) {
	args := m.Called(ctx, req)
	session, _ := args.Get(0).(*sessiondomain.Session)
	return session, args.Error(1)
}

func (m *sessionMock) EndSession(ctx context.Context, req sessiondomain.EndSessionRequest) (*sessiondomain.Session, error) {
	args := m.Called(ctx, req)
	session, _ := args.Get(0).(*sessiondomain.Session)
	return session, args.Error(1)
}

type reportingMock struct {
	reportingdomain.Service
	mock.Mock
}

func (m *reportingMock) GetHistoricalStats(ctx context.Context, query reportingdomain.HistoricalQuery) ([]statsdomain.Aggregate, error) {
	args := m.Called(ctx, query)
	rows, _ := args.Get(0).([]statsdomain.Aggregate)
	return rows, args.Error(1)
}

func (m *reportingMock) ExportCsv(ctx context.Context, req reportingdomain.ExportRequest) ([]byte, error) {
	args := m.Called(ctx, req)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *reportingMock) Filename(req reportingdomain.ExportRequest) string {
	return m.Called(req).String(0)
}

type fixture struct {
	svc       connectiondomain.Service
	quota     *quotaMock
	sessions  *sessionMock
	reporting *reportingMock
}

func newFixture() *fixture {
	f := &fixture{
		quota:     &quotaMock{},
		sessions:  &sessionMock{},
		reporting: &reportingMock{},
	}
	f.svc = NewService(Params{
		Log:       zap.NewNop(),
		Sessions:  f.sessions,
		Quota:     f.quota,
		Reporting: f.reporting,
	})
	return f
}

func TestValidateConnectionAllowedPasses(t *testing.T) {
	f := newFixture()
	user := snowflake.ID(1)
	f.quota.On("ValidateSubscription", mock.Anything, user).Return(nil).Once()
	f.quota.On("ValidateDeviceLimit", mock.Anything, user).Return(nil).Once()
	f.quota.On("ValidateBandwidth", mock.Anything, user).Return(nil).Once()

	require.NoError(t, f.svc.ValidateConnectionAllowed(context.Background(), user))
	f.quota.AssertExpectations(t)
}

func TestValidateConnectionAllowedStopsAtFirstViolation(t *testing.T) {
	f := newFixture()
	user := snowflake.ID(1)
	end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expired := &domainerr.SubscriptionExpiredError{SubscriptionID: "5", EndDate: &end}
	f.quota.On("ValidateSubscription", mock.Anything, user).Return(expired).Once()

	err := f.svc.ValidateConnectionAllowed(context.Background(), user)
	require.ErrorIs(t, err, domainerr.ErrSubscriptionExpired)
	f.quota.AssertNotCalled(t, "ValidateDeviceLimit", mock.Anything, mock.Anything)
	f.quota.AssertNotCalled(t, "ValidateBandwidth", mock.Anything, mock.Anything)
}

func TestValidateConnectionAllowedChecksDevicesBeforeBandwidth(t *testing.T) {
	f := newFixture()
	user := snowflake.ID(1)
	f.quota.On("ValidateSubscription", mock.Anything, user).Return(nil).Once()
	f.quota.On("ValidateDeviceLimit", mock.Anything, user).
		Return(&domainerr.DeviceLimitExceededError{Active: 2, Limit: 2}).Once()

	err := f.svc.ValidateConnectionAllowed(context.Background(), user)
	require.ErrorIs(t, err, domainerr.ErrDeviceLimitExceeded)
	f.quota.AssertNotCalled(t, "ValidateBandwidth", mock.Anything, mock.Anything)
}

func TestRecordConnectionLifecycle(t *testing.T) {
	f := newFixture()
	server := snowflake.ID(10)
	sent, received := int64(100), int64(200)
	started := &sessiondomain.Session{ID: 99, UserID: 1, ServerID: server}

	f.sessions.On("StartSession", mock.Anything, sessiondomain.StartSessionRequest{
		UserID: 1, ServerID: server, ExternalSessionID: "edge-1",
	}).Return(started, nil).Once()
	f.sessions.On("EndSession", mock.Anything, sessiondomain.EndSessionRequest{
		UserID: 1, ServerID: &server, ExternalSessionID: "edge-1", BytesSent: &sent, BytesReceived: &received,
	}).Return(started, nil).Once()

	got, err := f.svc.RecordConnectionStart(context.Background(), connectiondomain.StartRequest{
		UserID: 1, ServerID: server, SessionID: "edge-1",
	})
	require.NoError(t, err)
	assert.Equal(t, started, got)

	got, err = f.svc.RecordConnectionEnd(context.Background(), connectiondomain.EndRequest{
		UserID: 1, ServerID: &server, SessionID: "edge-1", BytesSent: &sent, BytesReceived: &received,
	})
	require.NoError(t, err)
	assert.Equal(t, started, got)
	f.sessions.AssertExpectations(t)
}

func TestRecordConnectionEndWithoutActiveSession(t *testing.T) {
	f := newFixture()
	f.sessions.On("EndSession", mock.Anything, mock.Anything).Return(nil, nil).Once()

	got, err := f.svc.RecordConnectionEnd(context.Background(), connectiondomain.EndRequest{UserID: 1})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExportCsvReturnsFilename(t *testing.T) {
	f := newFixture()
	req := reportingdomain.ExportRequest{
		Type: reportingdomain.ExportDetailed,
		From: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
	}
	f.reporting.On("ExportCsv", mock.Anything, req).Return([]byte("Date\n"), nil).Once()
	f.reporting.On("Filename", req).Return("vpn-detailed-stats.csv").Once()

	data, name, err := f.svc.ExportCsv(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Date\n", string(data))
	assert.Equal(t, "vpn-detailed-stats.csv", name)
}

func TestExportCsvPropagatesValidation(t *testing.T) {
	f := newFixture()
	f.reporting.On("ExportCsv", mock.Anything, mock.Anything).Return(nil, reportingdomain.ErrInvalidRange).Once()

	_, _, err := f.svc.ExportCsv(context.Background(), reportingdomain.ExportRequest{})
	require.ErrorIs(t, err, reportingdomain.ErrInvalidRange)
	f.reporting.AssertNotCalled(t, "Filename", mock.Anything)
}
