package puller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	obsmetrics "github.com/smallbiznis/vpnledger/internal/observability/metrics"
	metricsdomain "github.com/smallbiznis/vpnledger/internal/servermetrics/domain"
	"github.com/stretchr/testify/require"
)

func TestHTTPPullerDecodesReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"cpu_usage":12.5,"memory_usage":40,"network_speed":800,"peers":[{"user_id":"7","upload_bytes":100,"download_bytes":250}]}`))
	}))
	defer srv.Close()

	p := NewHTTPPullerWithClient(srv.Client())
	report, err := p.Pull(context.Background(), accountdomain.Server{ID: 1, MetricsURL: srv.URL})
	require.NoError(t, err)
	require.NotNil(t, report.CPUUsage)
	require.Equal(t, 12.5, *report.CPUUsage)
	require.Nil(t, report.LatencyMs)
	require.Len(t, report.Peers, 1)
	require.Equal(t, snowflake.ID(7), report.Peers[0].UserID)
	require.Equal(t, int64(250), report.Peers[0].DownloadBytes)
}

func TestHTTPPullerWrapsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPPullerWithClient(srv.Client())
	_, err := p.Pull(context.Background(), accountdomain.Server{ID: 1, MetricsURL: srv.URL})
	require.True(t, errors.Is(err, obsmetrics.ErrPullFailed), "got %v", err)

	_, err = p.Pull(context.Background(), accountdomain.Server{ID: 2})
	require.ErrorIs(t, err, metricsdomain.ErrNoMetricsURL)
}
