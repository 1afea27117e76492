package puller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	accountdomain "github.com/smallbiznis/vpnledger/internal/account/domain"
	"github.com/smallbiznis/vpnledger/internal/config"
	obsmetrics "github.com/smallbiznis/vpnledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/vpnledger/internal/observability/tracing"
	metricsdomain "github.com/smallbiznis/vpnledger/internal/servermetrics/domain"
)

const maxReportBytes = 4 << 20

// HTTPPuller reads a JSON Report from the server's metrics URL.
type HTTPPuller struct {
	client *http.Client
}

func NewHTTPPuller(cfg config.Config) metricsdomain.Puller {
	timeout := cfg.Scheduler.MetricsPullTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewHTTPPullerWithClient(&http.Client{Timeout: timeout})
}

func NewHTTPPullerWithClient(client *http.Client) *HTTPPuller {
	return &HTTPPuller{client: obstracing.WrapHTTPClient(client)}
}

func (p *HTTPPuller) Pull(ctx context.Context, server accountdomain.Server) (*metricsdomain.Report, error) {
	url := strings.TrimSpace(server.MetricsURL)
	if url == "" {
		return nil, metricsdomain.ErrNoMetricsURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: server %s: %w", obsmetrics.ErrPullFailed, server.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: server %s returned %s", obsmetrics.ErrPullFailed, server.ID, resp.Status)
	}

	var report metricsdomain.Report
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReportBytes)).Decode(&report); err != nil {
		return nil, fmt.Errorf("%w: server %s: decode: %w", obsmetrics.ErrPullFailed, server.ID, err)
	}
	return &report, nil
}
