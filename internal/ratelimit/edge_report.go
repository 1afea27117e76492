package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/vpnledger/internal/config"
	obsmetrics "github.com/smallbiznis/vpnledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyEdgeReportServer = "vpnledger:edge:server:%s"
	edgeReportEndpoint  = "edge_report"
)

// EdgeReportLimiter caps connection start/end reports per edge server.
type EdgeReportLimiter struct {
	enabled bool
	bucket  *TokenBucket
	metrics *obsmetrics.Metrics
	log     *zap.Logger

	rate  float64
	burst int
}

type EdgeReportLimiterParams struct {
	fx.In

	Config  config.Config
	Client  *redis.Client       `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
	Log     *zap.Logger
}

func NewEdgeReportLimiter(p EdgeReportLimiterParams) (*EdgeReportLimiter, error) {
	limitCfg := p.Config.RateLimit
	if !limitCfg.Enabled || p.Client == nil {
		return &EdgeReportLimiter{}, nil
	}
	if limitCfg.EdgeReportRate <= 0 || limitCfg.EdgeReportBurst <= 0 {
		return nil, errors.New("edge report rate limit must be positive")
	}

	return &EdgeReportLimiter{
		enabled: true,
		bucket:  NewTokenBucket(p.Client),
		metrics: p.Metrics,
		log:     p.Log.Named("ratelimit.edge"),
		rate:    limitCfg.EdgeReportRate,
		burst:   limitCfg.EdgeReportBurst,
	}, nil
}

func (l *EdgeReportLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowServer consumes one token for serverID. Redis failures fail open.
func (l *EdgeReportLimiter) AllowServer(ctx context.Context, serverID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyEdgeReportServer, strings.TrimSpace(serverID))
	res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		l.log.Warn("ratelimit.edge.unavailable", zap.String("server_id", serverID), zap.Error(err))
		return &RateLimitResult{Allowed: true}, nil
	}
	if res.Allowed {
		l.metrics.RecordRateLimitAllowed(ctx, edgeReportEndpoint)
	} else {
		l.metrics.RecordRateLimitDenied(ctx, edgeReportEndpoint, "limit")
	}
	return res, nil
}
