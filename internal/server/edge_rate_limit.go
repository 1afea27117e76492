package server

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/vpnledger/internal/observability/logger"
	"go.uber.org/zap"
)

const headerServerID = "X-Server-Id"

type edgeReportKey struct {
	ServerID string `json:"server_id"`
}

// EdgeReportRateLimit throttles reports per edge server. Requests without a
// resolvable server id pass through.
func (s *Server) EdgeReportRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		serverID := edgeServerID(c)
		if serverID != "" {
			c.Set("server_id", serverID)
		}
		if !s.edgeLimiter.Enabled() || serverID == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		res, err := s.edgeLimiter.AllowServer(ctx, serverID)
		if err != nil {
			logger.FromContext(ctx).Warn("edge report rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			logger.FromContext(ctx).Warn("edge report rate limit exceeded",
				zap.String("server_id", serverID),
				zap.String("endpoint", c.FullPath()),
			)
			retryAfter := int(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func edgeServerID(c *gin.Context) string {
	if id := strings.TrimSpace(c.Param("id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.GetHeader(headerServerID)); id != "" {
		return id
	}
	return readEdgeReportKey(c)
}

func readEdgeReportKey(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return ""
	}

	var payload edgeReportKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.ServerID)
}
