package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	reportingdomain "github.com/smallbiznis/vpnledger/internal/reporting/domain"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
)

func (s *Server) GetHistoricalStats(c *gin.Context) {
	userID, err := parseOptionalSnowflakeID(c.Query("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}
	serverID, err := parseOptionalSnowflakeID(c.Query("server_id"))
	if err != nil {
		AbortWithError(c, newValidationError("server_id", "invalid_server_id", "invalid server id"))
		return
	}
	period := statsdomain.PeriodDaily
	if raw := strings.TrimSpace(c.Query("period")); raw != "" {
		if period, err = statsdomain.ParsePeriod(raw); err != nil {
			AbortWithError(c, err)
			return
		}
	}
	from, to, err := parseRange(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	rows, err := s.connections.GetHistoricalStats(c.Request.Context(), reportingdomain.HistoricalQuery{
		UserID:   userID,
		ServerID: serverID,
		Period:   period,
		From:     from,
		To:       to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (s *Server) ExportStats(c *gin.Context) {
	userID, err := parseOptionalSnowflakeID(c.Query("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}
	var period statsdomain.Period
	if raw := strings.TrimSpace(c.Query("period")); raw != "" {
		if period, err = statsdomain.ParsePeriod(raw); err != nil {
			AbortWithError(c, err)
			return
		}
	}
	from, to, err := parseRange(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data, filename, err := s.connections.ExportCsv(c.Request.Context(), reportingdomain.ExportRequest{
		Type:   reportingdomain.ExportType(strings.ToLower(strings.TrimSpace(c.Query("type")))),
		Period: period,
		From:   from,
		To:     to,
		UserID: userID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// parseRange reads from/to. A date-only "to" covers the whole day.
func parseRange(c *gin.Context) (time.Time, time.Time, error) {
	from, err := parseOptionalTime(c.Query("from"), false)
	if err != nil {
		return time.Time{}, time.Time{}, newValidationError("from", "invalid_from", "invalid from time")
	}
	to, err := parseOptionalTime(c.Query("to"), true)
	if err != nil {
		return time.Time{}, time.Time{}, newValidationError("to", "invalid_to", "invalid to time")
	}
	if from == nil || to == nil {
		return time.Time{}, time.Time{}, newValidationError("range", "required", "from and to are required")
	}
	return *from, *to, nil
}
