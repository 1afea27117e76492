package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	servermetricsdomain "github.com/smallbiznis/vpnledger/internal/servermetrics/domain"
)

func (s *Server) IngestServerMetrics(c *gin.Context) {
	serverID, err := requireSnowflakeID(c.Param("id"), "server_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var report servermetricsdomain.Report
	if err := c.ShouldBindJSON(&report); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.serverMetrics.Ingest(c.Request.Context(), serverID, report); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) GetServerMetrics(c *gin.Context) {
	serverID, err := requireSnowflakeID(c.Param("id"), "server_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	snapshot, err := s.serverMetrics.Latest(c.Request.Context(), serverID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if snapshot == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
