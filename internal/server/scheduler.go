package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListSchedulerTasks(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": s.scheduler.Status()})
}

func (s *Server) RunSchedulerTask(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	status, err := s.scheduler.RunNow(c.Request.Context(), c.Param("name"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}
