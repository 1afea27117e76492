package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	connectiondomain "github.com/smallbiznis/vpnledger/internal/connection/domain"
)

type validateConnectionRequest struct {
	UserID snowflake.ID `json:"user_id"`
}

func (s *Server) ValidateConnection(c *gin.Context) {
	var req validateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.connections.ValidateConnectionAllowed(c.Request.Context(), req.UserID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"allowed": true})
}

func (s *Server) StartConnection(c *gin.Context) {
	var req connectiondomain.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	session, err := s.connections.RecordConnectionStart(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (s *Server) EndConnection(c *gin.Context) {
	var req connectiondomain.EndRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	session, err := s.connections.RecordConnectionEnd(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"ended": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ended": true, "session": session})
}
