package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	tokendomain "github.com/smallbiznis/vpnledger/internal/tokens/domain"
	"github.com/smallbiznis/vpnledger/internal/tokens/pricing"
)

const (
	defaultEntriesLimit = 50
	maxEntriesLimit     = 500
)

type miningClaimRequest struct {
	UserID   snowflake.ID `json:"user_id"`
	ServerID snowflake.ID `json:"server_id"`
}

func (s *Server) GetTokenBalance(c *gin.Context) {
	userID, err := requireSnowflakeID(c.Param("user_id"), "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.tokenSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"balance": balance.StringFixed(pricing.Places),
	})
}

func (s *Server) ListTokenEntries(c *gin.Context) {
	userID, err := requireSnowflakeID(c.Param("user_id"), "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil || (limit != nil && *limit <= 0) {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	n := defaultEntriesLimit
	if limit != nil {
		n = min(*limit, maxEntriesLimit)
	}

	entries, err := s.tokenSvc.ListEntries(c.Request.Context(), userID, n)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) GetPendingMiningReward(c *gin.Context) {
	userID, err := requireSnowflakeID(c.Query("user_id"), "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	serverID, err := requireSnowflakeID(c.Query("server_id"), "server_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	quote, err := s.tokenSvc.PendingMiningReward(c.Request.Context(), userID, serverID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

func (s *Server) ClaimMiningReward(c *gin.Context) {
	var req miningClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 || req.ServerID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	claim, err := s.tokenSvc.ClaimMiningReward(c.Request.Context(), req.UserID, req.ServerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, claim)
}

func (s *Server) WithdrawTokens(c *gin.Context) {
	var req tokendomain.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	withdrawal, err := s.tokenSvc.Withdraw(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, withdrawal)
}
