package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	quotadomain "github.com/smallbiznis/vpnledger/internal/quota/domain"
)

// PurchaseAddon answers a replayed purchase token with the addon it created.
func (s *Server) PurchaseAddon(c *gin.Context) {
	var req quotadomain.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	addon, err := s.quotaSvc.ProcessAddonPurchase(c.Request.Context(), req)
	if errors.Is(err, domainerr.ErrDuplicatePurchase) && addon != nil {
		c.JSON(http.StatusOK, gin.H{"addon": addon, "duplicate": true})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"addon": addon, "duplicate": false})
}

func (s *Server) GrantExtraLogins(c *gin.Context) {
	var req quotadomain.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	grant, err := s.quotaSvc.GrantExtraLogins(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, grant)
}

func (s *Server) GetQuotaStatus(c *gin.Context) {
	userID, err := requireSnowflakeID(c.Param("user_id"), "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.quotaSvc.QuotaStatus(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}
