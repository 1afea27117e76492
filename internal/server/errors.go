package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	quotadomain "github.com/smallbiznis/vpnledger/internal/quota/domain"
	reportingdomain "github.com/smallbiznis/vpnledger/internal/reporting/domain"
	"github.com/smallbiznis/vpnledger/internal/scheduler"
	servermetricsdomain "github.com/smallbiznis/vpnledger/internal/servermetrics/domain"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	statsdomain "github.com/smallbiznis/vpnledger/internal/stats/domain"
	statsservice "github.com/smallbiznis/vpnledger/internal/stats/service"
	tokendomain "github.com/smallbiznis/vpnledger/internal/tokens/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	// Policy payloads carry the typed error text so edge servers can show it.
	if domainerr.IsPolicyViolation(err) {
		return http.StatusForbidden, errorPayload{
			Type:    "policy_violation",
			Code:    policyCode(err),
			Message: err.Error(),
		}
	}

	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, domainerr.ErrDuplicatePurchase),
		errors.Is(err, tokendomain.ErrConcurrentUpdate),
		errors.Is(err, tokendomain.ErrNoActiveSession),
		errors.Is(err, sessiondomain.ErrSessionEnded),
		errors.Is(err, scheduler.ErrTaskDisabled),
		errors.Is(err, scheduler.ErrTaskRunning):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    conflictCode(err),
			Message: "conflict",
		}
	case errors.Is(err, domainerr.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "insufficient_balance",
			Message: "insufficient token balance",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, domainerr.ErrPaymentFailed),
		errors.Is(err, servermetricsdomain.ErrPullUnavailable):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_error",
			Message: "upstream service failed",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, domainerr.ErrInvalidProduct),
		errors.Is(err, sessiondomain.ErrInvalidUser),
		errors.Is(err, sessiondomain.ErrInvalidServer),
		errors.Is(err, sessiondomain.ErrInvalidCounter),
		errors.Is(err, quotadomain.ErrInvalidUser),
		errors.Is(err, quotadomain.ErrInvalidUsage),
		errors.Is(err, quotadomain.ErrInvalidSourceKey),
		errors.Is(err, quotadomain.ErrInvalidPurchaseToken),
		errors.Is(err, quotadomain.ErrInvalidGrant),
		errors.Is(err, tokendomain.ErrInvalidAmount),
		errors.Is(err, tokendomain.ErrInvalidAddress),
		errors.Is(err, statsdomain.ErrInvalidPeriod),
		errors.Is(err, statsservice.ErrInvalidRange),
		errors.Is(err, reportingdomain.ErrInvalidExportType),
		errors.Is(err, reportingdomain.ErrInvalidRange),
		errors.Is(err, servermetricsdomain.ErrInvalidReport),
		errors.Is(err, scheduler.ErrInvalidTask):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, domainerr.ErrNotFound),
		errors.Is(err, scheduler.ErrTaskNotFound),
		errors.Is(err, servermetricsdomain.ErrNoMetricsURL),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func policyCode(err error) string {
	switch {
	case errors.Is(err, domainerr.ErrSubscriptionExpired):
		return domainerr.ErrSubscriptionExpired.Error()
	case errors.Is(err, domainerr.ErrDeviceLimitExceeded):
		return domainerr.ErrDeviceLimitExceeded.Error()
	default:
		return domainerr.ErrBandwidthExceeded.Error()
	}
}

func conflictCode(err error) string {
	for _, sentinel := range []error{
		domainerr.ErrDuplicatePurchase,
		tokendomain.ErrConcurrentUpdate,
		tokendomain.ErrNoActiveSession,
		sessiondomain.ErrSessionEnded,
		scheduler.ErrTaskDisabled,
		scheduler.ErrTaskRunning,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}

func validationErrorCode(err error) string {
	for _, sentinel := range []error{
		ErrInvalidRequest,
		domainerr.ErrInvalidProduct,
		statsdomain.ErrInvalidPeriod,
		statsservice.ErrInvalidRange,
		reportingdomain.ErrInvalidRange,
		reportingdomain.ErrInvalidExportType,
		scheduler.ErrInvalidTask,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
