package service

import (
	"context"

	quotadomain "github.com/smallbiznis/vpnledger/internal/quota/domain"
	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
)

// SessionUsageHandler records a closed session's bytes against the quota.
type SessionUsageHandler struct {
	quota quotadomain.Service
}

func NewSessionUsageHandler(quota quotadomain.Service) sessiondomain.CloseHandler {
	return &SessionUsageHandler{quota: quota}
}

func (h *SessionUsageHandler) Name() string { return "quota.usage" }

func (h *SessionUsageHandler) OnSessionClosed(ctx context.Context, session sessiondomain.Session) error {
	_, err := h.quota.RecordUsage(ctx, sessionUsageRequest(session))
	return err
}
