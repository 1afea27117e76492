package service

import (
	"context"

	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	tokendomain "github.com/smallbiznis/vpnledger/internal/tokens/domain"
)

type SettlementHandler struct {
	tokens tokendomain.Service
}

func NewSettlementHandler(tokens tokendomain.Service) sessiondomain.CloseHandler {
	return &SettlementHandler{tokens: tokens}
}

func (h *SettlementHandler) Name() string { return "tokens.settlement" }

func (h *SettlementHandler) OnSessionClosed(ctx context.Context, session sessiondomain.Session) error {
	_, err := h.tokens.SettleSession(ctx, session.ID)
	return err
}
