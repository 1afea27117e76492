package session

import (
	"github.com/smallbiznis/vpnledger/internal/session/repository"
	"github.com/smallbiznis/vpnledger/internal/session/service"
	"go.uber.org/fx"
)

var Module = fx.Module("session.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
