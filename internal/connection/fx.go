package connection

import (
	"github.com/smallbiznis/vpnledger/internal/connection/service"
	"go.uber.org/fx"
)

var Module = fx.Module("connection.service",
	fx.Provide(service.NewService),
)
