package account

import (
	"github.com/smallbiznis/vpnledger/internal/account/service"
	"go.uber.org/fx"
)

var Module = fx.Module("account.directory",
	fx.Provide(service.NewDirectory),
)
