package providers

import (
	"github.com/smallbiznis/vpnledger/internal/notify"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	notify.Module,
)
