package reporting

import (
	"github.com/smallbiznis/vpnledger/internal/reporting/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reporting.service",
	fx.Provide(service.NewHistoryCache),
	fx.Provide(service.NewExportCache),
	fx.Provide(service.NewService),
)
