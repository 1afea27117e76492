package retention

import "go.uber.org/fx"

var Module = fx.Module("retention.service",
	fx.Provide(NewService),
)
