package blockchain

import "go.uber.org/fx"

var Module = fx.Module("blockchain",
	fx.Provide(NewHTTPClient),
)
