package tokens

import (
	"github.com/smallbiznis/vpnledger/internal/tokens/repository"
	"github.com/smallbiznis/vpnledger/internal/tokens/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tokens.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(fx.Annotate(service.NewSettlementHandler, fx.ResultTags(`group:"session.close"`))),
)
