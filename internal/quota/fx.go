package quota

import (
	"github.com/smallbiznis/vpnledger/internal/quota/repository"
	"github.com/smallbiznis/vpnledger/internal/quota/service"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(fx.Annotate(service.NewSessionUsageHandler, fx.ResultTags(`group:"session.close"`))),
)
