package servermetrics

import (
	"github.com/smallbiznis/vpnledger/internal/servermetrics/puller"
	"github.com/smallbiznis/vpnledger/internal/servermetrics/repository"
	"github.com/smallbiznis/vpnledger/internal/servermetrics/service"
	"go.uber.org/fx"
)

var Module = fx.Module("servermetrics.service",
	fx.Provide(repository.Provide),
	fx.Provide(puller.NewHTTPPuller),
	fx.Provide(service.NewService),
)
