package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vpnledger/internal/clock"
	"github.com/smallbiznis/vpnledger/internal/config"
	"github.com/smallbiznis/vpnledger/internal/observability"
	"github.com/smallbiznis/vpnledger/internal/server"
	"github.com/smallbiznis/vpnledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Edge reports, stats, quota and token routes. No scheduler here;
		// /api/v1/scheduler/tasks answers 503.
		server.Domains,

		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterAPIRoutes()
		}),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
