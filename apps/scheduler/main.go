package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vpnledger/internal/clock"
	"github.com/smallbiznis/vpnledger/internal/config"
	"github.com/smallbiznis/vpnledger/internal/observability"
	"github.com/smallbiznis/vpnledger/internal/retention"
	"github.com/smallbiznis/vpnledger/internal/scheduler"
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

		// Domain services required by the scheduled tasks
		server.Domains,
		retention.Module,
		scheduler.Module,

		// No HTTP server; replicas coordinate through the redis task locks.
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
