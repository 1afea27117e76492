package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vpnledger/internal/clock"
	"github.com/smallbiznis/vpnledger/internal/config"
	"github.com/smallbiznis/vpnledger/internal/migration"
	"github.com/smallbiznis/vpnledger/internal/observability"
	"github.com/smallbiznis/vpnledger/internal/retention"
	"github.com/smallbiznis/vpnledger/internal/scheduler"
	"github.com/smallbiznis/vpnledger/internal/server"
	"github.com/smallbiznis/vpnledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		retention.Module,
		scheduler.Module,
		server.Module,
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
