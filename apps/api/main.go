package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingops/internal/clock"
	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/migration"
	"github.com/smallbiznis/billingops/internal/observability"
	"github.com/smallbiznis/billingops/internal/server"
	"github.com/smallbiznis/billingops/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// No scheduler; deploy apps/scheduler next to it.
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
