package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/vlabcloud/vlab/internal/clock"
	"github.com/vlabcloud/vlab/internal/config"
	"github.com/vlabcloud/vlab/internal/migration"
	"github.com/vlabcloud/vlab/internal/observability"
	"github.com/vlabcloud/vlab/internal/server"
	"github.com/vlabcloud/vlab/pkg/db"
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
