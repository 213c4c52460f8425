package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/mestredigital/creditos/internal/clock"
	"github.com/mestredigital/creditos/internal/config"
	"github.com/mestredigital/creditos/internal/migration"
	"github.com/mestredigital/creditos/internal/observability"
	"github.com/mestredigital/creditos/internal/scheduler"
	"github.com/mestredigital/creditos/internal/server"
	"github.com/mestredigital/creditos/pkg/db"
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
		scheduler.Module,
		server.Module,
	)

	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	return node, nil
}
