package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/classbridge/schoolops/internal/billing"
	"github.com/classbridge/schoolops/internal/clock"
	"github.com/classbridge/schoolops/internal/config"
	"github.com/classbridge/schoolops/internal/enrollment"
	"github.com/classbridge/schoolops/internal/logger"
	"github.com/classbridge/schoolops/internal/scheduler"
	"github.com/classbridge/schoolops/internal/store"
	"github.com/classbridge/schoolops/internal/tuition"
	"github.com/classbridge/schoolops/pkg/db"
	"go.uber.org/fx"
)

// The engine runs headless: the HTTP surface, authn/z and the CRUD
// directory services live in separate deployments that consume these
// service interfaces. This binary hosts the overdue-invoice sweep.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		store.Module,

		tuition.Module,
		enrollment.Module,
		billing.Module,
		scheduler.Module,
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
