package store

import (
	"github.com/classbridge/schoolops/internal/clock"
	storedomain "github.com/classbridge/schoolops/internal/store/domain"
	"github.com/classbridge/schoolops/internal/store/gormstore"
	"github.com/classbridge/schoolops/internal/store/occ"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func provideStore(gdb *gorm.DB, log *zap.Logger, clk clock.Clock) (storedomain.EntityStore, error) {
	return gormstore.New(gdb, log, clk)
}

func provideOCC(s storedomain.EntityStore, log *zap.Logger) *occ.Controller {
	return occ.New(s, log)
}

// Module wires the entity store and the optimistic-concurrency
// controller on top of the shared gorm connection.
var Module = fx.Module("store",
	fx.Provide(provideStore),
	fx.Provide(provideOCC),
)
