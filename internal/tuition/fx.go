package tuition

import (
	"github.com/classbridge/schoolops/internal/tuition/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tuition.service",
	fx.Provide(service.NewService),
)
