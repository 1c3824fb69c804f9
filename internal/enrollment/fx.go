package enrollment

import (
	"github.com/classbridge/schoolops/internal/enrollment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("enrollment.service",
	fx.Provide(service.NewService),
)
