package recurring

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideRepository(db *gorm.DB) Repository {
	return NewRepository(db)
}

var Module = fx.Module("recurring.module",
	fx.Provide(
		NewService,
		ProvideRepository,
	),
)

var Server = fx.Module("recurring.server",
	Module,
	fx.Invoke(RegisterRoutes),
)

// Worker runs the evaluation loop; used by the background binary so the API
// binary never double-generates.
var Worker = fx.Module("recurring.worker",
	Module,
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)
