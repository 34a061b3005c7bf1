package user

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideRepository(db *gorm.DB) Repository {
	return NewRepository(db)
}

var Module = fx.Module("user.module",
	fx.Provide(
		NewService,
		ProvideRepository,
	),
)

var Server = fx.Module("user.server",
	Module,
	fx.Invoke(RegisterRoutes),
)
