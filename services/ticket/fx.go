package ticket

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideRepository(db *gorm.DB) Repository {
	return NewRepository(db)
}

var Module = fx.Module("ticket.module",
	fx.Provide(
		NewService,
		ProvideRepository,
	),
)

var Server = fx.Module("ticket.server",
	Module,
	fx.Invoke(RegisterRoutes),
)
