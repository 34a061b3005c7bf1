package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"opsdesk/pkg/config"
	"opsdesk/pkg/db"
	"opsdesk/pkg/gen"
	"opsdesk/pkg/health"
	"opsdesk/pkg/logger"
	"opsdesk/pkg/objstore"
	"opsdesk/pkg/redis"
	"opsdesk/pkg/server"
	"opsdesk/pkg/task"
	"opsdesk/services/audit"
	"opsdesk/services/authz"
	"opsdesk/services/bootstrap"
	"opsdesk/services/recurring"
	"opsdesk/services/ticket"
	"opsdesk/services/user"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		redis.Module,
		task.Client,
		objstore.Module,
		server.Module,
		health.Module,

		authz.Module,
		audit.Module,
		bootstrap.Module,
		user.Server,
		ticket.Server,
		recurring.Server,

		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
