package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"opsdesk/pkg/config"
	"opsdesk/pkg/db"
	"opsdesk/pkg/gen"
	"opsdesk/pkg/logger"
	"opsdesk/pkg/redis"
	"opsdesk/pkg/task"
	"opsdesk/services/audit"
	"opsdesk/services/authz"
	"opsdesk/services/notification"
	"opsdesk/services/recurring"
	"opsdesk/services/ticket"
	"opsdesk/services/user"
)

// The worker consumes notification tasks and drives the recurring task
// generator. It shares the API binary's service wiring but exposes no HTTP
// surface.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		redis.Module,
		task.Client,
		task.Server,

		authz.Module,
		audit.Module,
		user.Module,
		ticket.Module,
		notification.Module,
		recurring.Worker,

		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
