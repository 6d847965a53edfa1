package fx

import (
	"raid-attendance/internal/api"
	"raid-attendance/internal/config"
	"raid-attendance/internal/database"
	"raid-attendance/internal/logger"
	"raid-attendance/internal/metrics"
	"raid-attendance/internal/repository"
	"raid-attendance/internal/server"
	"raid-attendance/internal/service"

	"go.uber.org/fx"
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	fx.Provide(database.New),
	fx.Provide(metrics.New),
	// repos
	fx.Provide(repository.NewRosterRepository),
	fx.Provide(repository.NewRaidRepository),
	fx.Provide(repository.NewReportRepository),
	// api client
	fx.Provide(api.NewLogsClient),
	// svc
	fx.Provide(service.NewAttendanceService),
	// server
	fx.Provide(server.NewAttendanceServer),
)
