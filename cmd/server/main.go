package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"raid-attendance/internal/config"
	"raid-attendance/internal/constants"
	fxmodules "raid-attendance/internal/fx"
	"raid-attendance/internal/metrics"
	"raid-attendance/internal/middleware"
	"raid-attendance/internal/server"
	"raid-attendance/internal/service"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(seedEligibility),
		fx.Invoke(runServer),
	).Run()
}

func seedEligibility(lc fx.Lifecycle, svc *service.AttendanceService, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.SeedEligibility(ctx, cfg.Guild)
		},
	})
}

func newHandler(attendanceServer *server.AttendanceServer, m *metrics.Metrics, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Content-Disposition"},
		AllowCredentials: true,
	})
	requestIDMiddleware := middleware.RequestID(logger)

	path, handler := attendanceServer.Handler()
	mux.Handle(path, requestIDMiddleware(c.Handler(handler)))
	mux.Handle(server.ExportPath, requestIDMiddleware(c.Handler(http.HandlerFunc(attendanceServer.ExportMatrix))))
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func runServer(
	lc fx.Lifecycle,
	attendanceServer *server.AttendanceServer,
	m *metrics.Metrics,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: newHandler(attendanceServer, m, logger),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
