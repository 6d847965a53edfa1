package constants

import "time"

const (
	ReportRefreshTTL = 10 * time.Minute
	ReportLookback   = 365 * 24 * time.Hour
)

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	DBBatchSize       = 100
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultTimezone   = "America/New_York"
	DefaultCutoffHour = 5
)

const (
	SourceLogsAPI = "logs-api"
	SourceRoster  = "roster"
)
