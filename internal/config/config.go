package config

import (
	"fmt"
	"os"
	"raid-attendance/internal/attendance"
	"raid-attendance/internal/constants"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"gopkg.in/yaml.v2"
)

type Config struct {
	LogsAPIKey      string
	LogsAPIURL      string
	LogsGuildID     string
	DBPath          string
	ServerPort      string
	LogLevel        string
	Timezone        string
	CutoffHour      int
	GuildConfigPath string
	Guild           GuildSettings
	Location        *time.Location
}

// GuildSettings is the optional YAML guild file. Ranks and tags listed here
// are seeded into the roster on startup. Its timezone and cutoff hour apply
// only when GUILD_TIMEZONE and DAY_CUTOFF_HOUR are unset.
type GuildSettings struct {
	Timezone   string        `yaml:"timezone"`
	CutoffHour *int          `yaml:"cutoff_hour"`
	Ranks      []Eligibility `yaml:"ranks"`
	Tags       []Eligibility `yaml:"tags"`
}

type Eligibility struct {
	Name               string `yaml:"name"`
	CountsToAttendance bool   `yaml:"counts_to_attendance"`
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cutoff, err := strconv.Atoi(getEnv("DAY_CUTOFF_HOUR", strconv.Itoa(constants.DefaultCutoffHour)))
	if err != nil {
		return nil, fmt.Errorf("invalid DAY_CUTOFF_HOUR: %w", err)
	}

	cfg := &Config{
		LogsAPIKey:      getEnv("LOGS_API_KEY", ""),
		LogsAPIURL:      getEnv("LOGS_API_URL", "https://www.warcraftlogs.com/v1"),
		LogsGuildID:     getEnv("LOGS_GUILD_ID", ""),
		DBPath:          getEnv("DB_PATH", "attendance.db"),
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Timezone:        getEnv("GUILD_TIMEZONE", constants.DefaultTimezone),
		CutoffHour:      cutoff,
		GuildConfigPath: getEnv("GUILD_CONFIG_PATH", ""),
	}

	if cfg.LogsAPIKey == "" {
		return nil, fmt.Errorf("LOGS_API_KEY is required")
	}

	if cfg.GuildConfigPath != "" {
		guild, err := loadGuildSettings(cfg.GuildConfigPath)
		if err != nil {
			return nil, err
		}
		cfg.Guild = guild
		if guild.Timezone != "" {
			if os.Getenv("GUILD_TIMEZONE") != "" {
				logger.Warn().
					Str("env", cfg.Timezone).
					Str("guild_file", guild.Timezone).
					Msg("GUILD_TIMEZONE is set, ignoring guild file timezone")
			} else {
				cfg.Timezone = guild.Timezone
			}
		}
		if guild.CutoffHour != nil {
			if os.Getenv("DAY_CUTOFF_HOUR") != "" {
				logger.Warn().
					Int("env", cfg.CutoffHour).
					Int("guild_file", *guild.CutoffHour).
					Msg("DAY_CUTOFF_HOUR is set, ignoring guild file cutoff hour")
			} else {
				cfg.CutoffHour = *guild.CutoffHour
			}
		}
	}

	cfg.Location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid guild timezone %q: %w", cfg.Timezone, err)
	}
	if _, err := cfg.DayBoundary(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Str("timezone", cfg.Timezone).
		Int("cutoff_hour", cfg.CutoffHour).
		Int("seed_ranks", len(cfg.Guild.Ranks)).
		Int("seed_tags", len(cfg.Guild.Tags)).
		Msg("configuration loaded")

	return cfg, nil
}

func (c *Config) DayBoundary() (attendance.DayBoundary, error) {
	return attendance.NewDayBoundary(c.Location, c.CutoffHour)
}

func loadGuildSettings(path string) (GuildSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GuildSettings{}, fmt.Errorf("failed to read guild config: %w", err)
	}
	var guild GuildSettings
	if err := yaml.UnmarshalStrict(data, &guild); err != nil {
		return GuildSettings{}, fmt.Errorf("failed to parse guild config: %w", err)
	}
	return guild, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var Module = fx.Provide(Load)
