package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/outreach-engine/pkg/logger"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every env driven setting of the engine. Only this struct
// must be used to hold configuration values; no direct access to env
// or any other config source should be made elsewhere.
type Config struct {
	AppEnv   string `env:"APP_ENV,default=dev"`
	AppName  string `env:"APP_NAME,default=outreach_engine"`
	AppDebug bool   `env:"APP_DEBUG,default=false"`

	// ops server: /metrics, /api/v1/health and /api/v1/scheduler/*
	HttpListenAddr string `env:"HTTP_LISTEN_ADDR,default=:8080"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`
	PostgresSSLMode       string `env:"POSTGRES_SSLMODE,default=disable"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=outreach:"`

	PromNamespace string `env:"PROM_NAMESPACE,default=outreach"`

	ProviderPrimaryUrl   string        `env:"PROVIDER_PRIMARY_URL"`
	ProviderSecondaryUrl string        `env:"PROVIDER_SECONDARY_URL"`
	ProviderBackupUrl    string        `env:"PROVIDER_BACKUP_URL"`
	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT,default=5s"`

	EmailApiUrl string `env:"EMAIL_API_URL"`
	EmailApiKey string `env:"EMAIL_API_KEY"`
	EmailSender string `env:"EMAIL_SENDER"`

	GlobalHourlyLimit     int           `env:"GLOBAL_HOURLY_LIMIT,default=200"`
	GlobalDailyLimit      int           `env:"GLOBAL_DAILY_LIMIT,default=1000"`
	DispatchBatchSize     int           `env:"DISPATCH_BATCH_SIZE,default=50"`
	DispatchDelay         time.Duration `env:"DISPATCH_DELAY,default=2s"`
	DispatchConcurrency   int           `env:"DISPATCH_CONCURRENCY,default=4"`
	CampaignBatchCeiling  int           `env:"CAMPAIGN_BATCH_CEILING,default=50"`
	DispatchInterval      time.Duration `env:"DISPATCH_INTERVAL,default=5m"`
	GenerationInterval    time.Duration `env:"GENERATION_INTERVAL,default=1h"`
	HealthInterval        time.Duration `env:"HEALTH_INTERVAL,default=30m"`
	CounterCheckInterval  time.Duration `env:"COUNTER_CHECK_INTERVAL,default=1m"`
	ReclaimTimeout        time.Duration `env:"RECLAIM_TIMEOUT,default=1h"`
	StalePendingThreshold time.Duration `env:"STALE_PENDING_THRESHOLD,default=6h"`
	SchedulerTimezone     string        `env:"SCHEDULER_TIMEZONE,default=UTC"`
	TargetingPageSize     int           `env:"TARGETING_PAGE_SIZE,default=500"`
	TickLockTTL           time.Duration `env:"TICK_LOCK_TTL,default=2m"`
	TaskTimeout           time.Duration `env:"TASK_TIMEOUT,default=30m"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}
	if _, err := time.LoadLocation(c.SchedulerTimezone); err != nil {
		return errors.Wrapf(err, "invalid SCHEDULER_TIMEZONE %q", c.SchedulerTimezone)
	}

	config = c
	return nil
}

// Set replaces the active configuration; used by tests and tools that build
// a Config by hand.
func Set(c *Config) {
	config = c
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// Location resolves SchedulerTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.SchedulerTimezone)
	if err != nil || c.SchedulerTimezone == "" {
		return time.UTC
	}
	return loc
}
