package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/outreach-engine/internal/config"
	gateway "github.com/nimasrn/outreach-engine/internal/gateways"
	"github.com/nimasrn/outreach-engine/internal/handlers"
	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/internal/processor"
	"github.com/nimasrn/outreach-engine/internal/ratelimit"
	"github.com/nimasrn/outreach-engine/internal/repository"
	"github.com/nimasrn/outreach-engine/internal/scheduler"
	"github.com/nimasrn/outreach-engine/internal/sequence"
	"github.com/nimasrn/outreach-engine/internal/services"
	"github.com/nimasrn/outreach-engine/internal/targeting"
	"github.com/nimasrn/outreach-engine/internal/templates"
	"github.com/nimasrn/outreach-engine/pkg/clock"
	xhttp "github.com/nimasrn/outreach-engine/pkg/http"
	"github.com/nimasrn/outreach-engine/pkg/logger"
	"github.com/nimasrn/outreach-engine/pkg/pg"
	"github.com/nimasrn/outreach-engine/pkg/prom"
	"github.com/nimasrn/outreach-engine/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting outreach scheduler", "version", version, "commit", commit, "date", date)

	readConf := pg.Config{
		User:     cfg.PostgresReadUser,
		Host:     cfg.PostgresReadHost,
		Port:     cfg.PostgresReadPort,
		Password: cfg.PostgresReadPassword,
		Database: cfg.PostgresReadDatabase,
		SSLMode:  cfg.PostgresSSLMode,
	}
	writeConf := pg.Config{
		User:     cfg.PostgresWriteUser,
		Host:     cfg.PostgresWriteHost,
		Port:     cfg.PostgresWritePort,
		Password: cfg.PostgresWritePassword,
		Database: cfg.PostgresWriteDatabase,
		SSLMode:  cfg.PostgresSSLMode,
	}

	pgDebug := false
	if cfg.AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}
	defer db.Close()

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: "default",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	smsClient, err := gateway.NewSMSClient(smsConfig(cfg))
	if err != nil {
		logger.Error("failed to create sms gateway", "error", err)
		return
	}
	defer smsClient.Close()

	router := gateway.NewRouter().Handle(model.ChannelSMS, smsClient)
	if cfg.EmailApiUrl != "" {
		router.Handle(model.ChannelEmail, gateway.NewEmailClient(gateway.EmailConfig{
			URL:     cfg.EmailApiUrl,
			APIKey:  cfg.EmailApiKey,
			Sender:  cfg.EmailSender,
			Timeout: cfg.ProviderTimeout,
		}))
	}
	for _, ch := range []model.Channel{model.ChannelSMS, model.ChannelEmail} {
		if !router.Supports(ch) {
			logger.Warn("no provider configured, messages on this channel will fail on dispatch", "channel", ch)
		}
	}

	clk := clock.System{}
	loc := cfg.Location()

	recipientRepo := repository.NewRecipientRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	optOutRepo := repository.NewOptOutRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	counter := ratelimit.NewCounter(messageRepo, clk, loc, ratelimit.Limits{
		Hourly: cfg.GlobalHourlyLimit,
		Daily:  cfg.GlobalDailyLimit,
	}).WithMirror(redisAdap)
	if err = counter.Reconcile(context.Background()); err != nil {
		logger.Error("failed to reconcile rate counters", "error", err)
		return
	}
	admission := ratelimit.NewAdmission(messageRepo, clk, loc, cfg.CampaignBatchCeiling)

	dispatcher := processor.NewDispatcher(
		messageRepo,
		campaignRepo,
		optOutRepo,
		admission,
		settingsRepo,
		router,
		counter,
		clk,
		processor.DispatcherConfig{
			Defaults: model.Settings{
				GlobalHourlyLimit: cfg.GlobalHourlyLimit,
				GlobalDailyLimit:  cfg.GlobalDailyLimit,
				DispatchDelay:     cfg.DispatchDelay,
				DispatchBatchSize: cfg.DispatchBatchSize,
				ReclaimTimeout:    cfg.ReclaimTimeout,
			},
			Concurrency: cfg.DispatchConcurrency,
		},
	).WithTransactor(db)

	monitor := processor.NewHealthMonitor(messageRepo, settingsRepo, clk, processor.HealthConfig{
		ReclaimTimeout:        cfg.ReclaimTimeout,
		StalePendingThreshold: cfg.StalePendingThreshold,
	})

	generator := services.NewGenerationService(
		campaignRepo,
		messageRepo,
		optOutRepo,
		targeting.NewFilter(recipientRepo, clk),
		sequence.NewResolver(messageRepo, clk, loc),
		sequence.Default(),
		templates.Default(),
		admission,
		clk,
		services.GenerationConfig{PageSize: cfg.TargetingPageSize},
	)

	sched := scheduler.New(clk, dispatcher, generator, monitor, counter, scheduler.Config{
		DispatchInterval:   cfg.DispatchInterval,
		GenerationInterval: cfg.GenerationInterval,
		HealthInterval:     cfg.HealthInterval,
		CounterInterval:    cfg.CounterCheckInterval,
		TaskTimeout:        cfg.TaskTimeout,
	}).WithLock(processor.NewTickLock(redisAdap, processor.LockConfig{TTL: cfg.TickLockTTL}))

	// ops transport
	s := xhttp.CreateServer()
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.GET("/metrics", prom.Handler())

	g := s.Router.Group("/api/v1")
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler().Check("postgres", db).Check("redis", redisAdap))
	handlers.RegisterSchedulerRoutes(g, handlers.NewSchedulerHandler(sched))
	handlers.RegisterProviderRoutes(g, handlers.NewProviderHandler(smsClient))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(cfg.HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	<-c
	cancel()
	sched.Stop()
	counter.Flush(context.Background())
	s.Shutdown()
	logger.Sync()
}

func smsConfig(cfg *config.Config) *gateway.SMSConfig {
	c := gateway.DefaultSMSConfig(
		gateway.ProviderConfig{Name: "primary", URL: cfg.ProviderPrimaryUrl, Weight: 100},
		gateway.ProviderConfig{Name: "secondary", URL: cfg.ProviderSecondaryUrl, Weight: 80},
		gateway.ProviderConfig{Name: "backup", URL: cfg.ProviderBackupUrl, Weight: 60},
	)
	c.Timeout = cfg.ProviderTimeout
	return c
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
