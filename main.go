package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"travel-missions/clients"
	"travel-missions/config"
	"travel-missions/handlers"
	"travel-missions/logging"
	"travel-missions/metrics"
	"travel-missions/services"
	"travel-missions/store"
	"travel-missions/telemetry"
	"travel-missions/utils"
	"travel-missions/workers"
)

const serviceName = "travel-missions"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTELEndpoint)
	if err != nil {
		log.WithError(err).Fatal("failed to set up tracing")
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.WithError(err).Fatal("failed to get database handle")
	}

	st := store.NewGormStore(db)
	if err := st.Migrate(); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	generator := clients.NewOpenAIGenerator(cfg.Generator.BaseURL, cfg.Generator.APIKey, cfg.Generator.Model, cfg.Generator.Timeout)
	images := &services.ImageChecker{Log: log}
	if cfg.Labeler.URL != "" {
		images.Validator = clients.NewLabelerClient(cfg.Labeler.URL, cfg.Labeler.Token, cfg.Labeler.MinScore, log)
	} else {
		log.Warn("⚠️  LABELER_URL not set, completion photos are not validated")
		images.Validator = clients.AcceptAllValidator{Log: log}
	}
	if cfg.R2.Enabled() {
		r2, err := utils.NewR2(ctx, cfg.R2)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize R2 client")
		}
		images.Resolver = r2
	}

	var lock services.GenerationLock = services.NewLocalLock()
	if cfg.RedisURL != "" {
		rdb, err := clients.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		defer rdb.Close()
		lock = clients.NewRedisLock(rdb, cfg.Generator.Timeout+10*time.Second, log)
		log.Info("🔒 generation lock backed by redis")
	}

	achievements := services.NewAchievementService(st, log, m)
	if err := achievements.SeedDefaults(ctx); err != nil {
		log.WithError(err).Fatal("failed to seed achievements")
	}

	app := handlers.NewApp(handlers.Deps{
		Missions:       services.NewMissionService(st, generator, lock, log, m),
		Lifecycle:      services.NewLifecycleService(st, images, achievements, log, m),
		Challenges:     services.NewChallengeService(st, generator, images, achievements, log, m),
		Achievements:   achievements,
		Progress:       services.NewProgressService(st),
		Log:            log,
		Metrics:        m,
		Gatherer:       reg,
		GatewayToken:   cfg.GatewayToken,
		AllowedOrigins: cfg.AllowedOrigins,
		Ready:          sqlDB.PingContext,
	})

	reconciler := workers.NewReconciler(st, achievements, cfg.ReconcileInterval, log)
	if err := reconciler.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start reconciler")
	}

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.WithError(err).Error("server error")
			stop()
		}
	}()

	log.WithFields(logrus.Fields{
		"port":    cfg.Port,
		"origins": cfg.AllowedOrigins,
		"r2":      cfg.R2.Enabled(),
		"labeler": cfg.Labeler.URL != "",
	}).Info("✅ Server running")

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracer shutdown failed")
	}
	if err := sqlDB.Close(); err != nil {
		log.WithError(err).Warn("database close failed")
	}
}
