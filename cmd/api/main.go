package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outreach_backend/internal/accounts"
	"outreach_backend/internal/blockdetect"
	"outreach_backend/internal/contacts"
	"outreach_backend/internal/events"
	apphttp "outreach_backend/internal/http"
	"outreach_backend/internal/messaging"
	"outreach_backend/internal/messaging/provider"
	"outreach_backend/internal/messaging/windows"
	"outreach_backend/internal/pipeline"
	"outreach_backend/internal/scheduler"
	"outreach_backend/internal/sequences"
	"outreach_backend/platform/config"
	"outreach_backend/platform/db"
	"outreach_backend/platform/logger"
	"outreach_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	contactsRepo := contacts.New(pool)
	accountsRepo := accounts.New(pool)
	locks := contacts.NewKeylock()

	windowCalc := windows.NewCalculator(cfg.GetServiceWindow(), cfg.GetFreeEntryWindow())
	providerClient := provider.NewClient(cfg, log)

	messagingModule := messaging.NewModule(pool, providerClient, windowCalc,
		contactsRepo, accountsRepo, eventBus, log, val)
	pipelineModule := pipeline.NewModule(pool, eventBus, log, val)

	// Template variables need CRM context; the bridge supplies it.
	messagingModule.Router().SetTemplateContextBuilder(pipelineModule.Bridge())

	seqRepo := sequences.NewRepository(pool)
	engine := sequences.NewEngine(contactsRepo, seqRepo, messagingModule.Messages(),
		messagingModule.Router(), pipelineModule.Bridge(), locks, eventBus, cfg, log)
	sequencesModule := sequences.NewModule(seqRepo, engine, contactsRepo, val)

	// Stage automation needs the engine; set after construction to break the
	// pipeline ↔ sequences cycle.
	pipelineModule.Bridge().SetSequenceControl(engine)

	issues := blockdetect.NewIssueRepository(pool)
	detector := blockdetect.NewDetector(contactsRepo, messagingModule.Messages(),
		accountsRepo, providerClient, engine, issues, eventBus, cfg, log)
	blockdetectModule := blockdetect.NewModule(detector, issues)

	// Queued fallbacks notify the automation worker pool through asynq.
	if closeSchedClient := initSchedulerClient(cfg, eventBus, log); closeSchedClient != nil {
		defer closeSchedClient()
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			sequencesModule,
			messagingModule,
			pipelineModule,
			blockdetectModule,
		},
	}

	router := apphttp.NewRouter(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- router.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initSchedulerClient(cfg config.SchedulerConfig, bus events.Bus, log *logger.Logger) func() {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; automation queue notifications disabled")
		return nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		return nil
	}
	client.RegisterHandlers(bus, log)

	return func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
