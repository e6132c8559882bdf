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
	log.Info("starting sweeper", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	// Worker-side sequence wiring (no HTTP handlers required).
	contactsRepo := contacts.New(pool)
	accountsRepo := accounts.New(pool)
	locks := contacts.NewKeylock()

	windowCalc := windows.NewCalculator(cfg.GetServiceWindow(), cfg.GetFreeEntryWindow())
	providerClient := provider.NewClient(cfg, log)

	messagingModule := messaging.NewModule(pool, providerClient, windowCalc,
		contactsRepo, accountsRepo, eventBus, log, val)
	pipelineModule := pipeline.NewModule(pool, eventBus, log, val)
	messagingModule.Router().SetTemplateContextBuilder(pipelineModule.Bridge())

	seqRepo := sequences.NewRepository(pool)
	engine := sequences.NewEngine(contactsRepo, seqRepo, messagingModule.Messages(),
		messagingModule.Router(), pipelineModule.Bridge(), locks, eventBus, cfg, log)
	pipelineModule.Bridge().SetSequenceControl(engine)

	issues := blockdetect.NewIssueRepository(pool)
	detector := blockdetect.NewDetector(contactsRepo, messagingModule.Messages(),
		accountsRepo, providerClient, engine, issues, eventBus, cfg, log)

	// Queued fallbacks raised during sweeps notify the automation worker pool.
	if cfg.GetRedisURL() != "" {
		client, err := scheduler.NewClient(cfg)
		if err != nil {
			log.Error("failed to initialize scheduler client", "error", err)
			panic("failed to initialize scheduler client: " + err.Error())
		}
		defer func() { _ = client.Close() }()
		client.RegisterHandlers(eventBus, log)
	}

	periodic, err := scheduler.NewPeriodic(cfg, log)
	if err != nil {
		log.Error("failed to initialize periodic scheduler", "error", err)
		panic("failed to initialize periodic scheduler: " + err.Error())
	}
	go func() {
		<-ctx.Done()
		periodic.Shutdown()
	}()
	go func() {
		if err := periodic.Run(); err != nil {
			log.Error("periodic scheduler stopped", "error", err)
		}
	}()

	worker, err := scheduler.NewWorker(cfg, engine, detector, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
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
