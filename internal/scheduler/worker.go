package scheduler

import (
	"context"
	"fmt"

	"outreach_backend/internal/blockdetect"
	"outreach_backend/internal/sequences"
	"outreach_backend/platform/config"
	"outreach_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// SweepRunner is the slice of the sequence engine the worker drives.
type SweepRunner interface {
	SweepAll(ctx context.Context) (sequences.SweepStats, error)
	EvaluateOnce(ctx context.Context, contactID uuid.UUID) (sequences.Outcome, error)
}

// Auditor is the slice of the block detector the worker drives.
type Auditor interface {
	Audit(ctx context.Context) (blockdetect.AuditStats, error)
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	engine SweepRunner
	audit  Auditor
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, engine SweepRunner, audit Auditor, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		engine: engine,
		audit:  audit,
		log:    log,
	}

	mux.HandleFunc(TaskSequencesSweep, w.handleSweep)
	mux.HandleFunc(TaskBlockAudit, w.handleBlockAudit)
	mux.HandleFunc(TaskContactEvaluate, w.handleContactEvaluate)

	return w, nil
}

func (w *Worker) handleSweep(ctx context.Context, _ *asynq.Task) error {
	_, err := w.engine.SweepAll(ctx)
	return err
}

func (w *Worker) handleBlockAudit(ctx context.Context, _ *asynq.Task) error {
	_, err := w.audit.Audit(ctx)
	return err
}

func (w *Worker) handleContactEvaluate(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseContactEvaluatePayload(task)
	if err != nil {
		return err
	}
	contactID, err := uuid.Parse(payload.ContactID)
	if err != nil {
		return err
	}

	outcome, err := w.engine.EvaluateOnce(ctx, contactID)
	if err != nil {
		return err
	}
	w.log.WithContact(contactID).Debug("out-of-band evaluation", "outcome", string(outcome))
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
