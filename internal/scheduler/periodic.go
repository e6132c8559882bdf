package scheduler

import (
	"fmt"
	"time"

	"outreach_backend/platform/config"
	"outreach_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Periodic registers the recurring tasks: the batch sweep and the block
// audit. It runs alongside the worker in the sweeper process.
type Periodic struct {
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

func NewPeriodic(cfg config.SchedulerConfig, log *logger.Logger) (*Periodic, error) {
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

	sweepInterval := cfg.GetSweepInterval()
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	auditInterval := cfg.GetBlockAuditInterval()
	if auditInterval <= 0 {
		auditInterval = time.Hour
	}

	sched := asynq.NewScheduler(opt, &asynq.SchedulerOpts{})

	if _, err := sched.Register(
		fmt.Sprintf("@every %s", sweepInterval),
		asynq.NewTask(TaskSequencesSweep, nil),
		asynq.Queue(queue),
	); err != nil {
		return nil, fmt.Errorf("register sweep task: %w", err)
	}
	if _, err := sched.Register(
		fmt.Sprintf("@every %s", auditInterval),
		asynq.NewTask(TaskBlockAudit, nil),
		asynq.Queue(queue),
	); err != nil {
		return nil, fmt.Errorf("register block audit task: %w", err)
	}

	log.Info("periodic tasks registered",
		"sweep_interval", sweepInterval.String(),
		"audit_interval", auditInterval.String())

	return &Periodic{scheduler: sched, log: log}, nil
}

func (p *Periodic) Run() error {
	if p == nil || p.scheduler == nil {
		return nil
	}
	return p.scheduler.Run()
}

func (p *Periodic) Shutdown() {
	if p == nil || p.scheduler == nil {
		return
	}
	p.scheduler.Shutdown()
}
