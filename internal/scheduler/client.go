package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"

	"outreach_backend/internal/events"
	"outreach_backend/platform/config"
	"outreach_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
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

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueContactEvaluation schedules a single out-of-band evaluation for one
// contact, outside the periodic sweep.
func (c *Client) EnqueueContactEvaluation(ctx context.Context, contactID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewContactEvaluateTask(ContactEvaluatePayload{ContactID: contactID.String()})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue))
	return err
}

// NotifyQueueItem publishes a fallback queue item to the automation queue so
// the browser worker pool picks it up without polling.
func (c *Client) NotifyQueueItem(ctx context.Context, payload AutomationQueueItemPayload) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewAutomationQueueItemTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(automationQueue))
	return err
}

// RegisterHandlers subscribes the client to domain events: every MessageQueued
// becomes an automation task, and an unblocked contact gets an immediate
// evaluation instead of waiting for the next sweep.
func (c *Client) RegisterHandlers(bus events.Bus, log *logger.Logger) {
	bus.Subscribe(events.ContactUnblocked{}.EventName(), events.HandlerFunc(
		func(ctx context.Context, event events.Event) error {
			unblocked, ok := event.(events.ContactUnblocked)
			if !ok {
				return nil
			}
			if err := c.EnqueueContactEvaluation(ctx, unblocked.ContactID); err != nil {
				log.Error("contact evaluation enqueue failed",
					"contact_id", unblocked.ContactID.String(), "error", err)
				return err
			}
			return nil
		}))

	bus.Subscribe(events.MessageQueued{}.EventName(), events.HandlerFunc(
		func(ctx context.Context, event events.Event) error {
			queued, ok := event.(events.MessageQueued)
			if !ok {
				return nil
			}
			err := c.NotifyQueueItem(ctx, AutomationQueueItemPayload{
				QueueItemID: queued.QueueItemID.String(),
				AccountID:   queued.AccountID.String(),
				ContactID:   queued.ContactID.String(),
				Priority:    queued.Priority,
			})
			if err != nil {
				log.Error("automation notify failed",
					"queue_item_id", queued.QueueItemID.String(), "error", err)
			}
			return err
		}))
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
