// Package scheduler runs the background side of the system on asynq: the
// periodic batch sweep, the block audit, per-contact evaluations and the
// notification task handed to the browser-automation worker pool.
package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskSequencesSweep = "sequences.sweep"

const TaskBlockAudit = "blockdetect.audit"

const TaskContactEvaluate = "contacts.evaluate"

const TaskAutomationQueueItem = "automation.queue.item"

// automationQueue is the dedicated asynq queue the external browser-automation
// collaborator consumes from.
const automationQueue = "automation"

type ContactEvaluatePayload struct {
	ContactID string `json:"contactId"`
}

type AutomationQueueItemPayload struct {
	QueueItemID string `json:"queueItemId"`
	AccountID   string `json:"accountId"`
	ContactID   string `json:"contactId"`
	Priority    string `json:"priority"`
}

func NewContactEvaluateTask(payload ContactEvaluatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskContactEvaluate, data), nil
}

func ParseContactEvaluatePayload(task *asynq.Task) (ContactEvaluatePayload, error) {
	var payload ContactEvaluatePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ContactEvaluatePayload{}, err
	}
	return payload, nil
}

func NewAutomationQueueItemTask(payload AutomationQueueItemPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAutomationQueueItem, data), nil
}

func ParseAutomationQueueItemPayload(task *asynq.Task) (AutomationQueueItemPayload, error) {
	var payload AutomationQueueItemPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AutomationQueueItemPayload{}, err
	}
	return payload, nil
}
