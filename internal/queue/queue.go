// Package queue carries campaign batch jobs from the dispatch engine to the
// batch workers. The production backend is RabbitMQ; an in-memory queue
// serves tests and single-process runs.
package queue

import (
	"context"

	"github.com/Synergyfy/latap-messaging/internal/core"
)

// CampaignJob is the batch job payload. One job drives one bounded
// per-contact send loop in a worker.
type CampaignJob struct {
	CampaignID string       `json:"campaign_id"`
	BusinessID string       `json:"business_id"`
	Channel    core.Channel `json:"channel"`
	ContactIDs []string     `json:"contact_ids"`
	TemplateID string       `json:"template_id,omitempty"`
	Content    string       `json:"content,omitempty"`
}

// Publisher enqueues campaign jobs. Enqueue must be durable before it
// returns: a published job survives a process crash.
type Publisher interface {
	PublishCampaignJob(ctx context.Context, job CampaignJob) error
}

// Handler processes one job. A returned error requests redelivery subject
// to the queue's retry cap.
type Handler func(ctx context.Context, job CampaignJob) error
