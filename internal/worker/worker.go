// Package worker drains campaign jobs from the queue and drives the
// per-contact send loop. Failures are isolated per contact; only wholesale
// failures (bad business, bad template) fail the job itself.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Synergyfy/latap-messaging/internal/core"
	"github.com/Synergyfy/latap-messaging/internal/credit"
	"github.com/Synergyfy/latap-messaging/internal/dispatch"
	"github.com/Synergyfy/latap-messaging/internal/metrics"
	"github.com/Synergyfy/latap-messaging/internal/queue"
	"github.com/Synergyfy/latap-messaging/internal/store"
)

type Options struct {
	AdapterQPS   float64       // sustained gateway rate
	AdapterBurst int           // burst to allow short spikes
	SendTimeout  time.Duration // per-send timeout
}

func (o Options) withDefaults() Options {
	if o.AdapterQPS <= 0 {
		o.AdapterQPS = 50
	}
	if o.AdapterBurst <= 0 {
		o.AdapterBurst = 100
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	return o
}

type Worker struct {
	store   store.Store
	engine  *dispatch.Engine
	pricing credit.Pricing
	limiter *rate.Limiter
	opts    Options
	log     *slog.Logger
}

func New(st store.Store, engine *dispatch.Engine, pricing credit.Pricing, log *slog.Logger, opts Options) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		store:   st,
		engine:  engine,
		pricing: pricing,
		limiter: rate.NewLimiter(rate.Limit(opts.AdapterQPS), opts.AdapterBurst),
		opts:    opts,
		log:     log,
	}
}

// Result aggregates one job's per-contact outcomes.
type Result struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Skipped int `json:"skipped"`
}

// Handle adapts ProcessJob to the queue handler contract.
func (w *Worker) Handle(ctx context.Context, job queue.CampaignJob) error {
	_, err := w.ProcessJob(ctx, job)
	return err
}

// ProcessJob runs one campaign job sequentially over its contacts. A
// missing business returns an empty result without failing the job (stale
// reference must not crash the queue). Redelivered jobs skip contacts whose
// (campaign, contact) idempotency key already has a logged attempt.
func (w *Worker) ProcessJob(ctx context.Context, job queue.CampaignJob) (Result, error) {
	business, err := w.store.GetBusiness(ctx, job.BusinessID)
	if errors.Is(err, core.ErrBusinessNotFound) {
		metrics.CampaignJobsTotal.WithLabelValues("stale_business").Inc()
		w.log.Warn("campaign job references missing business",
			"campaign_id", job.CampaignID, "business_id", job.BusinessID)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, w.failCampaign(ctx, job.CampaignID, err)
	}

	// The template is loaded once per job, not per contact.
	var tmpl *core.Template
	if job.TemplateID != "" {
		tmpl, err = w.store.GetTemplate(ctx, job.BusinessID, job.TemplateID)
		if err != nil {
			return Result{}, w.failCampaign(ctx, job.CampaignID, err)
		}
	}

	var res Result
	for _, contactID := range job.ContactIDs {
		if err := ctx.Err(); err != nil {
			// Shutdown mid-loop: leave the campaign PROCESSING and let the
			// queue redeliver; idempotency keys keep processed contacts from
			// being sent twice.
			return res, err
		}

		key := job.CampaignID + ":" + contactID
		if prior, err := w.store.GetMessageLogByKey(ctx, key); err == nil {
			metrics.CampaignSendsTotal.WithLabelValues("duplicate").Inc()
			if prior.Status == core.StatusFailed {
				res.Failure++
			} else {
				res.Success++
			}
			continue
		}

		contact, err := w.store.GetContact(ctx, job.BusinessID, contactID)
		if errors.Is(err, core.ErrNotFound) {
			metrics.CampaignSendsTotal.WithLabelValues("skipped").Inc()
			res.Skipped++
			continue
		}
		if err != nil {
			metrics.CampaignSendsTotal.WithLabelValues("failure").Inc()
			w.log.Error("load contact", "campaign_id", job.CampaignID, "contact_id", contactID, "error", err)
			res.Failure++
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			return res, err
		}
		sendCtx, cancel := context.WithTimeout(ctx, w.opts.SendTimeout)
		_, err = w.engine.SendToContact(sendCtx, dispatch.SingleSend{
			Business:   business,
			Contact:    contact,
			Channel:    job.Channel,
			Template:   tmpl,
			Content:    job.Content,
			CampaignID: job.CampaignID,
		})
		cancel()
		if err != nil {
			metrics.CampaignSendsTotal.WithLabelValues("failure").Inc()
			w.log.Warn("campaign send failed",
				"campaign_id", job.CampaignID, "contact_id", contactID, "error", err)
			res.Failure++
			continue
		}
		metrics.CampaignSendsTotal.WithLabelValues("success").Inc()
		res.Success++
	}

	if err := w.finalizeCampaign(ctx, job); err != nil {
		return res, err
	}
	metrics.CampaignJobsTotal.WithLabelValues("sent").Inc()
	w.log.Info("campaign job done",
		"campaign_id", job.CampaignID, "success", res.Success, "failure", res.Failure, "skipped", res.Skipped)
	return res, nil
}

// finalizeCampaign recomputes actual cost from the messages that actually
// went out. Counting persisted message rows (one per successful send) keeps
// the number correct across sharded jobs and crash redeliveries.
func (w *Worker) finalizeCampaign(ctx context.Context, job queue.CampaignJob) error {
	stats, err := w.store.CampaignMessageStats(ctx, job.CampaignID)
	if err != nil {
		return w.failCampaign(ctx, job.CampaignID, err)
	}
	sent := 0
	for _, n := range stats {
		sent += n
	}
	actual := w.pricing.Estimate(job.Channel, sent)
	now := time.Now().UTC()
	if err := w.store.FinalizeCampaign(ctx, job.CampaignID, core.CampaignSent, actual, &now); err != nil {
		return w.failCampaign(ctx, job.CampaignID, err)
	}
	return nil
}

// failCampaign marks the campaign FAILED and returns the original error so
// the queue's retry policy applies at the job level.
func (w *Worker) failCampaign(ctx context.Context, campaignID string, cause error) error {
	metrics.CampaignJobsTotal.WithLabelValues("failed").Inc()
	if err := w.store.FinalizeCampaign(ctx, campaignID, core.CampaignFailed, 0, nil); err != nil {
		w.log.Error("mark campaign failed", "campaign_id", campaignID, "error", err)
	}
	return cause
}
