// Package metrics registers the Prometheus collectors for the API, the
// dispatch engine and the batch worker.
package metrics

import (
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
		[]string{"route", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Dispatch engine
	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_send_total", Help: "Send request outcomes."},
		[]string{"result"}, // direct | campaign | empty_audience | insufficient_credit | consent_denied | error
	)
	AdapterSendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "adapter_send_total", Help: "Channel adapter outcomes."},
		[]string{"channel", "outcome"}, // sent | failed
	)
	AdapterSendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adapter_send_duration_seconds",
			Help:    "Channel adapter send latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
		[]string{"channel"},
	)

	// Webhooks
	InboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_inbound_total", Help: "Inbound webhook event outcomes."},
		[]string{"channel", "result"}, // accepted | unrouted | error
	)
	DeliveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_delivery_total", Help: "Delivery-status webhook event outcomes."},
		[]string{"result"}, // updated | unknown_message | error
	)

	// Worker
	CampaignJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "worker_campaign_jobs_total", Help: "Campaign job outcomes."},
		[]string{"result"}, // sent | failed | stale_business
	)
	CampaignSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "worker_campaign_sends_total", Help: "Per-contact send outcomes inside campaign jobs."},
		[]string{"outcome"}, // success | failure | skipped | duplicate
	)
	ThreadsClosedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "inbox_threads_closed_total", Help: "Threads closed by the inactivity sweep."},
	)
)

var registerOnce sync.Once

// MustRegister installs the application collectors; the Go and process
// collectors are already on the default registry. Safe to
// call from every Router construction; registration happens once.
func MustRegister() {
	registerOnce.Do(register)
}

func register() {
	prometheus.MustRegister(
		HTTPRequests, HTTPDuration,
		DispatchTotal, AdapterSendTotal, AdapterSendDuration,
		InboundTotal, DeliveryTotal,
		CampaignJobsTotal, CampaignSendsTotal, ThreadsClosedTotal,
	)
}

// PoolStats exports pgx pool statistics, read at scrape time rather than
// sampled on a ticker.
type PoolStats struct {
	pool *pgxpool.Pool

	total       *prometheus.Desc
	idle        *prometheus.Desc
	acquired    *prometheus.Desc
	acquires    *prometheus.Desc
	acquireWait *prometheus.Desc
}

func NewPoolStats(pool *pgxpool.Pool) *PoolStats {
	return &PoolStats{
		pool:        pool,
		total:       prometheus.NewDesc("pgx_pool_total_conns", "Connections held by the pool.", nil, nil),
		idle:        prometheus.NewDesc("pgx_pool_idle_conns", "Idle connections in the pool.", nil, nil),
		acquired:    prometheus.NewDesc("pgx_pool_acquired_conns", "Connections currently checked out.", nil, nil),
		acquires:    prometheus.NewDesc("pgx_pool_acquires_total", "Successful pool acquires.", nil, nil),
		acquireWait: prometheus.NewDesc("pgx_pool_acquire_wait_seconds_total", "Time spent waiting on acquires.", nil, nil),
	}
}

func (p *PoolStats) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.total
	ch <- p.idle
	ch <- p.acquired
	ch <- p.acquires
	ch <- p.acquireWait
}

func (p *PoolStats) Collect(ch chan<- prometheus.Metric) {
	s := p.pool.Stat()
	ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(p.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(p.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(p.acquires, prometheus.CounterValue, float64(s.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(p.acquireWait, prometheus.CounterValue, s.AcquireDuration().Seconds())
}
