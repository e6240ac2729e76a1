package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Synergyfy/latap-messaging/internal/channel"
	"github.com/Synergyfy/latap-messaging/internal/config"
	"github.com/Synergyfy/latap-messaging/internal/credit"
	"github.com/Synergyfy/latap-messaging/internal/db"
	"github.com/Synergyfy/latap-messaging/internal/dispatch"
	"github.com/Synergyfy/latap-messaging/internal/inbox"
	"github.com/Synergyfy/latap-messaging/internal/logging"
	"github.com/Synergyfy/latap-messaging/internal/queue"
	"github.com/Synergyfy/latap-messaging/internal/store"
	"github.com/Synergyfy/latap-messaging/internal/worker"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		exitCode = 1
		return
	}
	log := logging.New(cfg.Env)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---- DB ----
	pool, err := db.Connect(rootCtx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "error", err)
		exitCode = 1
		return
	}
	defer pool.Close()
	st := store.NewPostgres(pool)

	// ---- Queue ----
	q, err := queue.DialAMQP(cfg.AMQPURL, log)
	if err != nil {
		log.Error("amqp dial", "error", err)
		exitCode = 1
		return
	}
	defer q.Close()

	// ---- Channel adapters ----
	gw := channel.GatewayConfig{
		BaseURL: cfg.GatewayBaseURL,
		APIKey:  cfg.GatewayAPIKey,
		Timeout: cfg.GatewayTimeout,
	}
	adapters := channel.NewRegistry()
	adapters.MustRegister(channel.NewSMS(gw))
	adapters.MustRegister(channel.NewWhatsApp(gw))
	adapters.MustRegister(channel.NewEmail(gw))

	// ---- Services ----
	pricing := credit.NewPricing(cfg.Rates())
	engine := dispatch.NewEngine(st, pricing, adapters, q, log, dispatch.Options{ShardSize: cfg.ShardSize})
	w := worker.New(st, engine, pricing, log, worker.Options{
		AdapterQPS:   cfg.AdapterQPS,
		AdapterBurst: cfg.AdapterBurst,
	})

	// ---- Thread inactivity sweep ----
	ib := inbox.NewManager(st, engine, log)
	c := cron.New()
	if _, err := c.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(rootCtx, time.Minute)
		defer cancel()
		if _, err := ib.CloseInactive(ctx, cfg.ThreadInactiveDays); err != nil {
			log.Error("close inactive threads", "error", err)
		}
	}); err != nil {
		log.Error("cron schedule", "error", err)
		exitCode = 1
		return
	}
	c.Start()
	defer c.Stop()

	// ---- Healthz ----
	go serveHealthz()

	// ---- Consume ----
	log.Info("worker consuming campaign jobs")
	if err := q.Consume(rootCtx, w.Handle); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer exited", "error", err)
		exitCode = 1
		return
	}
	log.Info("worker stopped")
}

func serveHealthz() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	addr := "0.0.0.0:9090"
	if v := os.Getenv("HEALTH_ADDR"); v != "" {
		addr = v
	}
	_ = http.ListenAndServe(addr, mux)
}
