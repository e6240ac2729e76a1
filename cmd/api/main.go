package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Synergyfy/latap-messaging/internal/channel"
	"github.com/Synergyfy/latap-messaging/internal/config"
	"github.com/Synergyfy/latap-messaging/internal/credit"
	"github.com/Synergyfy/latap-messaging/internal/db"
	"github.com/Synergyfy/latap-messaging/internal/dispatch"
	"github.com/Synergyfy/latap-messaging/internal/httpapi"
	"github.com/Synergyfy/latap-messaging/internal/inbox"
	"github.com/Synergyfy/latap-messaging/internal/logging"
	"github.com/Synergyfy/latap-messaging/internal/metrics"
	"github.com/Synergyfy/latap-messaging/internal/queue"
	"github.com/Synergyfy/latap-messaging/internal/store"
	"github.com/Synergyfy/latap-messaging/internal/template"
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
	if err := db.Migrate(rootCtx, pool); err != nil {
		log.Error("db migrate", "error", err)
		exitCode = 1
		return
	}
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
	ib := inbox.NewManager(st, engine, log)
	templates := template.NewService(st)

	// ---- Pool stats ----
	prometheus.MustRegister(metrics.NewPoolStats(pool))

	// ---- HTTP server ----
	srv := httpapi.NewServer(st, engine, ib, templates, log, pool)
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("http listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "error", err)
		}
	}()

	<-rootCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	log.Info("api stopped")
}
