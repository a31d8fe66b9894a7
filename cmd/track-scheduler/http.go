package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BearBump/TrackHub/config"
	"github.com/BearBump/TrackHub/internal/services/scheduler"
)

type schedulerHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	sched *scheduler.Scheduler
	cfg   *config.Config
}

// Операционный HTTP планировщика: здоровье, статистика, ручной запуск цикла.
func runSchedulerHTTP(ctx context.Context, opts schedulerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8081"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.sched == nil {
			_, _ = w.Write([]byte(`{"error":"scheduler not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.sched.Stats())
	})

	r.Post("/trigger", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.sched == nil {
			_, _ = w.Write([]byte(`{"error":"scheduler not wired"}`))
			return
		}
		opts.sched.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	r.Get("/config", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Секреты не показываем, только операционные настройки.
		out := map[string]any{
			"pollIntervalSeconds": opts.cfg.TrackHub.SchedulerPollIntervalSeconds,
			"concurrency":         opts.cfg.TrackHub.SchedulerConcurrency,
			"rateLimitPerMinute":  opts.cfg.TrackHub.SchedulerRateLimitPerMinute,
			"fdxEnabled":          opts.cfg.Operators.Fdx.Enabled(),
			"sfexEnabled":         opts.cfg.Operators.Sfex.Enabled(),
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
