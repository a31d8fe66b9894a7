package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/TrackHub/config"
	"github.com/BearBump/TrackHub/internal/broker/kafka"
	"github.com/BearBump/TrackHub/internal/cache/rediscache"
	"github.com/BearBump/TrackHub/internal/metrics"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/operator"
	"github.com/BearBump/TrackHub/internal/operator/fdx"
	"github.com/BearBump/TrackHub/internal/operator/sfex"
	"github.com/BearBump/TrackHub/internal/services/ingest"
	"github.com/BearBump/TrackHub/internal/services/reconcile"
	"github.com/BearBump/TrackHub/internal/services/scheduler"
	"github.com/BearBump/TrackHub/internal/storage/pgtrack"
)

// schedulerStorage — всё, что нужно шлюзу и планировщику от хранилища.
type schedulerStorage interface {
	reconcile.Storage
	GetInProcessingTrackingNums(ctx context.Context) (map[string]map[string]string, error)
}

type schedulerFactories struct {
	newStorage     func(cfg *config.Config) (st schedulerStorage, closeFn func(), err error)
	newProducer    func(cfg *config.Config) scheduler.Producer
	newRateLimiter func(cfg *config.Config) scheduler.RateLimiter
	newRegistry    func(cfg *config.Config) *operator.Registry
	newMetrics     func(cfg *config.Config) *metrics.Metrics
}

func defaultSchedulerFactories() schedulerFactories {
	return schedulerFactories{
		newStorage: func(cfg *config.Config) (schedulerStorage, func(), error) {
			st, err := pgtrack.New(cfg.Database.DSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) scheduler.Producer {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newRateLimiter: func(cfg *config.Config) scheduler.RateLimiter {
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
		newRegistry: buildSchedulerRegistry,
		newMetrics: func(cfg *config.Config) *metrics.Metrics {
			ns := cfg.TrackHub.MetricsNamespace
			if ns == "" {
				ns = "trackhub"
			}
			return metrics.New(ns)
		},
	}
}

// Планировщику нужны только pull-коннекторы; push-операторы живут в API.
func buildSchedulerRegistry(cfg *config.Config) *operator.Registry {
	descriptions := models.NewStatusDescriptions()
	margin := time.Duration(cfg.TrackHub.TokenExpiryMarginSeconds) * time.Second

	var ops []operator.Operator
	if c := cfg.Operators.Fdx; c.Enabled() {
		client := fdx.NewClient(c.BaseURL, c.ClientID, c.ClientSecret)
		if margin > 0 {
			client.SetTokenExpiryMargin(margin)
		}
		ops = append(ops, fdx.New(client, descriptions))
	}
	if c := cfg.Operators.Sfex; c.Enabled() {
		ops = append(ops, sfex.New(sfex.NewClient(c.BaseURL, c.PartnerID, c.Checkword), descriptions))
	}
	return operator.NewRegistry(ops...)
}

func RunTrackScheduler(ctx context.Context, cfg *config.Config, f schedulerFactories) error {
	topic := cfg.Kafka.EntityUpdatedTopic
	if topic == "" {
		topic = "entity.updated"
	}

	pollInterval := time.Duration(cfg.TrackHub.SchedulerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	concurrency := cfg.TrackHub.SchedulerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	rlPerMin := int64(cfg.TrackHub.SchedulerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	registry := f.newRegistry(cfg)
	var m *metrics.Metrics
	if f.newMetrics != nil {
		m = f.newMetrics(cfg)
	}

	gw := ingest.New(registry, reconcile.New(st), st, nil, 0, m)

	sched := scheduler.New(registry, gw, st, f.newProducer(cfg), f.newRateLimiter(cfg), topic).
		WithSettings(pollInterval, concurrency, rlPerMin).
		WithMetrics(m)
	if n := cfg.Operators.Fdx.RateLimitPerMinute; n > 0 {
		sched.WithOperatorRateLimit("fdx", int64(n))
	}
	if n := cfg.Operators.Sfex.RateLimitPerMinute; n > 0 {
		sched.WithOperatorRateLimit("sfex", int64(n))
	}

	go func() {
		err := runSchedulerHTTP(ctx, schedulerHTTPOpts{
			httpAddr: cfg.TrackHub.SchedulerHTTPAddr,
			sched:    sched,
			cfg:      cfg,
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("scheduler http server", "error", err.Error())
		}
	}()

	return sched.Run(ctx)
}
