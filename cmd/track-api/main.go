package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/TrackHub/config"
	"github.com/BearBump/TrackHub/internal/broker/kafka"
	"github.com/BearBump/TrackHub/internal/cache/rediscache"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/operator"
	"github.com/BearBump/TrackHub/internal/operator/eg1"
	"github.com/BearBump/TrackHub/internal/operator/fdx"
	"github.com/BearBump/TrackHub/internal/operator/sfex"
	"github.com/BearBump/TrackHub/internal/services/ingest"
	"github.com/BearBump/TrackHub/internal/services/reconcile"
	"github.com/BearBump/TrackHub/internal/storage/pgtrack"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.TrackHub.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Kafka.EntityUpdatedConsumer
	if consumerGroup == "" {
		consumerGroup = "track-api"
	}
	topic := cfg.Kafka.EntityUpdatedTopic
	if topic == "" {
		topic = "entity.updated"
	}
	cacheTTL := time.Duration(cfg.TrackHub.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	st := mustOpenPostgresWithRetry(cfg.Database.DSN(), 60*time.Second)
	defer st.Close()

	rc := rediscache.New(cfg.Redis.Addr())

	registry := buildRegistry(cfg)
	gw := ingest.New(registry, reconcile.New(st), st, rc, cacheTTL, nil)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers(), topic, consumerGroup)
	defer func() { _ = consumer.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	swaggerPath := ""
	if cfg.TrackHub.EnableSwagger {
		swaggerPath = os.Getenv("swaggerPath")
	}

	err = runTrackAPI(ctx, trackAPIOpts{
		httpAddr:      httpAddr,
		swaggerPath:   swaggerPath,
		topic:         topic,
		consumerGroup: consumerGroup,
	}, gw, st, st, consumer)
	if err != nil && err != context.Canceled {
		panic(err)
	}
}

// buildRegistry собирает активные коннекторы: оператор без креденшелов в
// конфиге просто не регистрируется.
func buildRegistry(cfg *config.Config) *operator.Registry {
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
	if cfg.Operators.Eg1.Enabled {
		ops = append(ops, eg1.New(descriptions))
	}
	return operator.NewRegistry(ops...)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgtrack.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgtrack.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}
