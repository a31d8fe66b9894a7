// Package scheduler периодически опрашивает pull-перевозчиков по всем
// незавершённым трекам и публикует изменения в kafka.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/TrackHub/internal/apperrors"
	"github.com/BearBump/TrackHub/internal/broker/messages"
	"github.com/BearBump/TrackHub/internal/metrics"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/operator"
	"github.com/BearBump/TrackHub/internal/services/ingest"
)

type Storage interface {
	// GetInProcessingTrackingNums — незавершённые pull-треки с сохранёнными
	// дизамбигуаторами.
	GetInProcessingTrackingNums(ctx context.Context) (map[string]map[string]string, error)
}

// Puller — часть шлюза, нужная планировщику.
type Puller interface {
	ParseID(raw string) (models.TrackingID, error)
	PullBatch(ctx context.Context, op operator.Operator, ids []models.TrackingID, params map[string]string) ([]ingest.PullResult, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Scheduler struct {
	registry *operator.Registry
	gateway  Puller
	storage  Storage
	producer Producer
	rl       RateLimiter
	metrics  *metrics.Metrics

	topic string

	pollInterval       time.Duration
	concurrency        int
	rateLimitPerMinute int64
	// Переопределения лимита для отдельных перевозчиков.
	rateLimits map[string]int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalUpdated        atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(registry *operator.Registry, gateway Puller, storage Storage, producer Producer, rl RateLimiter, topic string) *Scheduler {
	return &Scheduler{
		registry: registry,
		gateway:  gateway,
		storage:  storage,
		producer: producer,
		rl:       rl,
		topic:    topic,

		pollInterval:       5 * time.Minute,
		concurrency:        4,
		rateLimitPerMinute: 120,
		rateLimits:         map[string]int64{},

		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Scheduler) WithSettings(pollInterval time.Duration, concurrency int, rlPerMin int64) *Scheduler {
	if pollInterval > 0 {
		s.pollInterval = pollInterval
	}
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	if rlPerMin > 0 {
		s.rateLimitPerMinute = rlPerMin
	}
	return s
}

func (s *Scheduler) WithOperatorRateLimit(code string, perMin int64) *Scheduler {
	if perMin > 0 {
		s.rateLimits[code] = perMin
	}
	return s
}

func (s *Scheduler) WithMetrics(m *metrics.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (s *Scheduler) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalUpdated   int64      `json:"totalUpdated"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalClaimed:   s.totalClaimed.Load(),
		TotalProcessed: s.totalProcessed.Load(),
		TotalUpdated:   s.totalUpdated.Load(),
		TotalErrors:    s.totalErrors.Load(),
		InFlight:       s.inFlight.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())

	working, err := s.storage.GetInProcessingTrackingNums(ctx)
	if err != nil {
		s.fail(errors.Wrap(err, "list in-processing trackings"))
		return
	}
	s.totalClaimed.Add(int64(len(working)))

	byOperator := s.groupByOperator(working)

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, op := range s.registry.PullOperators() {
		ids := byOperator[op.Code()]
		if len(ids) == 0 {
			continue
		}
		for _, chunk := range chunkIDs(ids, op.BatchSize()) {
			sem <- struct{}{}
			wg.Add(1)
			op, chunk := op, chunk
			params := chunkParams(op, chunk, working)
			s.inFlight.Add(1)
			go func() {
				defer func() {
					s.inFlight.Add(-1)
					<-sem
					wg.Done()
				}()
				s.processChunk(ctx, op, chunk, params)
			}()
		}
	}
	wg.Wait()
}

// groupByOperator парсит сырые номера и раскладывает их по активным
// операторам; мусор в базе и выключенные операторы пропускаются с warn.
// Внутри оператора сортируем, чтобы чанки были стабильны от цикла к циклу.
func (s *Scheduler) groupByOperator(working map[string]map[string]string) map[string][]models.TrackingID {
	out := make(map[string][]models.TrackingID)
	for raw := range working {
		id, err := s.gateway.ParseID(raw)
		if err != nil {
			slog.Warn("skip unparseable tracking num", "tracking_id", raw, "error", err.Error())
			continue
		}
		out[id.Operator] = append(out[id.Operator], id)
	}
	for _, ids := range out {
		sort.Slice(ids, func(i, j int) bool { return ids[i].TrackingNum < ids[j].TrackingNum })
	}
	return out
}

func chunkIDs(ids []models.TrackingID, size int) [][]models.TrackingID {
	if size <= 0 {
		size = 1
	}
	var out [][]models.TrackingID
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func (s *Scheduler) processChunk(ctx context.Context, op operator.Operator, ids []models.TrackingID, params map[string]string) {
	now := time.Now().UTC()

	if s.rl != nil && s.rateLimitPerMinute > 0 {
		limit := s.rateLimitPerMinute
		if l, ok := s.rateLimits[op.Code()]; ok {
			limit = l
		}
		minuteKey := fmt.Sprintf("rl:carrier:%s:%s", op.Code(), now.Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, minuteKey, limit, 70*time.Second)
		if err != nil {
			s.fail(errors.Wrap(err, "rate limiter"))
			return
		}
		if !allowed {
			// Слишком много запросов в минуту: подождём немного, чтобы разгрузить источник.
			slog.Warn("rate limit exceeded", "operator", op.Code(), "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	started := time.Now()
	results, err := s.gateway.PullBatch(ctx, op, ids, params)
	if s.metrics != nil {
		s.metrics.PullsTotal.WithLabelValues(op.Code()).Inc()
		s.metrics.PullDuration.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.PullErrors.WithLabelValues(op.Code()).Inc()
		}
		// 4xx — ожидаемые ответы перевозчика (трек ещё не в системе и т.п.),
		// ошибкой цикла считаем только серверный класс.
		if apperrors.IsClientError(err) {
			slog.Warn("pull chunk", "operator", op.Code(), "size", len(ids), "error", err.Error())
		} else {
			s.fail(errors.Wrapf(err, "pull chunk via %s", op.Code()))
		}
		return
	}

	for _, r := range results {
		s.totalProcessed.Add(1)
		if !r.Delta.Changed() {
			if s.metrics != nil {
				s.metrics.ReconcileNoop.WithLabelValues(op.Code()).Inc()
			}
			continue
		}
		s.totalUpdated.Add(1)
		if s.metrics != nil {
			s.metrics.ReconcileChanged.WithLabelValues(op.Code()).Inc()
			s.metrics.EventsAdded.WithLabelValues(op.Code()).Add(float64(len(r.Delta.Added)))
			s.metrics.EventsRemoved.WithLabelValues(op.Code()).Add(float64(len(r.Delta.Removed)))
		}
		if err := s.publishUpdated(ctx, op.Code(), r, now); err != nil {
			s.fail(errors.Wrap(err, "publish entity updated"))
		}
	}
}

// chunkParams достаёт сохранённые дизамбигуаторы: нужны операторам с батчем
// в один трек (у батчевых перевозчиков параметров нет).
func chunkParams(op operator.Operator, ids []models.TrackingID, working map[string]map[string]string) map[string]string {
	if op.BatchSize() != 1 || len(ids) != 1 {
		return nil
	}
	return working[ids[0].String()]
}

func (s *Scheduler) publishUpdated(ctx context.Context, operatorCode string, r ingest.PullResult, now time.Time) error {
	if s.producer == nil {
		return nil
	}
	msg := messages.EntityUpdated{
		TrackingID:      r.Entity.ID,
		UUID:            r.Entity.UUID,
		Operator:        operatorCode,
		Completed:       r.Entity.Completed,
		AddedEventIDs:   r.Delta.Added,
		RemovedEventIDs: r.Delta.Removed,
		CheckedAt:       now,
	}
	if last := r.Entity.LastEvent(); last != nil {
		msg.LastStatus = last.Status
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}

	// Kafka может быть не готова сразу после старта docker compose.
	// Для устойчивости делаем небольшой retry.
	key := []byte(r.Entity.ID)
	var pubErr error
	for i := 0; i < 5; i++ {
		if pubErr = s.producer.Publish(ctx, s.topic, key, b); pubErr == nil {
			return nil
		}
		time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
	}
	return pubErr
}

func (s *Scheduler) fail(err error) {
	s.totalErrors.Add(1)
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
	slog.Error("scheduler", "error", err.Error())
}
