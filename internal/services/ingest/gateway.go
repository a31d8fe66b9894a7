// Package ingest — единая точка входа для pull-планировщика и синхронного
// HTTP-пути: резолвит коннектор, запускает pull/push и пост-обработку.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/BearBump/TrackHub/internal/apperrors"
	"github.com/BearBump/TrackHub/internal/cache"
	"github.com/BearBump/TrackHub/internal/metrics"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/operator"
	"github.com/BearBump/TrackHub/internal/services/reconcile"
)

// Storage — часть контракта хранилища, нужная шлюзу напрямую
// (остальное ходит через Reconciler).
type Storage interface {
	QueryEntity(ctx context.Context, trackingID string) (*models.Entity, error)
}

type Gateway struct {
	registry   *operator.Registry
	reconciler *reconcile.Reconciler
	storage    Storage
	cache      cache.BytesCache
	cacheTTL   time.Duration
	metrics    *metrics.Metrics
}

func New(registry *operator.Registry, reconciler *reconcile.Reconciler, storage Storage, c cache.BytesCache, cacheTTL time.Duration, m *metrics.Metrics) *Gateway {
	return &Gateway{
		registry:   registry,
		reconciler: reconciler,
		storage:    storage,
		cache:      c,
		cacheTTL:   cacheTTL,
		metrics:    m,
	}
}

func (g *Gateway) ParseID(raw string) (models.TrackingID, error) {
	return models.ParseTrackingID(raw, g.registry.Validators())
}

// Track — синхронный путь чтения: вернуть сохранённую сущность, при
// необходимости (первый запрос или refresh) сходив к перевозчику.
func (g *Gateway) Track(ctx context.Context, rawID string, query url.Values, refresh bool) (*models.Entity, error) {
	id, err := g.ParseID(rawID)
	if err != nil {
		return nil, err
	}
	op, err := g.registry.Get(id.Operator)
	if err != nil {
		return nil, err
	}
	params, err := op.ExtraParams(query)
	if err != nil {
		return nil, err
	}
	if err := op.ValidateParams(id, params); err != nil {
		return nil, err
	}

	if !refresh {
		if e, ok := g.cached(ctx, id.String()); ok {
			if err := op.ValidateStoredEntity(e, params); err != nil {
				return nil, err
			}
			return e, nil
		}
	}

	stored, err := g.storage.QueryEntity(ctx, id.String())
	if err != nil {
		return nil, err
	}
	if err := op.ValidateStoredEntity(stored, params); err != nil {
		return nil, err
	}

	if stored != nil && !refresh {
		g.cacheSet(ctx, stored)
		return stored, nil
	}

	// Push-оператору неоткуда тянуть: либо данные уже есть, либо их нет.
	if op.Mode() == models.IngestionPush {
		if stored != nil {
			return stored, nil
		}
		return nil, apperrors.ErrEntityNotFound.WithDetail("%s is push-ingested and nothing was pushed yet", id.String())
	}

	fresh, err := g.pullOne(ctx, op, id, params, refresh)
	if err != nil {
		return nil, err
	}
	g.cacheDel(ctx, id.String())
	return fresh, nil
}

func (g *Gateway) pullOne(ctx context.Context, op operator.Operator, id models.TrackingID, params map[string]string, refresh bool) (*models.Entity, error) {
	entities, err := op.PullFromSource(ctx, []models.TrackingID{id}, params, models.UpdateMethodManualPull)
	if err != nil {
		return nil, err
	}
	var fresh *models.Entity
	for _, e := range entities {
		if e.ID == id.String() {
			fresh = e
			break
		}
	}
	if fresh == nil {
		return nil, apperrors.ErrRouteNotFound.WithDetail("carrier answered without %s", id.String())
	}
	if len(fresh.Params) == 0 && len(params) > 0 {
		fresh.Params = params
	}

	if refresh {
		if err := g.reconciler.Refresh(ctx, fresh); err != nil {
			return nil, err
		}
	} else {
		if _, err := g.reconciler.Apply(ctx, fresh, models.UpdateMethodManualPull); err != nil {
			return nil, err
		}
	}
	g.CheckCriticalStatuses(fresh)
	return fresh, nil
}

// PullResult — результат обработки одной сущности из батча планировщика.
type PullResult struct {
	Entity *models.Entity
	Delta  reconcile.Delta
}

// PullBatch — путь планировщика: один вызов перевозчика на батч, затем
// реконсиляция каждой возвращённой сущности.
func (g *Gateway) PullBatch(ctx context.Context, op operator.Operator, ids []models.TrackingID, params map[string]string) ([]PullResult, error) {
	entities, err := op.PullFromSource(ctx, ids, params, models.UpdateMethodScheduledPull)
	if err != nil {
		return nil, err
	}

	var out []PullResult
	for _, e := range entities {
		d, err := g.reconciler.Apply(ctx, e, models.UpdateMethodScheduledPull)
		if err != nil {
			// Одна сущность не валит остальной батч.
			slog.Error("reconcile entity", "tracking_id", e.ID, "error", err.Error())
			continue
		}
		g.CheckCriticalStatuses(e)
		if d.Changed() {
			g.cacheDel(ctx, e.ID)
		}
		out = append(out, PullResult{Entity: e, Delta: d})
	}
	return out, nil
}

// PushResult — счётчики по батчу push-данных: частичный сбой не валит батч.
type PushResult struct {
	Received  int `json:"received"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func (g *Gateway) Push(ctx context.Context, operatorCode string, payload []byte) (PushResult, error) {
	op, err := g.registry.Get(operatorCode)
	if err != nil {
		return PushResult{}, err
	}
	entities, rejected, err := op.ProcessPushData(ctx, payload)
	if err != nil {
		return PushResult{}, err
	}

	res := PushResult{Received: len(entities) + rejected, Failed: rejected}
	if rejected > 0 && g.metrics != nil {
		g.metrics.PushResults.WithLabelValues(operatorCode, "failed").Add(float64(rejected))
	}
	for _, e := range entities {
		if _, err := g.reconciler.Apply(ctx, e, models.UpdateMethodPush); err != nil {
			res.Failed++
			if g.metrics != nil {
				g.metrics.PushResults.WithLabelValues(operatorCode, "failed").Inc()
			}
			slog.Error("apply pushed entity", "tracking_id", e.ID, "error", err.Error())
			continue
		}
		res.Succeeded++
		if g.metrics != nil {
			g.metrics.PushResults.WithLabelValues(operatorCode, "ok").Inc()
		}
		g.CheckCriticalStatuses(e)
		g.cacheDel(ctx, e.ID)
	}
	return res, nil
}

// Критические вехи, которые обязаны присутствовать у завершённого трека.
var criticalStatuses = []int{
	models.StatusReceivedByCarrier,
	models.StatusArrivedDestination,
	models.StatusDelivered,
}

// CheckCriticalStatuses — мониторинговая проверка: завершённый трек без
// критической вехи попадает в лог и метрику. Данные НЕ чинит — починкой
// пробелов занимается supplement-механизм коннектора, у этой проверки
// другой набор статусов и другое назначение.
func (g *Gateway) CheckCriticalStatuses(e *models.Entity) []int {
	if e == nil || !e.Completed {
		return nil
	}
	required := criticalStatuses
	if e.IsCrossBorder() {
		required = append(append([]int{}, criticalStatuses...), models.StatusCustomsReleased)
	}

	var missing []int
	for _, s := range required {
		if !e.HasStatus(s) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		slog.Warn("completed entity is missing critical statuses",
			"tracking_id", e.ID, "missing", fmt.Sprint(missing))
		if g.metrics != nil {
			if id, err := g.ParseID(e.ID); err == nil {
				g.metrics.MissingCriticals.WithLabelValues(id.Operator).Inc()
			}
		}
	}
	return missing
}

func (g *Gateway) cached(ctx context.Context, trackingID string) (*models.Entity, bool) {
	if g.cache == nil || g.cacheTTL <= 0 {
		return nil, false
	}
	b, ok, err := g.cache.Get(ctx, entityKey(trackingID))
	if err != nil || !ok {
		return nil, false
	}
	var e models.Entity
	if json.Unmarshal(b, &e) != nil {
		return nil, false
	}
	return &e, true
}

func (g *Gateway) cacheSet(ctx context.Context, e *models.Entity) {
	if g.cache == nil || g.cacheTTL <= 0 {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	_ = g.cache.Set(ctx, entityKey(e.ID), b, g.cacheTTL)
}

func (g *Gateway) cacheDel(ctx context.Context, trackingID string) {
	if g.cache == nil {
		return
	}
	_ = g.cache.Del(ctx, entityKey(trackingID))
}

// InvalidateCached используется kafka-консьюмером API при апдейте из планировщика.
func (g *Gateway) InvalidateCached(ctx context.Context, trackingID string) {
	g.cacheDel(ctx, trackingID)
}

func entityKey(trackingID string) string {
	return fmt.Sprintf("entity:%s:current", trackingID)
}
