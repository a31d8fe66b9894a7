// Package reconcile сводит свежевыкачанную сущность с тем, что лежит в базе,
// и пишет минимальную дельту: только новые и только исчезнувшие события.
package reconcile

import (
	"context"
	"log/slog"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/pkg/errors"
)

// Delta — результат сравнения множеств event id.
type Delta struct {
	Added   []string
	Removed []string
}

func (d Delta) Changed() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0
}

// Diff — чистая функция над двумя множествами идентификаторов.
// added = fresh − persisted, removed = persisted − fresh.
func Diff(fresh, persisted []string) Delta {
	freshSet := make(map[string]struct{}, len(fresh))
	for _, id := range fresh {
		freshSet[id] = struct{}{}
	}
	persistedSet := make(map[string]struct{}, len(persisted))
	for _, id := range persisted {
		persistedSet[id] = struct{}{}
	}

	var d Delta
	for _, id := range fresh {
		if _, ok := persistedSet[id]; !ok {
			d.Added = append(d.Added, id)
		}
	}
	for _, id := range persisted {
		if _, ok := freshSet[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	return d
}

// Storage — подмножество контракта хранилища, нужное движку.
type Storage interface {
	QueryEntity(ctx context.Context, trackingID string) (*models.Entity, error)
	QueryEventIDs(ctx context.Context, trackingID string) ([]string, error)
	InsertEntity(ctx context.Context, e *models.Entity) (int64, error)
	UpdateEntity(ctx context.Context, e *models.Entity, updateMethod string, addedEventIDs, removedEventIDs []string) (int64, error)
	RefreshEntity(ctx context.Context, trackingID string, e *models.Entity) (int64, error)
}

type Reconciler struct {
	storage Storage
}

func New(storage Storage) *Reconciler {
	return &Reconciler{storage: storage}
}

// Apply приводит хранилище к состоянию fresh. Первая встреча — insert;
// дальше — инкрементальная дельта; совпадающие множества — no-op без записи
// (перевозчики возвращают идентичные данные на каждый опрос, гонять базу
// впустую нельзя).
func (r *Reconciler) Apply(ctx context.Context, fresh *models.Entity, updateMethod string) (Delta, error) {
	existing, err := r.storage.QueryEntity(ctx, fresh.ID)
	if err != nil {
		return Delta{}, errors.Wrap(err, "query entity")
	}

	fresh.SortEvents()
	fresh.RefreshCompleted()

	if existing == nil {
		if _, err := r.storage.InsertEntity(ctx, fresh); err != nil {
			return Delta{}, errors.Wrap(err, "insert entity")
		}
		return Delta{Added: fresh.EventIDs()}, nil
	}

	// UUID назначается при создании и далее неизменен.
	fresh.UUID = existing.UUID
	if len(fresh.Params) == 0 {
		fresh.Params = existing.Params
	}

	persistedIDs, err := r.storage.QueryEventIDs(ctx, fresh.ID)
	if err != nil {
		return Delta{}, errors.Wrap(err, "query event ids")
	}

	d := Diff(fresh.EventIDs(), persistedIDs)
	if !d.Changed() {
		return d, nil
	}

	if _, err := r.storage.UpdateEntity(ctx, fresh, updateMethod, d.Added, d.Removed); err != nil {
		return Delta{}, errors.Wrap(err, "update entity")
	}
	slog.Info("entity reconciled",
		"tracking_id", fresh.ID, "added", len(d.Added), "removed", len(d.Removed))
	return d, nil
}

// Refresh — явная полная перезапись (delete+reinsert), единственный путь,
// которому позволено заменить сущность целиком.
func (r *Reconciler) Refresh(ctx context.Context, fresh *models.Entity) error {
	existing, err := r.storage.QueryEntity(ctx, fresh.ID)
	if err != nil {
		return errors.Wrap(err, "query entity")
	}
	fresh.SortEvents()
	fresh.RefreshCompleted()
	if existing != nil {
		fresh.UUID = existing.UUID
		if _, err := r.storage.RefreshEntity(ctx, fresh.ID, fresh); err != nil {
			return errors.Wrap(err, "refresh entity")
		}
		return nil
	}
	if _, err := r.storage.InsertEntity(ctx, fresh); err != nil {
		return errors.Wrap(err, "insert entity")
	}
	return nil
}
