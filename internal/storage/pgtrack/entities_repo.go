package pgtrack

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/TrackHub/internal/models"
)

// InsertEntity пишет сущность вместе со всей историей событий одной транзакцией.
func (s *Storage) InsertEntity(ctx context.Context, e *models.Entity) (int64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	params, err := marshalMap(e.Params)
	if err != nil {
		return 0, err
	}
	additional, err := marshalMap(e.Additional)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO entities (
  uuid, tracking_id, type, ingestion_mode, completed, params, additional, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
`, e.UUID, e.ID, e.Type, string(e.IngestionMode), e.Completed, params, additional, now)
	if err != nil {
		return 0, errors.Wrap(err, "insert entity")
	}

	n, err := insertEvents(ctx, tx, e.UUID, e.Events, nil)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return n, nil
}

// UpdateEntity применяет минимальную дельту: шапка сущности, вставка только
// added-событий, удаление только removed — всё в одной транзакции, чтобы
// читатель не увидел полусведённую историю.
func (s *Storage) UpdateEntity(ctx context.Context, e *models.Entity, updateMethod string, addedEventIDs, removedEventIDs []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	params, err := marshalMap(e.Params)
	if err != nil {
		return 0, err
	}
	additional, err := marshalMap(e.Additional)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
UPDATE entities
SET
  completed = $2,
  params = $3,
  additional = $4,
  last_update_method = $5,
  updated_at = now()
WHERE uuid = $1
`, e.UUID, e.Completed, params, additional, updateMethod)
	if err != nil {
		return 0, errors.Wrap(err, "update entity")
	}

	var affected int64
	if len(addedEventIDs) > 0 {
		onlyAdded := make(map[string]struct{}, len(addedEventIDs))
		for _, id := range addedEventIDs {
			onlyAdded[id] = struct{}{}
		}
		n, err := insertEvents(ctx, tx, e.UUID, e.Events, onlyAdded)
		if err != nil {
			return 0, err
		}
		affected += n
	}

	if len(removedEventIDs) > 0 {
		tag, err := tx.Exec(ctx,
			`DELETE FROM events WHERE entity_uuid = $1 AND event_id = ANY($2)`,
			e.UUID, removedEventIDs)
		if err != nil {
			return 0, errors.Wrap(err, "delete removed events")
		}
		affected += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return affected, nil
}

// RefreshEntity — полная перезапись истории: delete + reinsert под тем же uuid.
func (s *Storage) RefreshEntity(ctx context.Context, trackingID string, e *models.Entity) (int64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	params, err := marshalMap(e.Params)
	if err != nil {
		return 0, err
	}
	additional, err := marshalMap(e.Additional)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
UPDATE entities
SET
  completed = $2,
  params = $3,
  additional = $4,
  last_update_method = $5,
  updated_at = now()
WHERE tracking_id = $1
`, trackingID, e.Completed, params, additional, models.UpdateMethodManualPull)
	if err != nil {
		return 0, errors.Wrap(err, "update entity")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM events WHERE entity_uuid = $1`, e.UUID); err != nil {
		return 0, errors.Wrap(err, "delete events")
	}

	n, err := insertEvents(ctx, tx, e.UUID, e.Events, nil)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return n, nil
}

// QueryEntity возвращает nil без ошибки, когда трека ещё нет в системе.
func (s *Storage) QueryEntity(ctx context.Context, trackingID string) (*models.Entity, error) {
	var (
		e          models.Entity
		mode       string
		params     []byte
		additional []byte
	)
	err := s.db.QueryRow(ctx, `
SELECT uuid, tracking_id, type, ingestion_mode, completed, params, additional
FROM entities
WHERE tracking_id = $1
`, trackingID).Scan(&e.UUID, &e.ID, &e.Type, &mode, &e.Completed, &params, &additional)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select entity")
	}
	e.IngestionMode = models.IngestionMode(mode)
	if e.Params, err = unmarshalMap(params); err != nil {
		return nil, err
	}
	if e.Additional, err = unmarshalMap(additional); err != nil {
		return nil, err
	}

	if e.Events, err = s.queryEvents(ctx, e.UUID); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Storage) queryEvents(ctx context.Context, entityUUID string) ([]*models.Event, error) {
	rows, err := s.db.Query(ctx, `
SELECT
  event_id, status, what, place, happened_at, whom, notes,
  exception_code, exception_desc, notification_code, notification_desc,
  data_provider, additional, source_data
FROM events
WHERE entity_uuid = $1
ORDER BY happened_at ASC, id ASC
`, entityUUID)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var (
			ev         models.Event
			additional []byte
			sourceData []byte
		)
		if err := rows.Scan(
			&ev.EventID, &ev.Status, &ev.What, &ev.Where, &ev.When, &ev.Whom, &ev.Notes,
			&ev.ExceptionCode, &ev.ExceptionDesc, &ev.NotificationCode, &ev.NotificationDesc,
			&ev.DataProvider, &additional, &sourceData,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		if ev.Additional, err = unmarshalMap(additional); err != nil {
			return nil, err
		}
		if len(sourceData) > 0 {
			ev.SourceData = json.RawMessage(sourceData)
		}
		out = append(out, &ev)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) QueryEventIDs(ctx context.Context, trackingID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT ev.event_id
FROM events ev
JOIN entities en ON en.uuid = ev.entity_uuid
WHERE en.tracking_id = $1
`, trackingID)
	if err != nil {
		return nil, errors.Wrap(err, "select event ids")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan event id")
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// GetInProcessingTrackingNums — рабочий набор планировщика: незавершённые
// pull-сущности вместе с сохранёнными дизамбигуаторами. Push-сущности
// обновляет сам перевозчик, опрашивать их нечем.
func (s *Storage) GetInProcessingTrackingNums(ctx context.Context) (map[string]map[string]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT tracking_id, params FROM entities WHERE NOT completed AND ingestion_mode = $1`,
		string(models.IngestionPull))
	if err != nil {
		return nil, errors.Wrap(err, "select in-processing")
	}
	defer rows.Close()

	out := make(map[string]map[string]string)
	for rows.Next() {
		var (
			id     string
			params []byte
		)
		if err := rows.Scan(&id, &params); err != nil {
			return nil, errors.Wrap(err, "scan tracking id")
		}
		p, err := unmarshalMap(params)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// insertEvents вставляет события сущности; only ограничивает вставку
// подмножеством event id (nil — без ограничений). Конфликт по event_id
// молча пропускается: повторная загрузка не плодит дубликатов.
func insertEvents(ctx context.Context, tx pgx.Tx, entityUUID string, events []*models.Event, only map[string]struct{}) (int64, error) {
	var n int64
	for _, ev := range events {
		if only != nil {
			if _, ok := only[ev.EventID]; !ok {
				continue
			}
		}
		additional, err := marshalMap(ev.Additional)
		if err != nil {
			return 0, err
		}
		var sourceData []byte
		if len(ev.SourceData) > 0 {
			sourceData = []byte(ev.SourceData)
		}
		tag, err := tx.Exec(ctx, `
INSERT INTO events (
  entity_uuid, event_id, status, what, place, happened_at, whom, notes,
  exception_code, exception_desc, notification_code, notification_desc,
  data_provider, additional, source_data, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15, now())
ON CONFLICT (entity_uuid, event_id) DO NOTHING
`, entityUUID, ev.EventID, ev.Status, ev.What, ev.Where, ev.When.UTC(), ev.Whom, ev.Notes,
			ev.ExceptionCode, ev.ExceptionDesc, ev.NotificationCode, ev.NotificationDesc,
			ev.DataProvider, additional, sourceData)
		if err != nil {
			return 0, errors.Wrap(err, "insert event")
		}
		n += tag.RowsAffected()
	}
	return n, nil
}

func marshalMap(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	return b, errors.Wrap(err, "marshal jsonb")
}

func unmarshalMap(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "unmarshal jsonb")
	}
	return m, nil
}
