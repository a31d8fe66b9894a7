package pgtrack

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS entities (
  uuid TEXT PRIMARY KEY,
  tracking_id TEXT NOT NULL UNIQUE,
  type TEXT NOT NULL DEFAULT 'tracking',
  ingestion_mode TEXT NOT NULL,
  completed BOOLEAN NOT NULL DEFAULT FALSE,
  params JSONB NULL,
  additional JSONB NULL,
  last_update_method TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// Планировщик выбирает только незавершённые — частичный индекс.
		`CREATE INDEX IF NOT EXISTS idx_entities_in_processing ON entities(tracking_id) WHERE NOT completed`,
		`
CREATE TABLE IF NOT EXISTS events (
  id BIGSERIAL PRIMARY KEY,
  entity_uuid TEXT NOT NULL REFERENCES entities(uuid) ON DELETE CASCADE,
  event_id TEXT NOT NULL,
  status INT NOT NULL,
  what TEXT NOT NULL DEFAULT '',
  place TEXT NOT NULL DEFAULT '',
  happened_at TIMESTAMPTZ NOT NULL,
  whom TEXT NOT NULL DEFAULT '',
  notes TEXT NOT NULL DEFAULT '',
  exception_code TEXT NOT NULL DEFAULT '',
  exception_desc TEXT NOT NULL DEFAULT '',
  notification_code TEXT NOT NULL DEFAULT '',
  notification_desc TEXT NOT NULL DEFAULT '',
  data_provider TEXT NOT NULL DEFAULT '',
  additional JSONB NULL,
  source_data JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		// Идемпотентность повторной загрузки: один event_id на сущность.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_events_entity_event ON events(entity_uuid, event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_entity_happened_at ON events(entity_uuid, happened_at ASC)`,
		`
CREATE TABLE IF NOT EXISTS api_tokens (
  token TEXT PRIMARY KEY,
  description TEXT NOT NULL DEFAULT '',
  active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
