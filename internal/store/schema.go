package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS devices (
        id                TEXT PRIMARY KEY,
        name              TEXT NOT NULL,
        type              TEXT NOT NULL,
        status            TEXT NOT NULL,
        group_id          TEXT,
        location          TEXT,
        capabilities_json TEXT,
        active_persona_id TEXT,
        active_session_id TEXT,
        token_hash        TEXT,
        last_heartbeat    TEXT,
        registered_at     TEXT NOT NULL,
        updated_at        TEXT NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_devices_group ON devices(group_id)`,
	`CREATE TABLE IF NOT EXISTS sessions (
        id            TEXT PRIMARY KEY,
        device_id     TEXT NOT NULL,
        persona_id    TEXT NOT NULL,
        user_id       TEXT,
        state         TEXT NOT NULL,
        turns_json    TEXT NOT NULL DEFAULT '[]',
        handoffs_json TEXT NOT NULL DEFAULT '[]',
        created_at    TEXT NOT NULL,
        updated_at    TEXT NOT NULL,
        expires_at    TEXT NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_device ON sessions(device_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state)`,
	`CREATE TABLE IF NOT EXISTS persona_cache (
        persona_id  TEXT PRIMARY KEY,
        bundle_json TEXT NOT NULL,
        loaded_at   TEXT NOT NULL,
        expires_at  TEXT NOT NULL
    )`,
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
