package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PersonaCacheGet returns the cached bundle for a persona, or (nil, nil)
// when absent or past its TTL. Stale rows are removed on read.
func (s *Store) PersonaCacheGet(ctx context.Context, personaID string) (*PersonaCacheEntry, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT persona_id, bundle_json, loaded_at, expires_at FROM persona_cache WHERE persona_id = ?`,
		personaID,
	)

	var (
		id         string
		bundleJSON string
		loadedRaw  string
		expiresRaw string
	)
	if err := row.Scan(&id, &bundleJSON, &loadedRaw, &expiresRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("persona cache get: %w", err)
	}

	entry := &PersonaCacheEntry{PersonaID: id, BundleJSON: bundleJSON}
	if loaded, err := parseTimeString(loadedRaw); err == nil {
		entry.LoadedAt = loaded
	}
	if expires, err := parseTimeString(expiresRaw); err == nil {
		entry.ExpiresAt = expires
	}

	if time.Now().After(entry.ExpiresAt) {
		_ = s.PersonaCacheDelete(ctx, personaID)
		return nil, nil
	}
	return entry, nil
}

// PersonaCachePut upserts a cached bundle with the given TTL.
func (s *Store) PersonaCachePut(ctx context.Context, personaID, bundleJSON string, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO persona_cache (persona_id, bundle_json, loaded_at, expires_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(persona_id) DO UPDATE SET bundle_json = excluded.bundle_json,
             loaded_at = excluded.loaded_at, expires_at = excluded.expires_at`,
		personaID,
		bundleJSON,
		formatTime(now),
		formatTime(now.Add(ttl)),
	)
	if err != nil {
		return fmt.Errorf("persona cache put: %w", err)
	}
	return nil
}

// PersonaCacheDelete removes a cached bundle. Missing rows are not an error.
func (s *Store) PersonaCacheDelete(ctx context.Context, personaID string) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM persona_cache WHERE persona_id = ?`, personaID); err != nil {
		return fmt.Errorf("persona cache delete: %w", err)
	}
	return nil
}
