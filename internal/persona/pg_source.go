package persona

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource fetches persona bundles from the authoring database. The
// authoring process publishes one row per (persona_id, version); Fetch
// returns the latest published version.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource connects to the authoring database.
func NewPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect authoring store: %w", err)
	}
	return &PostgresSource{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresSource) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Fetch returns the latest published bundle for a persona id.
func (s *PostgresSource) Fetch(ctx context.Context, personaID string) ([]byte, error) {
	if !personaIDPattern.MatchString(personaID) {
		return nil, fmt.Errorf("invalid persona id %q", personaID)
	}
	var bundle []byte
	err := s.pool.QueryRow(
		ctx,
		`SELECT bundle FROM persona_bundles WHERE persona_id = $1 ORDER BY published_at DESC LIMIT 1`,
		personaID,
	).Scan(&bundle)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBundleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch bundle: %w", err)
	}
	return bundle, nil
}

// List returns all persona ids with at least one published bundle.
func (s *PostgresSource) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT persona_id FROM persona_bundles ORDER BY persona_id`)
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
