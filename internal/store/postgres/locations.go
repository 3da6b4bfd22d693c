// Package postgres provides a PostgreSQL-backed [store.LocationStore] so
// that several agents running against the same world can share one set of
// saved locations.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bloopmc/bloop/internal/store"
	"github.com/bloopmc/bloop/pkg/types"
)

// Compile-time interface check.
var _ store.LocationStore = (*Locations)(nil)

// schema is applied on open. The table is tiny and append-rarely, so no
// migration machinery is warranted.
const schema = `
CREATE TABLE IF NOT EXISTS locations (
    name TEXT PRIMARY KEY,
    x    DOUBLE PRECISION NOT NULL,
    y    DOUBLE PRECISION NOT NULL,
    z    DOUBLE PRECISION NOT NULL
)`

// Locations is a shared location store backed by a pgx connection pool.
// All methods are safe for concurrent use.
type Locations struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, ensures the locations table exists, and returns the
// store. Close the returned store when done.
func Open(ctx context.Context, dsn string) (*Locations, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return &Locations{pool: pool}, nil
}

// Close releases the connection pool.
func (l *Locations) Close() {
	l.pool.Close()
}

// Save implements [store.LocationStore].
func (l *Locations) Save(ctx context.Context, name string, pos types.Vec3) error {
	const q = `
		INSERT INTO locations (name, x, y, z) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET x = $2, y = $3, z = $4`

	if _, err := l.pool.Exec(ctx, q, name, pos.X, pos.Y, pos.Z); err != nil {
		return fmt.Errorf("postgres: save location: %w", err)
	}
	return nil
}

// Get implements [store.LocationStore].
func (l *Locations) Get(ctx context.Context, name string) (types.Vec3, error) {
	const q = `SELECT x, y, z FROM locations WHERE name = $1`

	var pos types.Vec3
	err := l.pool.QueryRow(ctx, q, name).Scan(&pos.X, &pos.Y, &pos.Z)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Vec3{}, store.ErrLocationNotFound
	}
	if err != nil {
		return types.Vec3{}, fmt.Errorf("postgres: get location: %w", err)
	}
	return pos, nil
}

// Delete implements [store.LocationStore].
func (l *Locations) Delete(ctx context.Context, name string) error {
	const q = `DELETE FROM locations WHERE name = $1`

	tag, err := l.pool.Exec(ctx, q, name)
	if err != nil {
		return fmt.Errorf("postgres: delete location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrLocationNotFound
	}
	return nil
}

// List implements [store.LocationStore].
func (l *Locations) List(ctx context.Context) ([]types.NamedLocation, error) {
	const q = `SELECT name, x, y, z FROM locations ORDER BY name`

	rows, err := l.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list locations: %w", err)
	}
	defer rows.Close()

	var out []types.NamedLocation
	for rows.Next() {
		var loc types.NamedLocation
		if err := rows.Scan(&loc.Name, &loc.Pos.X, &loc.Pos.Y, &loc.Pos.Z); err != nil {
			return nil, fmt.Errorf("postgres: scan location: %w", err)
		}
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list locations: %w", err)
	}
	return out, nil
}
