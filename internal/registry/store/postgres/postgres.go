// Package postgres implements registry/store.Store on top of
// PostgreSQL via pgx, persisting the RegistryVersion/RegistryIndex rows
// described in spec §6.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowcore/flowcore/internal/registry"
	"github.com/flowcore/flowcore/internal/registry/store"
)

// pgUniqueViolation is Postgres error code 23505.
const pgUniqueViolation = "23505"

// Store persists registry versions in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store over an existing connection pool. The caller
// owns the pool's lifecycle.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the registry_versions table if it does not already
// exist. Callers that manage their own migrations can skip this and
// apply the equivalent DDL through their own tooling.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS registry_versions (
			origin     TEXT NOT NULL,
			version    TEXT NOT NULL,
			manifest   JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (origin, version)
		);
		CREATE TABLE IF NOT EXISTS registry_repositories (
			origin          TEXT PRIMARY KEY,
			current_version TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("registry/store/postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) SaveVersion(ctx context.Context, v registry.RegistryVersion) error {
	raw, err := json.Marshal(v.Manifest)
	if err != nil {
		return fmt.Errorf("registry/store/postgres: marshal manifest: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO registry_versions (origin, version, manifest) VALUES ($1, $2, $3)`,
		v.Origin, v.Version, raw,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return store.ErrVersionExists
		}
		return fmt.Errorf("registry/store/postgres: save version: %w", err)
	}
	return nil
}

func (s *Store) GetVersion(ctx context.Context, origin, version string) (registry.RegistryVersion, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT manifest FROM registry_versions WHERE origin = $1 AND version = $2`,
		origin, version,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return registry.RegistryVersion{}, store.ErrNotFound
	}
	if err != nil {
		return registry.RegistryVersion{}, fmt.Errorf("registry/store/postgres: get version: %w", err)
	}
	var manifest map[string]registry.ManifestAction
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return registry.RegistryVersion{}, fmt.Errorf("registry/store/postgres: decode manifest: %w", err)
	}
	return registry.RegistryVersion{Origin: origin, Version: version, Manifest: manifest}, nil
}

func (s *Store) LatestVersion(ctx context.Context, origin string) (string, error) {
	var version string
	err := s.pool.QueryRow(ctx,
		`SELECT version FROM registry_versions WHERE origin = $1 ORDER BY created_at DESC LIMIT 1`,
		origin,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("registry/store/postgres: latest version: %w", err)
	}
	return version, nil
}

func (s *Store) ListVersions(ctx context.Context, origin string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT version FROM registry_versions WHERE origin = $1 ORDER BY created_at ASC`,
		origin,
	)
	if err != nil {
		return nil, fmt.Errorf("registry/store/postgres: list versions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("registry/store/postgres: scan version: %w", err)
		}
		out = append(out, version)
	}
	return out, rows.Err()
}

func (s *Store) CurrentVersion(ctx context.Context, origin string) (string, error) {
	var version *string
	err := s.pool.QueryRow(ctx,
		`SELECT current_version FROM registry_repositories WHERE origin = $1`,
		origin,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) || version == nil {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("registry/store/postgres: current version: %w", err)
	}
	return *version, nil
}

func (s *Store) SetCurrentVersion(ctx context.Context, origin, version string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM registry_versions WHERE origin = $1 AND version = $2)`,
		origin, version,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("registry/store/postgres: check version exists: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO registry_repositories (origin, current_version) VALUES ($1, $2)
		ON CONFLICT (origin) DO UPDATE SET current_version = EXCLUDED.current_version
	`, origin, version)
	if err != nil {
		return fmt.Errorf("registry/store/postgres: set current version: %w", err)
	}
	return nil
}

func (s *Store) DeleteVersion(ctx context.Context, origin, version string) error {
	current, err := s.CurrentVersion(ctx, origin)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if current == version {
		return store.ErrVersionInUse
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM registry_versions WHERE origin = $1 AND version = $2`,
		origin, version,
	)
	if err != nil {
		return fmt.Errorf("registry/store/postgres: delete version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
