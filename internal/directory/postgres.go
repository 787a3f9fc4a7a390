package directory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"subgate/internal/metrics"
	"subgate/pkg/problems"
)

// Postgres is a Directory stored in two tables, for deployments that keep
// users outside Cognito.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the directory tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS directory_users (
  username text PRIMARY KEY,
  enabled boolean NOT NULL DEFAULT true,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS directory_group_members (
  username text NOT NULL REFERENCES directory_users(username) ON DELETE CASCADE,
  group_name text NOT NULL,
  added_at timestamptz NOT NULL DEFAULT NOW(),
  PRIMARY KEY (username, group_name)
);`)
	return err
}

// SeedUsers inserts usernames from a JSON array, e.g. ["jane","joe"]. Existing
// users are left untouched.
func SeedUsers(ctx context.Context, pool *pgxpool.Pool, jsonSeed string) error {
	names, err := ParseSeed(jsonSeed)
	if err != nil || len(names) == 0 {
		return err
	}
	for _, n := range names {
		if _, err := pool.Exec(ctx, `INSERT INTO directory_users(username) VALUES ($1) ON CONFLICT (username) DO NOTHING`, n); err != nil {
			return fmt.Errorf("seed %s: %w", n, err)
		}
	}
	return nil
}

func (p *Postgres) FindUsers(ctx context.Context, username string, includeDisabled bool) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT username FROM directory_users WHERE username=$1 AND (enabled OR $2)`, username, includeDisabled)
	if err != nil {
		return nil, fmt.Errorf("%w: find users: %v", problems.ErrUpstream, err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("%w: find users: %v", problems.ErrUpstream, err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: find users: %v", problems.ErrUpstream, err)
	}
	return names, nil
}

func (p *Postgres) AddUserToGroup(ctx context.Context, username, group string) error {
	tag, err := p.pool.Exec(ctx, `INSERT INTO directory_group_members(username, group_name)
	  SELECT username, $2 FROM directory_users WHERE username=$1
	  ON CONFLICT (username, group_name) DO NOTHING`, username, group)
	metrics.DirectoryMutations.WithLabelValues("add", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("%w: add user to group: %v", problems.ErrUpstream, err)
	}
	if tag.RowsAffected() == 0 {
		// Either already a member or the user vanished; only the latter is an error.
		var exists bool
		if err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM directory_users WHERE username=$1)`, username).Scan(&exists); err != nil {
			return fmt.Errorf("%w: add user to group: %v", problems.ErrUpstream, err)
		}
		if !exists {
			return fmt.Errorf("%w: user %s", problems.ErrCustomerNotFound, username)
		}
	}
	return nil
}

func (p *Postgres) RemoveUserFromGroup(ctx context.Context, username, group string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM directory_group_members WHERE username=$1 AND group_name=$2`, username, group)
	metrics.DirectoryMutations.WithLabelValues("remove", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("%w: remove user from group: %v", problems.ErrUpstream, err)
	}
	return nil
}

// IsMember reports whether username currently belongs to group.
func (p *Postgres) IsMember(ctx context.Context, username, group string) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM directory_group_members WHERE username=$1 AND group_name=$2)`, username, group).Scan(&ok)
	return ok, err
}
