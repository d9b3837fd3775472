// Package pgstore is a user directory reading straight from PostgreSQL
// through a pgx pool, for deployments that do not use bun.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-authn"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes the connection pool
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPoolOptions are used by NewPool when no options are given
var DefaultPoolOptions = PoolOptions{
	MaxConns:        20,
	MinConns:        2,
	MaxConnLifetime: 30 * time.Minute,
	MaxConnIdleTime: 10 * time.Minute,
	ConnectTimeout:  5 * time.Second,
}

// NewPool opens and pings a pgx pool for dsn
func NewPool(ctx context.Context, dsn string, opts ...PoolOptions) (*pgxpool.Pool, error) {
	o := DefaultPoolOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if o.MaxConns > 0 {
		poolConfig.MaxConns = o.MaxConns
	}
	if o.MinConns > 0 {
		poolConfig.MinConns = o.MinConns
	}
	if o.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = o.MaxConnLifetime
	}
	if o.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = o.MaxConnIdleTime
	}

	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultPoolOptions.ConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

const createUsersSQL = `CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	username VARCHAR NOT NULL UNIQUE,
	email VARCHAR,
	first_name VARCHAR,
	last_name VARCHAR,
	user_role VARCHAR,
	password_hash VARCHAR NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const selectUserSQL = `SELECT id, username, COALESCE(email, ''), COALESCE(first_name, ''),
	COALESCE(last_name, ''), COALESCE(user_role, ''), password_hash, created_at, updated_at
	FROM users
	WHERE username = $1`

const insertUserSQL = `INSERT INTO users (id, username, email, first_name, last_name, user_role, password_hash)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING created_at, updated_at`

// Directory implements authn.UserDirectory on a pgx pool
type Directory struct {
	db *pgxpool.Pool
}

var _ authn.UserDirectory = (*Directory)(nil)

// NewDirectory returns a directory reading from db
func NewDirectory(db *pgxpool.Pool) *Directory {
	return &Directory{db: db}
}

// Migrate creates the users table if missing
func (d *Directory) Migrate(ctx context.Context) error {
	_, err := d.db.Exec(ctx, createUsersSQL)
	return err
}

// LookupByUsername implements authn.UserDirectory
func (d *Directory) LookupByUsername(ctx context.Context, username string) (*authn.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, authn.ErrUserNotFound
	}

	var (
		u                    authn.User
		createdAt, updatedAt time.Time
	)

	err := d.db.QueryRow(ctx, selectUserSQL, username).Scan(
		&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName,
		&u.Role, &u.PasswordHash, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authn.ErrUserNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "user lookup failed").
			WithMetadata(map[string]any{"operation": "pgstore.lookup"})
	}

	u.CreatedAt = &createdAt
	u.UpdatedAt = &updatedAt
	return &u, nil
}

// Create inserts user, assigning an id when missing
func (d *Directory) Create(ctx context.Context, user *authn.User) (*authn.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	var createdAt, updatedAt time.Time
	err := d.db.QueryRow(ctx, insertUserSQL,
		user.ID, user.Username, user.Email, user.FirstName,
		user.LastName, user.Role, user.PasswordHash,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	user.CreatedAt = &createdAt
	user.UpdatedAt = &updatedAt
	return user, nil
}
