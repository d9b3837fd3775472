package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goliatone/go-authn"
	"github.com/goliatone/go-authn/repository"
	"github.com/goliatone/go-authn/repository/pgstore"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	// DriverSQLite uses bun on sqlite
	DriverSQLite = "sqlite"
	// DriverPostgres uses bun on postgres through the pgx database/sql driver
	DriverPostgres = "postgres"
	// DriverPgx uses a pgx pool directly
	DriverPgx = "pgx"
)

// Store is an opened user directory
type Store struct {
	Directory authn.UserDirectory
	Create    func(ctx context.Context, user *authn.User) (*authn.User, error)
	Close     func()
}

// OpenStore opens the directory selected by the server config and migrates
// it when enabled.
func OpenStore(ctx context.Context, cfg ServerConfig) (*Store, error) {
	switch cfg.DBDriver {
	case DriverSQLite:
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return openBun(ctx, bun.NewDB(sqldb, sqlitedialect.New()), cfg)

	case DriverPostgres:
		sqldb, err := sql.Open("pgx", cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return openBun(ctx, bun.NewDB(sqldb, pgdialect.New()), cfg)

	case DriverPgx:
		pool, err := pgstore.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			return nil, err
		}

		dir := pgstore.NewDirectory(pool)
		if cfg.Migrate {
			if err := dir.Migrate(ctx); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}

		return &Store{
			Directory: dir,
			Create:    dir.Create,
			Close:     pool.Close,
		}, nil
	}

	return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
}

func openBun(ctx context.Context, db *bun.DB, cfg ServerConfig) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	mngr := repository.NewRepositoryManager(db)
	mngr.MustValidate()

	if cfg.Migrate {
		if err := mngr.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	users := mngr.Users()
	return &Store{
		Directory: users,
		Create:    users.Register,
		Close:     func() { _ = db.Close() },
	}, nil
}
