package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-authn"
	"github.com/uptrace/bun"
)

// Manager groups the repositories sharing a database handle
type Manager struct {
	db    *bun.DB
	users Users
}

// NewRepositoryManager returns a manager for db
func NewRepositoryManager(db *bun.DB) *Manager {
	return &Manager{
		db:    db,
		users: NewUsersRepository(db),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

// Migrate creates the tables the directory reads from
func (m *Manager) Migrate(ctx context.Context) error {
	_, err := m.db.NewCreateTable().
		Model((*authn.User)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m *Manager) Users() Users {
	return m.users
}
