package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-authn"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the bun backed user directory
type Users interface {
	repository.Repository[*authn.User]
	authn.UserDirectory

	Register(ctx context.Context, user *authn.User) (*authn.User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *authn.User) (*authn.User, error)
	LookupByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*authn.User, error)
}

type users struct {
	repository.Repository[*authn.User]
	db *bun.DB
}

var (
	_ Users               = (*users)(nil)
	_ authn.UserDirectory = (*users)(nil)
)

// NewUsersRepository returns the user directory backed by db
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*authn.User](db, repository.ModelHandlers[*authn.User]{
		NewRecord: func() *authn.User { return &authn.User{} },
		GetID: func(u *authn.User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *authn.User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) LookupByUsername(ctx context.Context, username string) (*authn.User, error) {
	return a.LookupByUsernameTx(ctx, a.db, username)
}

// LookupByUsernameTx returns authn.ErrUserNotFound for absent users so the
// validator never mistakes absence for a database failure.
func (a *users) LookupByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*authn.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, authn.ErrUserNotFound
	}

	record := &authn.User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.username = ?", username).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
			return nil, authn.ErrUserNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "user lookup failed").
			WithMetadata(map[string]any{"operation": "users.lookup"})
	}

	return record, nil
}

func (a *users) Register(ctx context.Context, user *authn.User) (*authn.User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

// RegisterTx inserts user. PasswordHash must already hold a hash produced by
// the configured hasher.
func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *authn.User) (*authn.User, error) {
	if err := ValidateUser(user); err != nil {
		return nil, err
	}
	prepareUserDefaults(user)
	return a.Repository.CreateTx(ctx, tx, user)
}

// ValidateUser checks the fields a directory record needs
func ValidateUser(user *authn.User) error {
	if user == nil {
		return goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	err := validation.ValidateStruct(user,
		validation.Field(&user.Username, validation.Required, validation.Length(1, 255)),
		validation.Field(&user.Email, is.Email),
		validation.Field(&user.PasswordHash, validation.Required),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid user record").
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

func prepareUserDefaults(user *authn.User) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	now := time.Now().UTC()
	if user.CreatedAt == nil {
		user.CreatedAt = &now
	}
	if user.UpdatedAt == nil {
		user.UpdatedAt = &now
	}

	if user.Role == "" {
		user.Role = "member"
	}
}
