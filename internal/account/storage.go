package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/dirsync/internal/reconcile"
)

const accountColumns = `id, email, username, active, attributes, updated_at`

// ChangeFunc is notified after an account is created or updated outside of a sync
type ChangeFunc func(ctx context.Context, key string)

// Storage handles all database operations for accounts
type Storage struct {
	db       *sqlx.DB
	logger   *slog.Logger
	onChange ChangeFunc
}

var _ reconcile.Store[*Account] = (*Storage)(nil)

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// OnChange registers fn to be called after writes that did not come from a sync job
func (s *Storage) OnChange(fn ChangeFunc) {
	s.onChange = fn
}

// LoadAll returns every account whose normalized email matches filter.
// The filter runs in Go, never as a SQL regex.
func (s *Storage) LoadAll(ctx context.Context, filter reconcile.KeyFilter) ([]*Account, error) {
	var all []*Account
	if err := s.db.SelectContext(ctx, &all, `SELECT `+accountColumns+` FROM accounts`); err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	if filter.Empty() {
		return all, nil
	}

	accounts := all[:0]
	for _, a := range all {
		if filter.Match(a.Key()) {
			accounts = append(accounts, a)
		}
	}
	return accounts, nil
}

// LoadByKey returns the account with the normalized email key
func (s *Storage) LoadByKey(ctx context.Context, key string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(email) = $1`
	return s.get(ctx, query, reconcile.NormalizeKey(key))
}

// FindByUsername returns the account owning username
func (s *Storage) FindByUsername(ctx context.Context, username string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(username) = lower($1)`
	return s.get(ctx, query, username)
}

func (s *Storage) get(ctx context.Context, query string, arg interface{}) (*Account, error) {
	var a Account
	err := s.db.GetContext(ctx, &a, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reconcile.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

// Create inserts a new account
func (s *Storage) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.Email = reconcile.NormalizeKey(a.Email)
	a.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO accounts (id, email, username, active, attributes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query, a.ID, a.Email, a.Username, a.IsActive, a.Attributes, a.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return reconcile.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("Account created",
		slog.String("account_id", a.ID),
		slog.String("email", a.Email),
	)
	s.notify(ctx, a.Key())

	return nil
}

// Update saves every field of an existing account
func (s *Storage) Update(ctx context.Context, a *Account) error {
	a.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE accounts
		SET email = $1,
		    username = $2,
		    active = $3,
		    attributes = $4,
		    updated_at = $5
		WHERE id = $6
	`

	result, err := s.db.ExecContext(ctx, query, reconcile.NormalizeKey(a.Email), a.Username, a.IsActive, a.Attributes, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return reconcile.ErrRecordNotFound
	}

	s.logger.Info("Account updated",
		slog.String("account_id", a.ID),
		slog.String("email", a.Email),
	)
	s.notify(ctx, a.Key())

	return nil
}

// Delete removes the account with the normalized email key
func (s *Storage) Delete(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE lower(email) = $1`, reconcile.NormalizeKey(key))
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return reconcile.ErrRecordNotFound
	}

	s.logger.Info("Account deleted", slog.String("email", key))
	return nil
}

// notify reports a change unless ctx carries a sync job's write
func (s *Storage) notify(ctx context.Context, key string) {
	if s.onChange == nil {
		return
	}
	if reconcile.SyncInProgress(ctx) {
		s.logger.Debug("Change notification suppressed during sync", slog.String("email", key))
		return
	}
	s.onChange(ctx, key)
}
