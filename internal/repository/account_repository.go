package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/postqueue/internal/database"
	"github.com/maheshrc27/postqueue/internal/errs"
	"github.com/maheshrc27/postqueue/internal/models"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type AccountRepository interface {
	Upsert(ctx context.Context, tx *sql.Tx, a *models.Account) error
	GetByHandle(ctx context.Context, handle string) (*models.Account, error)
	List(ctx context.Context, activeOnly bool) ([]*models.Account, error)
	SetSession(ctx context.Context, handle, sessionState string) error
	RecordPublish(ctx context.Context, tx *sql.Tx, handle string, ct models.ContentType, at time.Time) error
	Deactivate(ctx context.Context, handle string) (bool, error)
	Count(ctx context.Context) (total, active int64, err error)
}

type accountRepository struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, handle, external_id, encrypted_password, verification_method, session_state,
	last_used, active, posts_count, stories_count, reels_count, created_at, updated_at`

func scanAccount(row scanner) (*models.Account, error) {
	var a models.Account
	var lastUsed, createdAt, updatedAt int64
	err := row.Scan(&a.ID, &a.Handle, &a.ExternalID, &a.EncryptedPassword, &a.VerificationMethod,
		&a.SessionState, &lastUsed, &a.Active, &a.PostsCount, &a.StoriesCount, &a.ReelsCount,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.LastUsed = database.FromMillis(lastUsed)
	a.CreatedAt = database.FromMillis(createdAt)
	a.UpdatedAt = database.FromMillis(updatedAt)
	return &a, nil
}

// Upsert inserts the account or, when the handle already exists, overwrites its
// secret and session and marks it active again. Counters and history are kept.
func (r *accountRepository) Upsert(ctx context.Context, tx *sql.Tx, a *models.Account) error {
	if a.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return err
		}
		a.ID = id
	}
	now := time.Now().UTC()
	if a.VerificationMethod == "" {
		a.VerificationMethod = models.VerificationNone
	}

	query := `
		INSERT INTO accounts (
			id,
			handle,
			external_id,
			encrypted_password,
			verification_method,
			session_state,
			last_used,
			active,
			created_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $8)
		ON CONFLICT (handle) DO UPDATE SET
			external_id = excluded.external_id,
			encrypted_password = excluded.encrypted_password,
			verification_method = excluded.verification_method,
			session_state = excluded.session_state,
			last_used = excluded.last_used,
			active = TRUE,
			updated_at = excluded.updated_at
		RETURNING id, posts_count, stories_count, reels_count, created_at
	`

	var createdAt int64
	err := conn(r.db, tx).QueryRowContext(ctx, r.db.Rebind(query),
		a.ID,
		a.Handle,
		a.ExternalID,
		a.EncryptedPassword,
		string(a.VerificationMethod),
		a.SessionState,
		database.Millis(a.LastUsed),
		database.Millis(now),
	).Scan(&a.ID, &a.PostsCount, &a.StoriesCount, &a.ReelsCount, &createdAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	a.Active = true
	a.CreatedAt = database.FromMillis(createdAt)
	a.UpdatedAt = now
	return nil
}

func (r *accountRepository) GetByHandle(ctx context.Context, handle string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE handle = $1`
	a, err := scanAccount(r.db.QueryRowContext(ctx, r.db.Rebind(query), handle))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrAccountNotFound
		}
		slog.Info(err.Error())
		return nil, err
	}
	return a, nil
}

func (r *accountRepository) List(ctx context.Context, activeOnly bool) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY handle`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepository) SetSession(ctx context.Context, handle, sessionState string) error {
	query := `UPDATE accounts SET session_state = $2, updated_at = $3 WHERE handle = $1`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query), handle, sessionState, database.Millis(time.Now()))
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// RecordPublish bumps the counter matching ct and stamps last_used.
func (r *accountRepository) RecordPublish(ctx context.Context, tx *sql.Tx, handle string, ct models.ContentType, at time.Time) error {
	var column string
	switch ct {
	case models.ContentPost:
		column = "posts_count"
	case models.ContentStory:
		column = "stories_count"
	case models.ContentReel:
		column = "reels_count"
	default:
		return fmt.Errorf("unknown content type %q", ct)
	}

	query := `
		UPDATE accounts
		SET ` + column + ` = ` + column + ` + 1,
			last_used = $2,
			updated_at = $2
		WHERE handle = $1
	`
	result, err := conn(r.db, tx).ExecContext(ctx, r.db.Rebind(query), handle, database.Millis(at))
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return errs.ErrAccountNotFound
	}
	return nil
}

// Deactivate soft-deletes the account. It reports false when the handle is
// unknown or already inactive.
func (r *accountRepository) Deactivate(ctx context.Context, handle string) (bool, error) {
	query := `
		UPDATE accounts
		SET active = FALSE,
			session_state = '',
			updated_at = $2
		WHERE handle = $1 AND active = TRUE
	`
	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), handle, database.Millis(time.Now()))
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *accountRepository) Count(ctx context.Context) (int64, int64, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN active THEN 1 ELSE 0 END), 0) FROM accounts`
	var total, active int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&total, &active); err != nil {
		slog.Info(err.Error())
		return 0, 0, err
	}
	return total, active, nil
}
