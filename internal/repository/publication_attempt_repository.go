package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/maheshrc27/postqueue/internal/database"
	"github.com/maheshrc27/postqueue/internal/models"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// PublicationAttemptRepository keeps one row per publisher call.
type PublicationAttemptRepository interface {
	Create(ctx context.Context, tx *sql.Tx, a *models.PublicationAttempt) error
	ListByPublicationID(ctx context.Context, publicationID string) ([]*models.PublicationAttempt, error)
}

type publicationAttemptRepository struct {
	db *database.DB
}

func NewPublicationAttemptRepository(db *database.DB) PublicationAttemptRepository {
	return &publicationAttemptRepository{db: db}
}

func (r *publicationAttemptRepository) Create(ctx context.Context, tx *sql.Tx, a *models.PublicationAttempt) error {
	id, err := gonanoid.New()
	if err != nil {
		return err
	}
	a.ID = id
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO publication_attempts (id, publication_id, attempt, error_message, transient, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = conn(r.db, tx).ExecContext(ctx, r.db.Rebind(query),
		a.ID, a.PublicationID, a.Attempt, a.ErrorMessage, a.Transient, database.Millis(a.CreatedAt))
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publicationAttemptRepository) ListByPublicationID(ctx context.Context, publicationID string) ([]*models.PublicationAttempt, error) {
	query := `
		SELECT id, publication_id, attempt, error_message, transient, created_at
		FROM publication_attempts
		WHERE publication_id = $1
		ORDER BY created_at, attempt
	`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), publicationID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.PublicationAttempt
	for rows.Next() {
		var a models.PublicationAttempt
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.PublicationID, &a.Attempt, &a.ErrorMessage, &a.Transient, &createdAt); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		a.CreatedAt = database.FromMillis(createdAt)
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}
